package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexushub/internal/audit"
	"github.com/haasonsaas/nexushub/internal/events"
	"github.com/haasonsaas/nexushub/internal/faults"
	"github.com/haasonsaas/nexushub/internal/identity"
	"github.com/haasonsaas/nexushub/internal/infra"
	"github.com/haasonsaas/nexushub/internal/observability"
	"github.com/haasonsaas/nexushub/internal/providers"
	"github.com/haasonsaas/nexushub/internal/reflection"
	"github.com/haasonsaas/nexushub/internal/storage"
	"github.com/haasonsaas/nexushub/internal/usage"
	"github.com/haasonsaas/nexushub/pkg/models"
)

const (
	stepFailed       = "failed"
	toolNotFoundBody = `{"error":"tool not found"}`
)

// turn is the state of one inbound message while it is processed.
type turn struct {
	o       *Orchestrator
	ec      identity.ExecutionContext
	inbound models.CanonicalMessage
	start   time.Time
	span    trace.Span

	tc             *models.TenantContext
	channelID      string
	conversationID string
	inboundID      string

	plan     *models.Plan
	task     *models.Task
	taskDone bool
	results  []reflection.StepResult

	answer            string
	annotations       []providers.Annotation
	toolCallsExecuted int
}

func (t *turn) run(ctx context.Context) (*Outbound, error) {
	o := t.o
	tenantID := t.ec.TenantID()

	tc, err := o.tenants.Load(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant %s: %w", tenantID, err)
	}
	t.tc = tc
	observability.MarkState(t.span, StateContextResolved)

	if err := t.openSession(ctx); err != nil {
		return nil, err
	}

	history, err := o.store.RecentMessages(ctx, tenantID, t.conversationID, o.config.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	history = withoutMessage(history, t.inboundID)
	observability.MarkState(t.span, StateHistoryLoaded)

	allowed, err := o.tools.AllowedTools(ctx, tc)
	if err != nil {
		return nil, fmt.Errorf("load allowed tools: %w", err)
	}

	t.planGoal(ctx, allowed)

	messages := o.builder.Build(tc, history, &t.inbound)
	if t.plan != nil {
		messages = withPlanGuidance(messages, t.plan)
	}
	req := &providers.Request{
		Model:                tc.LLMModel,
		Messages:             messages,
		Tools:                allowed,
		VectorStoreIDs:       tc.VectorStoreIDs(),
		FileSearchStoreNames: tc.FileSearchStoreNames(),
	}
	if err := t.loop(ctx, req); err != nil {
		return nil, err
	}
	return t.respond(ctx)
}

// openSession resolves the channel and conversation, then persists the
// inbound message.
func (t *turn) openSession(ctx context.Context) error {
	o := t.o
	tenantID := t.ec.TenantID()

	channelID := t.inbound.MetadataString("channel_id")
	if channelID == "" {
		id, err := o.store.ResolveChannelID(ctx, tenantID, t.inbound.Channel)
		if err != nil {
			return fmt.Errorf("resolve channel: %w", err)
		}
		channelID = id
	}
	t.channelID = channelID

	convID, err := o.store.GetOrCreateConversation(ctx, tenantID, channelID, t.inbound.MetadataString("external_thread_id"))
	if err != nil {
		return fmt.Errorf("resolve conversation: %w", err)
	}
	t.conversationID = convID
	t.ec = t.ec.WithConversation(convID)
	t.inbound.ConversationID = convID

	o.logEvent(ctx, &events.Event{
		TenantID:       tenantID,
		ConversationID: convID,
		Type:           events.InboundMessage,
		Provider:       "channel",
		Status:         events.StatusSuccess,
		Payload: map[string]any{
			"channel":           string(t.inbound.Channel),
			"source_message_id": t.inbound.SourceMessageID,
		},
	})

	msgID, err := o.store.InsertMessage(ctx, &t.inbound, channelID)
	if err != nil {
		return fmt.Errorf("persist inbound message: %w", err)
	}
	t.inboundID = msgID
	t.inbound.ID = msgID
	return nil
}

// planGoal creates a plan and task when the tenant plans and the message
// reads like a goal. Any planning failure falls back to the reactive loop.
func (t *turn) planGoal(ctx context.Context, allowed []models.ToolDefinition) {
	o := t.o
	goal := strings.TrimSpace(t.inbound.Content.Text)
	if o.planner == nil || !t.tc.PlanningEnabled || utf8.RuneCountInString(goal) < o.config.MinGoalLength {
		return
	}
	observability.MarkState(t.span, StatePlanning)

	tenantID := t.ec.TenantID()
	planCtx, cancel := context.WithTimeout(ctx, t.tc.EffectivePlanTimeout())
	defer cancel()

	plan, err := o.planner.CreatePlan(planCtx, t.tc, goal, allowed, t.conversationID, t.inboundID)
	if err != nil {
		o.logger.Warn("plan generation failed, continuing without a plan",
			"tenant_id", tenantID,
			"conversation_id", t.conversationID,
			"error", err,
		)
		o.logEvent(ctx, &events.Event{
			TenantID:       tenantID,
			ConversationID: t.conversationID,
			MessageID:      t.inboundID,
			Type:           events.PlanFailed,
			Status:         events.StatusFailure,
			Payload:        map[string]any{"error": faults.Sanitize(err)},
		})
		return
	}
	t.plan = plan
	o.logEvent(ctx, &events.Event{
		TenantID:       tenantID,
		ConversationID: t.conversationID,
		MessageID:      t.inboundID,
		Type:           events.PlanCreated,
		Status:         events.StatusSuccess,
		Payload: map[string]any{
			"plan_id":    plan.ID,
			"steps":      len(plan.Steps),
			"complexity": plan.Complexity,
		},
	})

	if o.tasks == nil {
		return
	}
	task, err := o.tasks.Create(planCtx, tenantID, goal, plan.ID, t.conversationID)
	if err != nil {
		o.logger.Warn("failed to create task", "tenant_id", tenantID, "plan_id", plan.ID, "error", err)
		return
	}
	t.task = task
	if err := o.tasks.UpdateState(planCtx, tenantID, task.ID, 0, nil, models.TaskExecuting); err != nil {
		o.logger.Warn("failed to start task", "task_id", task.ID, "error", err)
	} else {
		task.Status = models.TaskExecuting
	}
	if err := o.planner.UpdateStatus(planCtx, tenantID, plan.ID, models.PlanExecuting); err != nil {
		o.logger.Warn("failed to mark plan executing", "plan_id", plan.ID, "error", err)
	}
}

// loop alternates LLM calls and tool executions until the model answers
// without tool calls or the tenant's step budget is spent.
func (t *turn) loop(ctx context.Context, req *providers.Request) error {
	o := t.o
	maxSteps := t.tc.EffectiveMaxToolSteps()
	for step := 0; step < maxSteps; step++ {
		observability.MarkState(t.span, StateCallingLLM)
		resp, err := t.callLLM(ctx, req, step)
		if err != nil {
			return t.llmFailed(ctx, req, err, step)
		}
		t.answer = resp.Text
		t.annotations = resp.Annotations
		if !resp.HasToolCalls() {
			return nil
		}

		req.Messages = append(req.Messages, providers.Message{
			Role:      models.RoleAssistant,
			Content:   resp.Text,
			ToolCalls: resp.ToolCalls,
		})
		observability.MarkState(t.span, StateExecutingTools)
		for _, call := range resp.ToolCalls {
			req.Messages = append(req.Messages, t.executeTool(ctx, req.Tools, call))
		}
	}
	o.logger.Info("tool step limit reached",
		"tenant_id", t.ec.TenantID(),
		"conversation_id", t.conversationID,
		"max_tool_steps", maxSteps,
	)
	return nil
}

func (t *turn) callLLM(ctx context.Context, req *providers.Request, step int) (*providers.Response, error) {
	o := t.o
	tenantID := t.ec.TenantID()
	provider, model := t.tc.LLMProvider, t.tc.LLMModel

	llmCtx, span := o.tracer.TraceLLMCall(ctx, provider, model, step)
	defer span.End()

	policy := o.config.LLMRetry
	policy.OnRetry = func(ctx context.Context, err error, attempt int, delay time.Duration) {
		o.logger.Warn("retrying llm call",
			"tenant_id", tenantID,
			"provider", provider,
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		o.logEvent(ctx, &events.Event{
			TenantID:       tenantID,
			ConversationID: t.conversationID,
			MessageID:      t.inboundID,
			Type:           events.LLMCallRetry,
			Provider:       provider,
			Status:         events.StatusRetry,
			Payload: map[string]any{
				"attempt":  attempt,
				"delay_ms": delay.Milliseconds(),
				"category": string(faults.KindOf(err)),
				"error":    faults.Sanitize(err),
			},
		})
	}

	start := o.now()
	resp, err := infra.ResilientCall(llmCtx, infra.Resilience{
		Breaker: o.breaker(provider),
		Retry:   policy,
		Timeout: o.config.LLMTimeout,
	}, func(ctx context.Context) (*providers.Response, error) {
		return o.llm.Call(ctx, provider, req)
	})
	latency := o.now().Sub(start)
	if err != nil {
		status := events.StatusFailure
		if faults.Is(err, faults.KindCircuitOpen) {
			status = "circuit_open"
		}
		o.metrics.RecordLLMCall(provider, model, status, latency.Seconds(), 0, 0)
		observability.RecordError(span, err)
		return nil, err
	}
	if resp == nil {
		resp = &providers.Response{}
	}

	o.metrics.RecordLLMCall(provider, model, events.StatusSuccess, latency.Seconds(),
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	cost := o.prices.LLMCost(provider, model, usage.Usage{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
		TotalTokens:  int64(resp.Usage.TotalTokens),
	})
	t.recordTrace(ctx, req, resp)
	o.logEvent(ctx, &events.Event{
		TenantID:       tenantID,
		ConversationID: t.conversationID,
		MessageID:      t.inboundID,
		Type:           events.LLMCallCompleted,
		Provider:       provider,
		Status:         events.StatusSuccess,
		Latency:        latency,
		Cost:           cost,
		Payload: map[string]any{
			"model":             model,
			"step":              step,
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"tool_calls":        len(resp.ToolCalls),
		},
	})
	return resp, nil
}

type traceTool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type failedTraceResponse struct {
	Error    string `json:"error"`
	Category string `json:"category"`
	ErrorID  string `json:"error_id"`
}

// recordFailedTrace stores the request of a failed call with the sanitized
// error in place of a response.
func (t *turn) recordFailedTrace(ctx context.Context, req *providers.Request, err error, errorID string) {
	t.recordTrace(ctx, req, failedTraceResponse{
		Error:    faults.Sanitize(err),
		Category: string(faults.KindOf(err)),
		ErrorID:  errorID,
	})
}

// recordTrace stores the raw exchange for debugging. Failures are logged
// and ignored.
func (t *turn) recordTrace(ctx context.Context, req *providers.Request, resp any) {
	o := t.o
	toolList := make([]traceTool, 0, len(req.Tools))
	for _, def := range req.Tools {
		toolList = append(toolList, traceTool{Name: def.Name, Description: def.Description})
	}
	reqJSON, err := json.Marshal(map[string]any{"messages": req.Messages, "tools": toolList})
	if err != nil {
		o.logger.Warn("failed to encode llm trace request", "error", err)
		return
	}
	respJSON, err := json.Marshal(resp)
	if err != nil {
		o.logger.Warn("failed to encode llm trace response", "error", err)
		return
	}
	err = o.store.InsertLLMTrace(ctx, &storage.LLMTrace{
		TenantID:       t.ec.TenantID(),
		ConversationID: t.conversationID,
		MessageID:      t.inboundID,
		Provider:       t.tc.LLMProvider,
		Model:          t.tc.LLMModel,
		Request:        reqJSON,
		Response:       respJSON,
	})
	if err != nil {
		o.logger.Warn("failed to persist llm trace", "tenant_id", t.ec.TenantID(), "error", err)
	}
}

func (t *turn) llmFailed(ctx context.Context, req *providers.Request, err error, step int) error {
	o := t.o
	errorID := newErrorID()
	o.logger.Error("llm call failed",
		"error_id", errorID,
		"tenant_id", t.ec.TenantID(),
		"conversation_id", t.conversationID,
		"provider", t.tc.LLMProvider,
		"step", step,
		"error", err,
	)
	o.logEvent(ctx, &events.Event{
		TenantID:       t.ec.TenantID(),
		ConversationID: t.conversationID,
		MessageID:      t.inboundID,
		Type:           events.LLMCallFailed,
		Provider:       t.tc.LLMProvider,
		Status:         events.StatusFailure,
		Payload: map[string]any{
			"error":    faults.Sanitize(err),
			"category": string(faults.KindOf(err)),
			"error_id": errorID,
			"step":     step,
		},
	})
	t.recordFailedTrace(ctx, req, err, errorID)
	t.failTask(ctx)
	return llmPublicError(err, errorID)
}

// executeTool runs one model-requested tool and returns the tool turn fed
// back to the model.
func (t *turn) executeTool(ctx context.Context, defs []models.ToolDefinition, call models.ToolCall) providers.Message {
	o := t.o
	args := parseArguments(call.Input)
	def := findTool(defs, call.Name)
	if def == nil {
		return t.toolNotFound(ctx, call, args)
	}
	provider := string(def.Provider)

	toolCtx, span := o.tracer.TraceToolCall(ctx, def.Name, provider)
	defer span.End()

	start := o.now()
	exec, err := o.engine.ExecuteReport(toolCtx, t.tc, def, args, t.ec)
	latency := o.now().Sub(start)

	logged := &events.ToolCall{
		TenantID:       t.ec.TenantID(),
		ConversationID: t.conversationID,
		MessageID:      t.inboundID,
		ToolID:         def.ID,
		ToolName:       def.Name,
		Provider:       provider,
		Arguments:      args,
		Status:         events.StatusSuccess,
		Latency:        latency,
		Cost:           o.prices.ToolCost(provider, def.Name, latency),
		Execution:      t.ec,
	}
	if exec != nil {
		logged.Arguments = exec.Arguments
		logged.Result = exec.Result
		logged.ArgumentOverrides = exec.Overrides
		logged.ValidationWarnings = exec.Warnings
	}

	var content string
	if err != nil {
		observability.RecordError(span, err)
		logged.Status = events.StatusFailure
		logged.Error = err.Error()
		content = encodeToolError(faults.Sanitize(err))
		t.recordStep(def.Name, stepFailed, faults.Sanitize(err))
	} else {
		content = encodeToolResult(exec.Result)
		t.toolCallsExecuted++
		t.recordStep(def.Name, reflection.StepStatusSuccess, "")
	}
	o.metrics.RecordToolCall(def.Name, provider, logged.Status, latency.Seconds())
	o.logToolCall(ctx, logged)
	t.saveProgress(ctx)

	return providers.Message{
		Role:       models.RoleTool,
		Content:    content,
		ToolCallID: call.ID,
		Name:       def.Name,
	}
}

func (t *turn) toolNotFound(ctx context.Context, call models.ToolCall, args map[string]any) providers.Message {
	o := t.o
	o.audit.Log(ctx, audit.ToolNotFound(t.ec, call.Name))
	o.logger.Warn("model requested an unknown tool",
		"tenant_id", t.ec.TenantID(),
		"conversation_id", t.conversationID,
		"tool", call.Name,
	)
	o.metrics.RecordToolCall(call.Name, "unknown", events.StatusFailure, 0)
	o.logToolCall(ctx, &events.ToolCall{
		TenantID:       t.ec.TenantID(),
		ConversationID: t.conversationID,
		MessageID:      t.inboundID,
		ToolName:       call.Name,
		Provider:       "unknown",
		Arguments:      args,
		Status:         events.StatusFailure,
		Error:          fmt.Sprintf("Tool %s not found", call.Name),
		Execution:      t.ec,
	})
	t.recordStep(call.Name, stepFailed, "tool not found")
	t.saveProgress(ctx)

	return providers.Message{
		Role:       models.RoleTool,
		Content:    toolNotFoundBody,
		ToolCallID: call.ID,
		Name:       call.Name,
	}
}

func (t *turn) recordStep(tool, status, errMsg string) {
	t.results = append(t.results, reflection.StepResult{
		Number:   len(t.results) + 1,
		Status:   status,
		ToolName: tool,
		Error:    errMsg,
	})
}

func (t *turn) taskState() map[string]any {
	results := make([]map[string]any, len(t.results))
	for i, r := range t.results {
		entry := map[string]any{"step": r.Number, "tool": r.ToolName, "status": r.Status}
		if r.Error != "" {
			entry["error"] = r.Error
		}
		results[i] = entry
	}
	return map[string]any{
		"step_results":        results,
		"tool_calls_executed": t.toolCallsExecuted,
	}
}

// saveProgress records the step results on the task and moves the plan on
// to the next step.
func (t *turn) saveProgress(ctx context.Context) {
	if t.taskDone {
		return
	}
	o := t.o
	if t.task != nil {
		if err := o.tasks.UpdateState(ctx, t.ec.TenantID(), t.task.ID, len(t.results), t.taskState(), ""); err != nil {
			o.logger.Warn("failed to update task state", "task_id", t.task.ID, "error", err)
		}
	}
	if t.plan == nil {
		return
	}
	plan, err := o.planner.RefinePlan(ctx, t.tc, t.plan.ID, len(t.results)+1)
	if err != nil {
		o.logger.Warn("failed to refine plan", "plan_id", t.plan.ID, "error", err)
		return
	}
	t.plan.Steps = plan.Steps
}

// respond persists the outbound reply and settles the task.
func (t *turn) respond(ctx context.Context) (*Outbound, error) {
	o := t.o
	tenantID := t.ec.TenantID()
	observability.MarkState(t.span, StateResponding)

	metadata := map[string]any{}
	if len(t.annotations) > 0 {
		metadata["annotations"] = t.annotations
		if ids := providers.FileIDs(t.annotations); len(ids) > 0 {
			metadata["file_ids"] = ids
		}
	}
	out := &Outbound{ToolCallsExecuted: t.toolCallsExecuted}
	if t.plan != nil {
		metadata["plan_id"] = t.plan.ID
		out.PlanID = t.plan.ID
	}
	if t.task != nil {
		metadata["task_id"] = t.task.ID
		out.TaskID = t.task.ID
	}

	out.Message = models.CanonicalMessage{
		TenantID:       tenantID,
		ConversationID: t.conversationID,
		Channel:        t.inbound.Channel,
		Direction:      models.DirectionOutbound,
		From:           models.MessageParty{Type: models.PartyBot, ExternalID: BotID},
		To:             t.inbound.From,
		Content:        models.MessageContent{Type: "text", Text: t.answer},
		Metadata:       metadata,
		Timestamp:      o.now().UTC(),
	}
	msgID, err := o.store.InsertMessage(ctx, &out.Message, t.channelID)
	if err != nil {
		return nil, fmt.Errorf("persist outbound message: %w", err)
	}
	out.Message.ID = msgID

	latency := o.now().Sub(t.start)
	o.logEvent(ctx, &events.Event{
		TenantID:       tenantID,
		ConversationID: t.conversationID,
		MessageID:      msgID,
		Type:           events.OutboundMessage,
		Provider:       t.tc.LLMProvider,
		Status:         events.StatusSuccess,
		Latency:        latency,
		Payload:        map[string]any{"tool_calls_executed": t.toolCallsExecuted},
	})
	if err := o.store.UpdateConversationStats(ctx, tenantID, t.conversationID, storage.StatsUpdate{}); err != nil {
		o.logger.Warn("failed to update conversation stats", "conversation_id", t.conversationID, "error", err)
	}
	observability.MarkState(t.span, StatePersisted)

	t.finishTask(ctx)
	out.LatencyMs = latency.Milliseconds()
	return out, nil
}

// finishTask completes the task, or fails it when the turn produced neither
// an answer nor a successful tool call.
func (t *turn) finishTask(ctx context.Context) {
	if t.task == nil || t.taskDone {
		return
	}
	if strings.TrimSpace(t.answer) == "" && t.toolCallsExecuted == 0 {
		t.failTask(ctx)
		return
	}

	o := t.o
	tenantID := t.ec.TenantID()
	t.taskDone = true
	state := t.taskState()
	state["response"] = t.answer
	if err := o.tasks.Complete(ctx, tenantID, t.task.ID, state); err != nil {
		o.logger.Warn("failed to complete task", "task_id", t.task.ID, "error", err)
	}
	if err := o.planner.UpdateStatus(ctx, tenantID, t.plan.ID, models.PlanCompleted); err != nil {
		o.logger.Warn("failed to mark plan completed", "plan_id", t.plan.ID, "error", err)
	}

	outcome := reflection.OutcomeSuccess
	for _, r := range t.results {
		if r.Status != reflection.StepStatusSuccess {
			outcome = reflection.OutcomePartial
			break
		}
	}
	t.reflect(ctx, outcome)
}

func (t *turn) failTask(ctx context.Context) {
	if t.task == nil || t.taskDone {
		return
	}
	o := t.o
	tenantID := t.ec.TenantID()
	t.taskDone = true
	if err := o.tasks.Fail(ctx, tenantID, t.task.ID, t.taskState(), len(t.results)); err != nil {
		o.logger.Warn("failed to fail task", "task_id", t.task.ID, "error", err)
	}
	if err := o.planner.UpdateStatus(ctx, tenantID, t.plan.ID, models.PlanFailed); err != nil {
		o.logger.Warn("failed to mark plan failed", "plan_id", t.plan.ID, "error", err)
	}
	t.reflect(ctx, reflection.OutcomeFailed)
}

// reflect records an insight for the finished task. It never fails the turn.
func (t *turn) reflect(ctx context.Context, outcome string) {
	o := t.o
	if o.reflector == nil || t.plan == nil || t.task == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("reflection panicked", "plan_id", t.plan.ID, "panic", r)
		}
	}()
	if _, err := o.reflector.Reflect(ctx, t.tc, t.plan.ID, t.task.ID, t.results, outcome); err != nil {
		o.logger.Warn("reflection failed", "plan_id", t.plan.ID, "task_id", t.task.ID, "error", err)
		o.logEvent(ctx, &events.Event{
			TenantID:       t.ec.TenantID(),
			ConversationID: t.conversationID,
			MessageID:      t.inboundID,
			Type:           events.ReflectionFailed,
			Status:         events.StatusFailure,
			Payload:        map[string]any{"plan_id": t.plan.ID, "error": faults.Sanitize(err)},
		})
	}
}

func parseArguments(raw json.RawMessage) map[string]any {
	args := map[string]any{}
	if len(raw) == 0 {
		return args
	}
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

func findTool(defs []models.ToolDefinition, name string) *models.ToolDefinition {
	for i := range defs {
		if defs[i].Name == name {
			return &defs[i]
		}
	}
	return nil
}

func encodeToolResult(result map[string]any) string {
	if result == nil {
		result = map[string]any{}
	}
	b, err := json.Marshal(result)
	if err != nil {
		return encodeToolError("tool result could not be encoded")
	}
	return string(b)
}

func encodeToolError(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func withoutMessage(history []models.CanonicalMessage, id string) []models.CanonicalMessage {
	out := history[:0:0]
	for _, m := range history {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}

// withPlanGuidance inserts the plan as a system turn ahead of the current
// user message.
func withPlanGuidance(messages []providers.Message, plan *models.Plan) []providers.Message {
	var b strings.Builder
	b.WriteString("Work through this plan to accomplish the user's goal:")
	for _, step := range plan.Steps {
		fmt.Fprintf(&b, "\n%d. %s", step.Number, step.Description)
		if step.ToolName != nil {
			fmt.Fprintf(&b, " (tool: %s)", *step.ToolName)
		}
	}
	guidance := providers.Message{Role: models.RoleSystem, Content: b.String()}
	if len(messages) == 0 {
		return []providers.Message{guidance}
	}
	last := len(messages) - 1
	out := make([]providers.Message, 0, len(messages)+1)
	out = append(out, messages[:last]...)
	return append(out, guidance, messages[last])
}
