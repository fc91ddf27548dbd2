package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/nexushub/internal/observability"
)

// Recorder accepts audit events. Implementations must not block.
type Recorder interface {
	Log(ctx context.Context, event *Event)
}

// Nop discards every event.
type Nop struct{}

// Log implements Recorder.
func (Nop) Log(context.Context, *Event) {}

// Sink receives events from the writer goroutine. A failing sink is logged
// and skipped; it never affects producers.
type Sink interface {
	Write(ctx context.Context, event *Event) error
}

// Logger writes audit events asynchronously.
//
//	logger, _ := audit.NewLogger(audit.DefaultConfig(), audit.WithDropHook(metrics.AuditEventDropped))
//	defer logger.Close()
//	logger.Log(ctx, audit.ParamOverride(ec, "lookup_order", []string{"user_id"}))
type Logger struct {
	config     Config
	output     io.WriteCloser
	slogger    *slog.Logger
	sinks      []Sink
	buffer     chan *Event
	wg         sync.WaitGroup
	done       chan struct{}
	closeOnce  sync.Once
	eventTypes map[EventType]bool
	onDrop     func()
	dropped    atomic.Int64
	now        func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithSink adds a secondary sink such as a Redis stream.
func WithSink(s Sink) Option {
	return func(l *Logger) { l.sinks = append(l.sinks, s) }
}

// WithDropHook is called each time an event is dropped.
func WithDropHook(fn func()) Option {
	return func(l *Logger) { l.onDrop = fn }
}

// WithWriter replaces the configured output. The writer is not closed.
func WithWriter(w io.Writer) Option {
	return func(l *Logger) { l.output = nopCloser{w} }
}

// NewLogger creates an audit logger and starts its writer goroutine.
func NewLogger(config Config, opts ...Option) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.Level == "" {
		config.Level = LevelInfo
	}

	l := &Logger{
		config:     config,
		buffer:     make(chan *Event, config.BufferSize),
		done:       make(chan struct{}),
		eventTypes: make(map[EventType]bool),
		now:        time.Now,
	}
	for _, et := range config.EventTypes {
		l.eventTypes[et] = true
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.output == nil {
		output, err := openOutput(config.Output)
		if err != nil {
			return nil, err
		}
		l.output = output
	}

	handlerOpts := &slog.HandlerOptions{Level: slogLevel(config.Level)}
	var handler slog.Handler
	if config.Format == FormatText {
		handler = slog.NewTextHandler(l.output, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(l.output, handlerOpts)
	}
	l.slogger = slog.New(handler).With("component", "audit")

	l.wg.Add(1)
	go l.writeLoop()
	return l, nil
}

func openOutput(output string) (io.WriteCloser, error) {
	switch {
	case output == "stdout" || output == "":
		return nopCloser{os.Stdout}, nil
	case output == "stderr":
		return nopCloser{os.Stderr}, nil
	case strings.HasPrefix(output, "file:"):
		path := strings.TrimPrefix(output, "file:")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log file: %w", err)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported audit output: %s", output)
	}
}

// Log enqueues an event. It never blocks: if the buffer is full the event
// is dropped and the drop hook fires.
func (l *Logger) Log(ctx context.Context, event *Event) {
	if l == nil || !l.config.Enabled || event == nil {
		return
	}
	if len(l.eventTypes) > 0 && !l.eventTypes[event.Type] {
		return
	}
	if event.Level == "" {
		event.Level = LevelInfo
	}
	if !l.shouldLog(event.Level) {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.TraceID == "" {
		event.TraceID = observability.GetTraceID(ctx)
	}

	select {
	case l.buffer <- event:
	default:
		l.dropped.Add(1)
		if l.onDrop != nil {
			l.onDrop()
		}
	}
}

// Dropped returns how many events were dropped since start.
func (l *Logger) Dropped() int64 {
	if l == nil {
		return 0
	}
	return l.dropped.Load()
}

// Close drains buffered events and stops the writer.
func (l *Logger) Close() error {
	if l == nil || !l.config.Enabled {
		return nil
	}
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		l.wg.Wait()
		err = l.output.Close()
	})
	return err
}

func (l *Logger) writeLoop() {
	defer l.wg.Done()
	for {
		select {
		case event := <-l.buffer:
			l.writeEvent(event)
		case <-l.done:
			for {
				select {
				case event := <-l.buffer:
					l.writeEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) writeEvent(event *Event) {
	attrs := []any{
		"audit_id", event.ID,
		"audit_type", event.Type,
		"action", event.Action,
		"timestamp", event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.TenantID != "" {
		attrs = append(attrs, "tenant_id", event.TenantID)
	}
	if event.UserExternalID != "" {
		attrs = append(attrs, "user_external_id", event.UserExternalID)
	}
	if event.ConversationID != "" {
		attrs = append(attrs, "conversation_id", event.ConversationID)
	}
	if event.Channel != "" {
		attrs = append(attrs, "channel", event.Channel)
	}
	if event.ToolName != "" {
		attrs = append(attrs, "tool_name", event.ToolName)
	}
	if event.TraceID != "" {
		attrs = append(attrs, "trace_id", event.TraceID)
	}
	if event.Duration > 0 {
		attrs = append(attrs, "duration_ms", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}
	for k, v := range event.Details {
		attrs = append(attrs, k, v)
	}

	switch event.Level {
	case LevelDebug:
		l.slogger.Debug("audit", attrs...)
	case LevelWarn:
		l.slogger.Warn("audit", attrs...)
	case LevelError:
		l.slogger.Error("audit", attrs...)
	default:
		l.slogger.Info("audit", attrs...)
	}

	for _, sink := range l.sinks {
		l.writeSink(sink, event)
	}
}

func (l *Logger) writeSink(sink Sink, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			l.slogger.Error("audit sink panicked", "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sink.Write(ctx, event); err != nil {
		l.slogger.Warn("audit sink write failed", "error", err)
	}
}

func (l *Logger) shouldLog(level Level) bool {
	return levelRank(level) >= levelRank(l.config.Level)
}

func levelRank(level Level) int {
	switch level {
	case LevelDebug:
		return 0
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

func slogLevel(level Level) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
