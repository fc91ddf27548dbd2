package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexushub/internal/auth"
	"github.com/haasonsaas/nexushub/internal/orchestrator"
	"github.com/haasonsaas/nexushub/internal/queue"
	"github.com/haasonsaas/nexushub/pkg/models"
)

type errorBody struct {
	Error   string `json:"error"`
	ErrorID string `json:"error_id,omitempty"`
}

type queuedBody struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	report := s.health.CheckAll(r.Context())
	status := http.StatusOK
	if !report.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (s *Server) handleInbound(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
	var msg models.CanonicalMessage
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&msg); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid message"})
		return
	}
	if strings.TrimSpace(msg.Content.Text) == "" && msg.Content.Type == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid message"})
		return
	}

	if s.queue != nil {
		// Queued messages are checked here; the worker only sees accepted ones.
		if _, err := orchestrator.AcceptInbound(tenantID, &msg); err != nil {
			pe := orchestrator.RejectInbound(err)
			s.logger.Warn("rejected inbound message",
				"error_id", pe.ErrorID,
				"authenticated_tenant_id", tenantID,
				"claimed_tenant_id", msg.TenantID,
				"error", err,
			)
			s.writeError(w, pe)
			return
		}
		id, err := s.queue.Enqueue(r.Context(), &msg, tenantID)
		if err != nil {
			errorID := uuid.NewString()
			s.logger.Error("enqueue failed", "tenant_id", tenantID, "error_id", errorID, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable", ErrorID: errorID})
			return
		}
		writeJSON(w, http.StatusAccepted, queuedBody{MessageID: id, Status: "queued"})
		return
	}

	out, err := s.processor.ProcessInboundMessage(r.Context(), &msg, tenantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.TenantFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing credentials"})
		return
	}
	id := r.PathValue("id")
	res, err := s.queue.Result(r.Context(), id)
	if errors.Is(err, queue.ErrNoResult) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "result not available"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Results of other tenants are indistinguishable from missing ones.
	if res.TenantID != tenantID {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "result not available"})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var pe *orchestrator.PublicError
	if errors.As(err, &pe) {
		for k, v := range pe.Headers {
			w.Header().Set(k, v)
		}
		writeJSON(w, pe.Code, errorBody{Error: pe.Message(), ErrorID: pe.ErrorID})
		return
	}
	errorID := uuid.NewString()
	s.logger.Error("request failed", "error_id", errorID, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", ErrorID: errorID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck
}
