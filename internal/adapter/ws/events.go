package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventRunLifecycle = "run.lifecycle"
	EventSagaStatus   = "saga.status"
	EventDecision     = "route.decision"
)

// RunLifecycleEvent is broadcast for every run lifecycle event appended to the log.
type RunLifecycleEvent struct {
	RunID     string `json:"run_id"`
	TenantID  string `json:"tenant_id"`
	EventType string `json:"event_type"`
	Version   int64  `json:"version"`
}

// SagaStatusEvent is broadcast when a saga transitions state.
type SagaStatusEvent struct {
	SagaID         string `json:"saga_id"`
	RunID          string `json:"run_id"`
	Status         string `json:"status"`
	CompletedCount int    `json:"completed_count"`
}

// DecisionEvent is broadcast when the router issues a decision.
type DecisionEvent struct {
	TenantID   string  `json:"tenant_id"`
	Tier       string  `json:"tier"`
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
}

// BroadcastEvent is a convenience method that marshals a typed event and broadcasts it.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.Broadcast(ctx, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
