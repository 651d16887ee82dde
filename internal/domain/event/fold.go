package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/tiergate/tiergate/internal/domain/run"
)

// ErrNoEvents is returned when replay is attempted for a run with no events.
var ErrNoEvents = errors.New("no events to replay")

// Replay reconstructs run state by folding the given events in timestamp
// order (version breaks ties). This is the only legitimate reconstruction
// path; folding the same ordered list twice yields identical state.
func Replay(events []RunEvent) (*run.Run, error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}

	ordered := make([]RunEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].Version < ordered[j].Version
		}
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	r := &run.Run{
		ID:       ordered[0].RunID,
		TenantID: ordered[0].TenantID,
		Status:   run.StatusPending,
	}

	for i := range ordered {
		if err := apply(r, &ordered[i]); err != nil {
			return nil, fmt.Errorf("apply %s (version %d): %w", ordered[i].Type, ordered[i].Version, err)
		}
	}

	return r, nil
}

// apply mutates r according to the fixed event-type → mutation table.
// Unknown and saga_* event types are replay-neutral so that extending the
// vocabulary never changes the fold behavior of existing types.
func apply(r *run.Run, ev *RunEvent) error {
	switch ev.Type {
	case TypeRunRequested:
		var p RequestedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		r.Workflow = p.Workflow
		r.Status = run.StatusPending
		r.CreatedAt = ev.CreatedAt

	case TypeRunStarted:
		r.Status = run.StatusRunning
		ts := ev.CreatedAt
		r.StartedAt = &ts

	case TypeStepCompleted:
		var p StepPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		r.StepCount++
		r.TokensUsed += p.TokensUsed
		r.CostUSD += p.CostUSD
		mergeArtifacts(r, p.Artifacts)

	case TypeToolCallSucceeded:
		var p ToolCallPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		r.TokensUsed += p.TokensUsed
		r.CostUSD += p.CostUSD

	case TypeRunCompleted:
		var p CompletedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		r.Status = run.StatusCompleted
		r.TokensUsed = p.TokensUsed
		r.CostUSD = p.CostUSD
		r.StepCount = p.StepCount
		mergeArtifacts(r, p.Artifacts)
		ts := ev.CreatedAt
		r.CompletedAt = &ts

	case TypeRunFailed:
		var p FailedPayload
		if err := unmarshalPayload(ev.Payload, &p); err != nil {
			return err
		}
		r.Status = run.StatusFailed
		r.Error = p.Error
		ts := ev.CreatedAt
		r.CompletedAt = &ts

	case TypeRunCancelled:
		r.Status = run.StatusCancelled
		ts := ev.CreatedAt
		r.CompletedAt = &ts

	case TypeToolCallFailed, TypeSagaStarted, TypeSagaCompleted, TypeSagaCompensating, TypeSagaCompensated:
		// Recorded for audit; no run-state mutation.

	default:
		// Unknown type: replay-neutral.
	}
	return nil
}

func unmarshalPayload(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func mergeArtifacts(r *run.Run, artifacts map[string]string) {
	if len(artifacts) == 0 {
		return
	}
	if r.Artifacts == nil {
		r.Artifacts = make(map[string]string, len(artifacts))
	}
	for k, v := range artifacts {
		r.Artifacts[k] = v
	}
}
