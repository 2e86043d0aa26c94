package models

import (
	"strings"
	"time"
)

// StateTransition is an append-only audit entry emitted whenever TrustState escalates.
type StateTransition struct {
	TS            float64        `json:"ts"`
	ReceiveTS     *float64       `json:"receive_ts,omitempty"`
	Trigger       Trigger        `json:"trigger"`
	PreviousTrust TrustState     `json:"previous_trust"`
	CurrentTrust  TrustState     `json:"current_trust"`
	Details       map[string]any `json:"details"`
}

// DecisionRecord is one line of the decisions log.
type DecisionRecord struct {
	TS         float64         `json:"ts"`
	ProcessTS  *float64        `json:"process_ts,omitempty"`
	ReceiveTS  *float64        `json:"receive_ts,omitempty"`
	Stream     string          `json:"stream"`
	DataTrust  TrustState      `json:"data_trust"`
	Hypothesis HypothesisState `json:"hypothesis"`
	Decision   Decision        `json:"decision"`
	Action     Decision        `json:"action"`
	Reason     *string         `json:"reason"`
	Sanitize   Classification  `json:"sanitize"`
	Trigger    Trigger         `json:"trigger"`
}

// Verdict bundles everything the pipeline produced for one event.
type Verdict struct {
	Event       *Event
	Sanitize    SanitizeResult
	Trust       TrustState
	Hypothesis  HypothesisState
	Decision    Decision
	Transitions []StateTransition
	Now         float64
}

// Reason is the sanitize trigger, overridden by the hypothesis label when it is not VALID.
func (v *Verdict) Reason() *string {
	if v.Hypothesis != Valid {
		r := "hypothesis_" + strings.ToLower(string(v.Hypothesis))
		return &r
	}
	if v.Sanitize.Trigger == TriggerNone {
		return nil
	}
	r := string(v.Sanitize.Trigger)
	return &r
}

// Record converts the verdict into a decision log line. Replays stamp the
// local arrival as process_ts, live feeds as receive_ts.
func (v *Verdict) Record(replay bool) *DecisionRecord {
	rec := &DecisionRecord{
		TS:         v.Event.EventTime,
		Stream:     v.Event.Stream,
		DataTrust:  v.Trust,
		Hypothesis: v.Hypothesis,
		Decision:   v.Decision,
		Action:     v.Decision,
		Reason:     v.Reason(),
		Sanitize:   v.Sanitize.Classification,
		Trigger:    v.Sanitize.Trigger,
	}
	rt := v.Event.ReceiveTime
	if replay {
		rec.ProcessTS = &rt
	} else {
		rec.ReceiveTS = &rt
	}
	return rec
}

// GateSnapshot is the latest gate state published for readers outside the pipeline.
type GateSnapshot struct {
	Symbol          string          `json:"symbol"`
	DataTrust       TrustState      `json:"data_trust"`
	Hypothesis      HypothesisState `json:"hypothesis"`
	Decision        Decision        `json:"decision"`
	NoDecisionUntil *float64        `json:"no_decision_until,omitempty"`
	LastEventTS     float64         `json:"last_event_ts"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// RunSummary is the per-run aggregate written at shutdown.
type RunSummary struct {
	RunID              string         `json:"run_id"`
	Mode               string         `json:"mode"`
	Symbol             string         `json:"symbol,omitempty"`
	RunSeconds         float64        `json:"run_seconds"`
	Events             int64          `json:"events"`
	Decisions          int64          `json:"decisions"`
	Transitions        int64          `json:"transitions"`
	Errors             int64          `json:"errors"`
	LastError          *string        `json:"last_error,omitempty"`
	StreamCounts       map[string]int `json:"stream_counts"`
	AllowedLatenessSec float64        `json:"allowed_lateness_sec"`
	DataDir            string         `json:"data_dir,omitempty"`
	OutputDir          string         `json:"output_dir"`
	StartedAtUnix      float64        `json:"started_at_unix"`
	EndedAtUnix        float64        `json:"ended_at_unix"`
	FilesProcessed     int            `json:"files_processed,omitempty"`
}
