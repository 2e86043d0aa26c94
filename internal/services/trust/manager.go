package trust

import (
	"sort"

	"TrustGate/internal/domain/models"
)

// DefaultStallThresholds are the per-stream silence limits in seconds.
func DefaultStallThresholds() map[string]float64 {
	return map[string]float64{
		models.StreamTrade:       5,
		models.StreamOrderbook:   2,
		models.StreamTicker:      10,
		models.StreamLiquidation: 20,
	}
}

// Option configures Manager.
type Option func(*Manager)

// WithStallThresholds replaces the per-stream silence limits. Streams without
// a positive threshold are never stall-checked.
func WithStallThresholds(thresholds map[string]float64) Option {
	return func(m *Manager) {
		if thresholds == nil {
			return
		}
		m.thresholds = make(map[string]float64, len(thresholds))
		for stream, sec := range thresholds {
			if sec > 0 {
				m.thresholds[stream] = sec
			}
		}
	}
}

// Manager owns the system-wide trust state.
// TRUSTED -> DEGRADED on quarantine, any -> UNTRUSTED on stall; nothing lowers it.
// Not safe for concurrent use; Update and DetectStall must be serialized by the caller.
type Manager struct {
	state      models.TrustState
	lastSeen   map[string]float64
	thresholds map[string]float64
	streams    []string
}

// New creates a Manager in the TRUSTED state.
func New(opts ...Option) *Manager {
	m := &Manager{
		state:      models.Trusted,
		lastSeen:   make(map[string]float64),
		thresholds: DefaultStallThresholds(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.streams = make([]string, 0, len(m.thresholds))
	for stream := range m.thresholds {
		m.streams = append(m.streams, stream)
	}
	sort.Strings(m.streams)
	return m
}

// State returns the current trust level.
func (m *Manager) State() models.TrustState { return m.state }

// LastSeen returns the local receive time of the last event on stream.
func (m *Manager) LastSeen(stream string) (float64, bool) {
	v, ok := m.lastSeen[stream]
	return v, ok
}

// Threshold returns the stall threshold for stream, if it has one.
func (m *Manager) Threshold(stream string) (float64, bool) {
	v, ok := m.thresholds[stream]
	return v, ok
}

// Update records the event arrival and escalates TRUSTED to DEGRADED on quarantine.
func (m *Manager) Update(res models.SanitizeResult, ev *models.Event) (models.TrustState, []models.StateTransition) {
	m.lastSeen[ev.Stream] = ev.ReceiveTime

	if !res.Quarantined() || m.state != models.Trusted {
		return m.state, nil
	}

	prev := m.state
	m.state = models.Degraded
	receiveTS := ev.ReceiveTime
	return m.state, []models.StateTransition{{
		TS:            ev.EventTime,
		ReceiveTS:     &receiveTS,
		Trigger:       res.Trigger,
		PreviousTrust: prev,
		CurrentTrust:  m.state,
		Details:       res.Details,
	}}
}

// DetectStall escalates to UNTRUSTED when a seen stream has been silent past its threshold.
// Each stalled stream emits its own record, even when the state is already UNTRUSTED
// from an earlier stream in the same call.
func (m *Manager) DetectStall(now float64) (models.TrustState, []models.StateTransition) {
	if m.state == models.Untrusted {
		return m.state, nil
	}

	var out []models.StateTransition
	for _, stream := range m.streams {
		last, seen := m.lastSeen[stream]
		if !seen {
			continue
		}
		threshold := m.thresholds[stream]
		stall := now - last
		if stall <= threshold {
			continue
		}
		prev := m.state
		m.state = models.Untrusted
		out = append(out, models.StateTransition{
			TS:            now,
			Trigger:       models.TriggerStreamStall,
			PreviousTrust: prev,
			CurrentTrust:  m.state,
			Details: map[string]any{
				"stream":        stream,
				"stall_sec":     stall,
				"threshold_sec": threshold,
			},
		})
	}
	return m.state, out
}
