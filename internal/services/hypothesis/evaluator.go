package hypothesis

import "TrustGate/internal/domain/models"

const DefaultNoDecisionWindowSec = 5.0

// Evaluator downgrades hypothesis validity for a window after each liquidation.
// Not safe for concurrent use.
type Evaluator struct {
	window          float64
	noDecisionUntil *float64
}

// New creates an Evaluator; a non-positive window falls back to the default.
func New(windowSec float64) *Evaluator {
	if windowSec <= 0 {
		windowSec = DefaultNoDecisionWindowSec
	}
	return &Evaluator{window: windowSec}
}

// Window returns the no-decision window length in seconds.
func (e *Evaluator) Window() float64 { return e.window }

// Until returns the end of the active no-decision window, if any.
func (e *Evaluator) Until() (float64, bool) {
	if e.noDecisionUntil == nil {
		return 0, false
	}
	return *e.noDecisionUntil, true
}

// Update opens or extends the window on liquidations, then evaluates at now.
// Later liquidations can prolong the window but never shorten it.
func (e *Evaluator) Update(ev *models.Event, now float64) models.HypothesisState {
	if ev != nil && ev.Stream == models.StreamLiquidation {
		candidate := ev.EventTime + e.window
		if e.noDecisionUntil == nil || candidate > *e.noDecisionUntil {
			e.noDecisionUntil = &candidate
		}
	}
	return e.State(now)
}

// State evaluates the window at now, clearing it once lapsed.
func (e *Evaluator) State(now float64) models.HypothesisState {
	if e.noDecisionUntil == nil {
		return models.Valid
	}
	if now < *e.noDecisionUntil {
		return models.Weakening
	}
	e.noDecisionUntil = nil
	return models.Valid
}
