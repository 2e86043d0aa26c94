package usecase

import (
	"TrustGate/internal/domain/models"
	"TrustGate/internal/services/decision"
	"TrustGate/internal/services/hypothesis"
	"TrustGate/internal/services/sanitizer"
	"TrustGate/internal/services/trust"
)

// GatePipeline chains sanitizer, trust manager, hypothesis evaluator and the
// decision function for one symbol. Not safe for concurrent use; GateRunner is
// its only caller.
type GatePipeline struct {
	sanitizer  *sanitizer.Sanitizer
	trust      *trust.Manager
	hypothesis *hypothesis.Evaluator
}

func NewGatePipeline(s *sanitizer.Sanitizer, t *trust.Manager, h *hypothesis.Evaluator) *GatePipeline {
	return &GatePipeline{sanitizer: s, trust: t, hypothesis: h}
}

// Process runs one event through every stage using a single clock sample.
func (p *GatePipeline) Process(ev *models.Event, now float64) *models.Verdict {
	res := p.sanitizer.Sanitize(ev)
	trustState, trs := p.trust.Update(res, ev)
	hyp := p.hypothesis.Update(ev, now)
	return &models.Verdict{
		Event:       ev,
		Sanitize:    res,
		Trust:       trustState,
		Hypothesis:  hyp,
		Decision:    decision.Decide(trustState, hyp),
		Transitions: trs,
		Now:         now,
	}
}

// DetectStall checks stream liveness at now.
func (p *GatePipeline) DetectStall(now float64) (models.TrustState, []models.StateTransition) {
	return p.trust.DetectStall(now)
}

// Evaluate returns the current gate state without consuming an event.
func (p *GatePipeline) Evaluate(now float64) (models.TrustState, models.HypothesisState, models.Decision) {
	trustState := p.trust.State()
	hyp := p.hypothesis.State(now)
	return trustState, hyp, decision.Decide(trustState, hyp)
}

// NoDecisionUntil returns the end of the active liquidation window, if any.
func (p *GatePipeline) NoDecisionUntil() *float64 {
	until, ok := p.hypothesis.Until()
	if !ok {
		return nil
	}
	return &until
}

func (p *GatePipeline) LastPrice(stream string) (float64, bool) {
	price, _, ok := p.sanitizer.LastPrice(stream)
	return price, ok
}

func (p *GatePipeline) AllowedLateness() float64 { return p.sanitizer.AllowedLateness() }
