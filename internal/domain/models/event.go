package models

// Well-known stream names. Any other name is passed through as an opaque key.
const (
	StreamTrade       = "trade"
	StreamOrderbook   = "orderbook"
	StreamLiquidation = "liquidation"
	StreamTicker      = "ticker"
)

// Event is one normalized market-data message.
// Times are unix seconds; EventTime is reported by the source, ReceiveTime is local arrival.
type Event struct {
	Stream      string         `json:"stream"`
	EventTime   float64        `json:"event_time"`
	ReceiveTime float64        `json:"receive_time"`
	Payload     map[string]any `json:"payload"`
}

// SanitizeResult is the sanitizer verdict for a single event.
type SanitizeResult struct {
	Classification Classification
	Trigger        Trigger
	Details        map[string]any
}

// Quarantined reports whether the event was classified QUARANTINE.
func (r SanitizeResult) Quarantined() bool { return r.Classification == Quarantine }
