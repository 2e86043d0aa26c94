package sanitizer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"TrustGate/internal/domain/models"
)

const (
	DefaultAllowedLatenessSec = 0.5
	DefaultFatFingerWindowSec = 2.0
	DefaultFatFingerRatio     = 0.03
)

// priceFields are checked in order; the first present one decides.
var priceFields = []string{"price", "p", "c"}

// Option configures Sanitizer.
type Option func(*Sanitizer)

// WithAllowedLateness sets how far behind the watermark an event may be and still be repaired.
func WithAllowedLateness(sec float64) Option {
	return func(s *Sanitizer) {
		if sec >= 0 {
			s.allowedLateness = sec
		}
	}
}

// WithFatFinger sets the comparison window and the jump ratio that quarantines a price.
func WithFatFinger(windowSec, ratio float64) Option {
	return func(s *Sanitizer) {
		if windowSec > 0 {
			s.fatFingerWindow = windowSec
		}
		if ratio > 0 {
			s.fatFingerRatio = ratio
		}
	}
}

// Sanitizer classifies events by data quality. It never modifies or drops an event.
// Not safe for concurrent use; the caller serializes calls.
type Sanitizer struct {
	allowedLateness float64
	fatFingerWindow float64
	fatFingerRatio  float64

	lastEventTime map[string]float64
	lastPrice     map[string]float64
	lastPriceTime map[string]float64
}

// New creates a Sanitizer with empty per-stream state.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{
		allowedLateness: DefaultAllowedLatenessSec,
		fatFingerWindow: DefaultFatFingerWindowSec,
		fatFingerRatio:  DefaultFatFingerRatio,
		lastEventTime:   make(map[string]float64),
		lastPrice:       make(map[string]float64),
		lastPriceTime:   make(map[string]float64),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AllowedLateness returns the configured lateness tolerance in seconds.
func (s *Sanitizer) AllowedLateness() float64 { return s.allowedLateness }

// Watermark returns the latest in-order event time seen on stream.
func (s *Sanitizer) Watermark(stream string) (float64, bool) {
	v, ok := s.lastEventTime[stream]
	return v, ok
}

// LastPrice returns the cached reference price for stream and when it was observed.
func (s *Sanitizer) LastPrice(stream string) (price, at float64, ok bool) {
	price, ok = s.lastPrice[stream]
	if !ok {
		return 0, 0, false
	}
	return price, s.lastPriceTime[stream], true
}

// Reset forgets everything known about stream.
func (s *Sanitizer) Reset(stream string) {
	delete(s.lastEventTime, stream)
	delete(s.lastPrice, stream)
	delete(s.lastPriceTime, stream)
}

// Sanitize runs the watermark check and, for price streams, the fat-finger check.
func (s *Sanitizer) Sanitize(ev *models.Event) models.SanitizeResult {
	res := models.SanitizeResult{Classification: models.Accept, Details: map[string]any{}}

	last, seen := s.lastEventTime[ev.Stream]
	if !seen {
		s.lastEventTime[ev.Stream] = ev.EventTime
	} else {
		delta := last - ev.EventTime
		switch {
		case delta <= 0:
			s.lastEventTime[ev.Stream] = ev.EventTime
		case delta <= s.allowedLateness:
			res = models.SanitizeResult{
				Classification: models.Repair,
				Trigger:        models.TriggerOutOfOrderTimestamp,
				Details:        s.latenessDetails(ev.EventTime, last, delta),
			}
		default:
			// Too late to repair; the price stage is skipped.
			return models.SanitizeResult{
				Classification: models.Quarantine,
				Trigger:        models.TriggerOutOfOrderTimestamp,
				Details:        s.latenessDetails(ev.EventTime, last, delta),
			}
		}
	}

	if !isPriceStream(ev.Stream) {
		return res
	}

	price, hasPrice := extractPrice(ev.Payload)
	if !hasPrice {
		return res
	}

	if lastPrice, lastAt, ok := s.LastPrice(ev.Stream); ok {
		dt := ev.EventTime - lastAt
		if dt > 0 && dt <= s.fatFingerWindow {
			if lastPrice <= 0 {
				return models.SanitizeResult{
					Classification: models.Quarantine,
					Trigger:        models.TriggerFatFingerPrice,
					Details: map[string]any{
						"last_price":    lastPrice,
						"current_price": price,
						"reason":        "non_positive_last_price",
					},
				}
			}
			ratio := math.Abs(price-lastPrice) / lastPrice
			if ratio >= s.fatFingerRatio {
				return models.SanitizeResult{
					Classification: models.Quarantine,
					Trigger:        models.TriggerFatFingerPrice,
					Details: map[string]any{
						"last_price":         lastPrice,
						"current_price":      price,
						"price_change_ratio": ratio,
						"time_delta_sec":     dt,
					},
				}
			}
		}
	}

	s.lastPrice[ev.Stream] = price
	s.lastPriceTime[ev.Stream] = ev.EventTime
	return res
}

func (s *Sanitizer) latenessDetails(eventTime, last, delta float64) map[string]any {
	return map[string]any{
		"event_time":           eventTime,
		"last_event_time":      last,
		"lateness_sec":         delta,
		"allowed_lateness_sec": s.allowedLateness,
	}
}

func isPriceStream(stream string) bool {
	return stream == models.StreamTrade || stream == models.StreamTicker
}

func extractPrice(payload map[string]any) (float64, bool) {
	for _, key := range priceFields {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		// The first present field decides; an unparsable value means no price.
		return toFloat(raw)
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case int32:
		f = float64(x)
	case uint64:
		f = float64(x)
	case json.Number:
		parsed, err := x.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
