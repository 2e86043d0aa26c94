package models

import (
	"encoding/json"
	"fmt"
)

// Classification is the data-quality verdict of the sanitizer.
type Classification string

const (
	Accept     Classification = "ACCEPT"
	Repair     Classification = "REPAIR"
	Quarantine Classification = "QUARANTINE"
)

// TrustState is the system-wide data trust level. It only escalates.
type TrustState string

const (
	Trusted   TrustState = "TRUSTED"
	Degraded  TrustState = "DEGRADED"
	Untrusted TrustState = "UNTRUSTED"
)

// HypothesisState is the market-hypothesis validity label.
// Invalid is reserved; nothing produces it yet.
type HypothesisState string

const (
	Valid     HypothesisState = "VALID"
	Weakening HypothesisState = "WEAKENING"
	Invalid   HypothesisState = "INVALID"
)

// Decision is the advisory gating label.
type Decision string

const (
	Allowed    Decision = "ALLOWED"
	Restricted Decision = "RESTRICTED"
	Halted     Decision = "HALTED"
)

// Trigger is the cause code attached to a verdict or a trust transition.
type Trigger string

const (
	TriggerNone                Trigger = ""
	TriggerOutOfOrderTimestamp Trigger = "out_of_order_timestamp"
	TriggerFatFingerPrice      Trigger = "fat_finger_price"
	TriggerStreamStall         Trigger = "stream_stall"
)

func (c Classification) String() string { return string(c) }

func (c Classification) Valid() bool {
	switch c {
	case Accept, Repair, Quarantine:
		return true
	}
	return false
}

func (s TrustState) String() string { return string(s) }

func (s TrustState) Valid() bool {
	switch s {
	case Trusted, Degraded, Untrusted:
		return true
	}
	return false
}

// Severity orders trust states; higher is worse.
func (s TrustState) Severity() int {
	switch s {
	case Degraded:
		return 1
	case Untrusted:
		return 2
	default:
		return 0
	}
}

func (h HypothesisState) String() string { return string(h) }

func (h HypothesisState) Valid() bool {
	switch h {
	case Valid, Weakening, Invalid:
		return true
	}
	return false
}

// Severity orders hypothesis states; higher is worse.
func (h HypothesisState) Severity() int {
	switch h {
	case Weakening:
		return 1
	case Invalid:
		return 2
	default:
		return 0
	}
}

func (d Decision) String() string { return string(d) }

func (d Decision) Valid() bool {
	switch d {
	case Allowed, Restricted, Halted:
		return true
	}
	return false
}

// Severity orders decisions; higher is more restrictive.
func (d Decision) Severity() int {
	switch d {
	case Restricted:
		return 1
	case Halted:
		return 2
	default:
		return 0
	}
}

func (t Trigger) String() string { return string(t) }

// MarshalJSON writes an empty trigger as null.
func (t Trigger) MarshalJSON() ([]byte, error) {
	if t == TriggerNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

func (t *Trigger) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*t = TriggerNone
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("trigger: %w", err)
	}
	*t = Trigger(s)
	return nil
}

func (c *Classification) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v := Classification(s)
	if !v.Valid() {
		return fmt.Errorf("unknown classification %q", s)
	}
	*c = v
	return nil
}

func (s *TrustState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v := TrustState(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown trust state %q", raw)
	}
	*s = v
	return nil
}

func (h *HypothesisState) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v := HypothesisState(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown hypothesis state %q", raw)
	}
	*h = v
	return nil
}

func (d *Decision) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	v := Decision(raw)
	if !v.Valid() {
		return fmt.Errorf("unknown decision %q", raw)
	}
	*d = v
	return nil
}
