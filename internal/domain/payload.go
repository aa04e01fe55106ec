package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Payload codecs for the JSON blobs persisted on conditional orders and
// positions. The store keeps raw bytes; everything crossing into
// business logic goes through these typed boundaries so a malformed row
// surfaces as one decode error instead of scattered parsing failures.

// PriceCondition is the trigger payload for price_above / price_below.
type PriceCondition struct {
	Price float64 `json:"price"`
}

// TimeCondition is the trigger payload for time triggers.
type TimeCondition struct {
	At time.Time `json:"at"`
}

// IndicatorCondition is the trigger payload for indicator triggers.
// Evaluation is owned by the scoring subsystem; the engine only stores
// and reports it.
type IndicatorCondition struct {
	Name      string  `json:"name"`
	Threshold float64 `json:"threshold"`
}

// TriggerCondition is the decoded form of a conditional order's trigger
// payload. Exactly one branch is populated, keyed by the order's
// TriggerType.
type TriggerCondition struct {
	Price     *PriceCondition
	Time      *TimeCondition
	Indicator *IndicatorCondition
}

// EncodeTriggerCondition serializes the branch matching triggerType.
func EncodeTriggerCondition(triggerType TriggerType, c TriggerCondition) ([]byte, error) {
	switch triggerType {
	case TriggerPriceAbove, TriggerPriceBelow:
		if c.Price == nil {
			return nil, fmt.Errorf("trigger type %s requires a price condition", triggerType)
		}
		return json.Marshal(c.Price)
	case TriggerTime:
		if c.Time == nil {
			return nil, fmt.Errorf("trigger type %s requires a time condition", triggerType)
		}
		return json.Marshal(c.Time)
	case TriggerIndicator:
		if c.Indicator == nil {
			return nil, fmt.Errorf("trigger type %s requires an indicator condition", triggerType)
		}
		return json.Marshal(c.Indicator)
	default:
		return nil, fmt.Errorf("unknown trigger type: %s", triggerType)
	}
}

// DecodeTriggerCondition parses raw against the shape dictated by
// triggerType.
func DecodeTriggerCondition(triggerType TriggerType, raw []byte) (TriggerCondition, error) {
	var c TriggerCondition
	switch triggerType {
	case TriggerPriceAbove, TriggerPriceBelow:
		var p PriceCondition
		if err := json.Unmarshal(raw, &p); err != nil {
			return c, fmt.Errorf("decode price condition: %w", err)
		}
		if p.Price <= 0 {
			return c, fmt.Errorf("price condition must be positive, got %f", p.Price)
		}
		c.Price = &p
	case TriggerTime:
		var t TimeCondition
		if err := json.Unmarshal(raw, &t); err != nil {
			return c, fmt.Errorf("decode time condition: %w", err)
		}
		if t.At.IsZero() {
			return c, fmt.Errorf("time condition missing timestamp")
		}
		c.Time = &t
	case TriggerIndicator:
		var i IndicatorCondition
		if err := json.Unmarshal(raw, &i); err != nil {
			return c, fmt.Errorf("decode indicator condition: %w", err)
		}
		c.Indicator = &i
	default:
		return c, fmt.Errorf("unknown trigger type: %s", triggerType)
	}
	return c, nil
}

// OrderAction describes what to execute when a conditional order fires.
type OrderAction struct {
	Side       Side      `json:"side"`
	Type       OrderType `json:"type"`
	Quantity   float64   `json:"quantity"`
	LimitPrice float64   `json:"limit_price,omitempty"`
}

func EncodeOrderAction(a OrderAction) ([]byte, error) {
	return json.Marshal(a)
}

func DecodeOrderAction(raw []byte) (OrderAction, error) {
	var a OrderAction
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, fmt.Errorf("decode order action: %w", err)
	}
	if a.Side != SideBuy && a.Side != SideSell {
		return a, fmt.Errorf("order action has invalid side: %q", a.Side)
	}
	if a.Quantity <= 0 {
		return a, fmt.Errorf("order action quantity must be positive, got %f", a.Quantity)
	}
	return a, nil
}

// ExitConditions is the AI-declared exit payload carried on a position.
// All fields are optional; unknown fields are ignored.
type ExitConditions struct {
	MaxHoldDays int     `json:"max_hold_days,omitempty"`
	PriceTarget float64 `json:"price_target,omitempty"`
}

func EncodeExitConditions(c ExitConditions) ([]byte, error) {
	return json.Marshal(c)
}

func DecodeExitConditions(raw []byte) (ExitConditions, error) {
	var c ExitConditions
	if len(raw) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("decode exit conditions: %w", err)
	}
	return c, nil
}
