package domain

import (
	"errors"
	"time"
)

// ErrNotPending reports a status transition attempted on a conditional
// order that already left the pending state, e.g. an OCO leg cancelled
// by its sibling an instant earlier.
var ErrNotPending = errors.New("conditional order is not pending")

type TriggerType string

const (
	TriggerPriceAbove TriggerType = "price_above"
	TriggerPriceBelow TriggerType = "price_below"
	TriggerTime       TriggerType = "time"
	TriggerIndicator  TriggerType = "indicator"
)

type ConditionalStatus string

const (
	ConditionalStatusPending   ConditionalStatus = "pending"
	ConditionalStatusTriggered ConditionalStatus = "triggered"
	ConditionalStatusCancelled ConditionalStatus = "cancelled"
	ConditionalStatusExpired   ConditionalStatus = "expired"
)

// ConditionalOrder waits for a price/time event before its action is
// handed to the executor. Orders sharing an OCOGroupID form a
// one-cancels-other group: at most one member ever triggers.
type ConditionalOrder struct {
	ID               string
	Symbol           string
	TriggerType      TriggerType
	TriggerCondition []byte // JSON payload, shape keyed by TriggerType
	Action           []byte // JSON OrderAction payload
	Status           ConditionalStatus
	OCOGroupID       string
	LinkedOrderID    string // sibling in an OCO pair, set on the second leg
	ExpiresAt        time.Time
	CreatedAt        time.Time
	TriggeredAt      time.Time
}
