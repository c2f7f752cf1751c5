package events

import "time"

// Event enumerates high-level topics inside the decision engine.
type Event string

const (
	EventSignal        Event = "signal"
	EventTrade         Event = "trade"
	EventRejection     Event = "rejection"
	EventSnapshot      Event = "snapshot"
	EventOrderExecuted Event = "order.executed"
	EventOrderFailed   Event = "order.failed"
	EventTickFailed    Event = "tick.failed"
)

// Topics lists every event the bus carries, in a stable order.
func Topics() []Event {
	return []Event{
		EventSignal,
		EventTrade,
		EventRejection,
		EventSnapshot,
		EventOrderExecuted,
		EventOrderFailed,
		EventTickFailed,
	}
}

// Envelope is the payload shape published on every topic.
type Envelope struct {
	Type     Event     `json:"type"`
	TenantID string    `json:"tenant_id"`
	Symbol   string    `json:"symbol,omitempty"`
	Data     any       `json:"data,omitempty"`
	Time     time.Time `json:"time"`
}

// RejectionPayload describes a trade the risk checks declined.
type RejectionPayload struct {
	Code       string  `json:"code"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}
