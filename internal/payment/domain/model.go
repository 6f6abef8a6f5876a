package domain

import (
	"time"

	"gorm.io/datatypes"
)

type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// PaymentEvent is an inbound, untrusted notification that money moved.
type PaymentEvent struct {
	EventID       string
	ReferenceText string
	Amount        int64
	Direction     Direction
	ReceivedAt    time.Time
}

type Outcome string

const (
	OutcomeReceived         Outcome = "received"
	OutcomeIgnored          Outcome = "ignored"
	OutcomeUnmatched        Outcome = "unmatched"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeConfirmed        Outcome = "confirmed"
	OutcomeHeldForReview    Outcome = "held_for_review"
)

// EventRecord is one row of the reconciliation log.
type EventRecord struct {
	ID             int64          `json:"id" gorm:"primaryKey;autoIncrement:false"`
	EventID        *string        `json:"event_id,omitempty" gorm:"size:255;uniqueIndex:ux_payment_events_event_id"`
	ReferenceText  string         `json:"reference_text" gorm:"type:text;not null"`
	Amount         int64          `json:"amount" gorm:"not null"`
	Direction      Direction      `json:"direction" gorm:"size:16;not null"`
	Token          *string        `json:"token,omitempty" gorm:"size:32"`
	OrderID        *int64         `json:"order_id,omitempty" gorm:"index:idx_payment_events_order"`
	Outcome        Outcome        `json:"outcome" gorm:"size:32;not null"`
	ReviewRequired bool           `json:"review_required" gorm:"not null;default:false"`
	CorrelationID  string         `json:"correlation_id" gorm:"size:32"`
	Payload        datatypes.JSON `json:"payload"`
	ReceivedAt     time.Time      `json:"received_at" gorm:"not null;index:idx_payment_events_received"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

func (EventRecord) TableName() string { return "payment_events" }

// Result is what a reconciliation reports back to the sender.
type Result struct {
	Outcome        Outcome `json:"outcome"`
	OrderID        string  `json:"order_id,omitempty"`
	ReviewRequired bool    `json:"review_required"`
}
