package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	StatusPending OrderStatus = "pending"
	StatusSuccess OrderStatus = "success"
	StatusFailed  OrderStatus = "failed"
	StatusUnknown OrderStatus = "unknown"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	switch st := OrderStatus(s); st {
	case StatusPending, StatusSuccess, StatusFailed, StatusUnknown:
		return st, nil
	}
	return "", fmt.Errorf("unknown order status %q", s)
}

type Order struct {
	ID            string          `json:"orderId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        OrderStatus     `json:"status"`
	TransactionNo string          `json:"transactionNo,omitempty"`
	ResponseCode  string          `json:"responseCode,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

type OutcomeKind string

const (
	OutcomeApplied          OutcomeKind = "applied"
	OutcomeDuplicateIgnored OutcomeKind = "duplicate_ignored"
	OutcomeRejected         OutcomeKind = "rejected"
)

const (
	RejectUnknownOrder   = "unknown-order"
	RejectAmountMismatch = "amount-mismatch"
	RejectUnknownStatus  = "unknown-status"
)

type ReconciliationOutcome struct {
	Kind   OutcomeKind
	Status OrderStatus // new status for Applied, existing status otherwise
	Reason string      // set for Rejected
}

func Applied(s OrderStatus) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeApplied, Status: s}
}

func DuplicateIgnored(existing OrderStatus) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeDuplicateIgnored, Status: existing}
}

func Rejected(reason string, current OrderStatus) ReconciliationOutcome {
	return ReconciliationOutcome{Kind: OutcomeRejected, Status: current, Reason: reason}
}

func (o ReconciliationOutcome) String() string {
	switch o.Kind {
	case OutcomeRejected:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	default:
		return fmt.Sprintf("%s(%s)", o.Kind, o.Status)
	}
}
