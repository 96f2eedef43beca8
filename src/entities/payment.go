package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentRequest struct {
	OrderID   string
	Amount    decimal.Decimal // major VND units
	OrderInfo string
	BankCode  string
	ClientIP  string
	CreatedAt time.Time
}

type PaymentResponse struct {
	PaymentURL   string
	OrderID      string
	Amount       decimal.Decimal
	ScaledAmount int64
}

// ReturnCallback is the typed view of a provider callback. It is only handed
// out after the signature over the raw parameters has been verified.
type ReturnCallback struct {
	TxnRef        string
	ResponseCode  string
	Amount        int64 // scaled, minor units
	TransactionNo string
	BankCode      string
	PayDate       string
}

// MajorAmount descales the callback amount back to VND.
func (c ReturnCallback) MajorAmount() decimal.Decimal {
	return decimal.New(c.Amount, -2)
}

const (
	ReasonMissingFields     = "missing-fields"
	ReasonSignatureMismatch = "signature-mismatch"
	ReasonDuplicateField    = "duplicate-field"
	ReasonMalformedFields   = "malformed-fields"
)

type VerificationResult struct {
	Valid  bool
	Reason string
}

func Valid() VerificationResult {
	return VerificationResult{Valid: true}
}

func Invalid(reason string) VerificationResult {
	return VerificationResult{Reason: reason}
}
