package server

import (
	"errors"
	"net/http"

	"github.com/Oven29/cinema-payments/src/adapters"
	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/reconcile"
)

var ErrOrderConflict = errors.New("order already exists with a different amount or is already settled")

// Failure tags carried on the failure redirect.
const (
	TagMissingParams    = "missing_params"
	TagInvalidSignature = "invalid_signature"
	TagInvalidParams    = "invalid_params"
	TagPaymentFailed    = "payment_failed"
	TagUnknownStatus    = "unknown_status"
	TagUnknownOrder     = "unknown_order"
	TagAmountMismatch   = "amount_mismatch"
	TagInternal         = "internal_error"
)

// HTTPStatus maps create-path errors to response codes.
func HTTPStatus(err error) int {
	var verr *adapters.ValidationError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, ErrOrderConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func verificationTag(reason string) string {
	switch reason {
	case entities.ReasonMissingFields:
		return TagMissingParams
	case entities.ReasonSignatureMismatch, entities.ReasonDuplicateField:
		return TagInvalidSignature
	default:
		return TagInvalidParams
	}
}

func rejectionTag(reason string) string {
	switch reason {
	case entities.RejectUnknownOrder:
		return TagUnknownOrder
	case entities.RejectAmountMismatch:
		return TagAmountMismatch
	case entities.RejectUnknownStatus:
		return TagUnknownStatus
	default:
		return TagInternal
	}
}

// VNPay IPN acknowledgement codes.
const (
	ipnConfirmed        = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidAmount    = "04"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

func ipnForVerification(reason string) ipnResponse {
	if reason == entities.ReasonMissingFields || reason == entities.ReasonMalformedFields {
		return ipnResponse{ipnUnknownError, "Invalid request"}
	}
	return ipnResponse{ipnInvalidSignature, "Invalid signature"}
}

func ipnForOutcome(out entities.ReconciliationOutcome, err error) ipnResponse {
	if err != nil {
		if errors.Is(err, reconcile.ErrStorageExhausted) {
			return ipnResponse{ipnUnknownError, "Temporary failure, retry"}
		}
		return ipnResponse{ipnUnknownError, "Unknown error"}
	}
	switch out.Kind {
	case entities.OutcomeApplied:
		return ipnResponse{ipnConfirmed, "Confirm Success"}
	case entities.OutcomeDuplicateIgnored:
		return ipnResponse{ipnAlreadyConfirmed, "Order already confirmed"}
	}
	switch out.Reason {
	case entities.RejectUnknownOrder:
		return ipnResponse{ipnOrderNotFound, "Order not found"}
	case entities.RejectAmountMismatch:
		return ipnResponse{ipnInvalidAmount, "Invalid amount"}
	default:
		return ipnResponse{ipnUnknownError, "Unknown payment status"}
	}
}
