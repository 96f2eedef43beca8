package interfaces

import (
	"context"

	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/signing"
)

type PaymentProvider interface {
	CreatePayment(ctx context.Context, req entities.PaymentRequest) (*entities.PaymentResponse, error)
	VerifyReturn(params *signing.ParameterSet) (entities.VerificationResult, *entities.ReturnCallback)
}

// OrderStore is the boundary to the order-management collaborator. Status is
// only ever changed through CompareAndSetStatus.
type OrderStore interface {
	Create(ctx context.Context, order entities.Order) error
	Get(ctx context.Context, orderID string) (*entities.Order, error)
	CompareAndSetStatus(ctx context.Context, orderID string, from, to entities.OrderStatus, transactionNo, responseCode string) (bool, error)
}

type Alerter interface {
	Alert(ctx context.Context, message string) error
}

type EventPublisher interface {
	PublishTransition(order entities.Order)
}
