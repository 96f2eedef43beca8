// Package reconcile applies verified provider callbacks to order state,
// at most once per order.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/interfaces"
	"github.com/Oven29/cinema-payments/src/metrics"
	"github.com/Oven29/cinema-payments/src/storage"
)

// ErrStorageExhausted means the callback could not be recorded. The caller
// must treat it as fatal for this delivery; the provider will retry.
var ErrStorageExhausted = errors.New("storage retries exhausted")

type Reconciler struct {
	store     interfaces.OrderStore
	policy    RetryPolicy
	log       *slog.Logger
	alerter   interfaces.Alerter
	publisher interfaces.EventPublisher
	metrics   *metrics.Metrics
}

type Option func(*Reconciler)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(r *Reconciler) { r.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.log = l }
}

func WithAlerter(a interfaces.Alerter) Option {
	return func(r *Reconciler) { r.alerter = a }
}

func WithPublisher(p interfaces.EventPublisher) Option {
	return func(r *Reconciler) { r.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

func New(store interfaces.OrderStore, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:  store,
		policy: DefaultRetryPolicy(),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile records a verified callback against orderID. mapped is the status
// the response code resolved to. Only a pending order whose amount matches is
// moved, and only by a single compare-and-set.
func (r *Reconciler) Reconcile(ctx context.Context, orderID string, cb entities.ReturnCallback, mapped entities.OrderStatus) (entities.ReconciliationOutcome, error) {
	out, err := r.reconcile(ctx, orderID, cb, mapped)
	if err != nil {
		return out, err
	}

	r.observe(out)
	r.log.Info("callback reconciled",
		"order_id", orderID,
		"outcome", string(out.Kind),
		"status", string(out.Status),
		"reason", out.Reason,
		"transaction_no", cb.TransactionNo,
		"response_code", cb.ResponseCode,
	)
	return out, nil
}

func (r *Reconciler) reconcile(ctx context.Context, orderID string, cb entities.ReturnCallback, mapped entities.OrderStatus) (entities.ReconciliationOutcome, error) {
	order, err := r.load(ctx, orderID)
	if errors.Is(err, storage.ErrOrderNotFound) {
		return entities.Rejected(entities.RejectUnknownOrder, ""), nil
	}
	if err != nil {
		return entities.ReconciliationOutcome{}, err
	}

	if order.Status.Terminal() {
		return entities.DuplicateIgnored(order.Status), nil
	}
	if !cb.MajorAmount().Equal(order.Amount) {
		r.log.Warn("callback amount mismatch",
			"order_id", orderID,
			"order_amount", order.Amount.String(),
			"callback_amount", cb.MajorAmount().String(),
		)
		return entities.Rejected(entities.RejectAmountMismatch, order.Status), nil
	}
	if !mapped.Terminal() {
		return entities.Rejected(entities.RejectUnknownStatus, order.Status), nil
	}

	var won bool
	err = r.retry(ctx, "update order status", orderID, func() error {
		var err error
		won, err = r.store.CompareAndSetStatus(ctx, orderID, entities.StatusPending, mapped, cb.TransactionNo, cb.ResponseCode)
		return err
	})
	if err != nil {
		return entities.ReconciliationOutcome{}, err
	}

	if !won {
		// Another delivery got there first.
		current, err := r.load(ctx, orderID)
		if err != nil {
			return entities.ReconciliationOutcome{}, err
		}
		if !current.Status.Terminal() {
			return entities.ReconciliationOutcome{}, fmt.Errorf("order %s lost status update but is still %s", orderID, current.Status)
		}
		return entities.DuplicateIgnored(current.Status), nil
	}

	if r.publisher != nil {
		order.Status = mapped
		order.TransactionNo = cb.TransactionNo
		order.ResponseCode = cb.ResponseCode
		r.publisher.PublishTransition(*order)
	}
	return entities.Applied(mapped), nil
}

func (r *Reconciler) load(ctx context.Context, orderID string) (*entities.Order, error) {
	var order *entities.Order
	err := r.retry(ctx, "load order", orderID, func() error {
		var err error
		order, err = r.store.Get(ctx, orderID)
		return err
	})
	return order, err
}

func (r *Reconciler) retry(ctx context.Context, op, orderID string, fn func() error) error {
	attempts, err := withRetry(ctx, r.policy, func(attempt int, err error) {
		if r.metrics != nil {
			r.metrics.StorageRetries.Inc()
		}
		r.log.Warn("transient storage error, retrying",
			"op", op, "order_id", orderID, "attempt", attempt, "error", err.Error())
	}, fn)
	if err == nil || !errors.Is(err, storage.ErrTransient) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		r.log.Warn("reconcile abandoned while retrying",
			"op", op, "order_id", orderID, "attempts", attempts, "error", err.Error())
		return fmt.Errorf("%s for order %s: %w", op, orderID, err)
	}

	if r.metrics != nil {
		r.metrics.StorageExhausted.Inc()
	}
	r.log.Error("storage retries exhausted",
		"op", op, "order_id", orderID, "attempts", attempts, "error", err.Error())
	if r.alerter != nil {
		msg := fmt.Sprintf("payment callback for order %s not recorded: %s failed after %d attempts", orderID, op, attempts)
		// The request may be gone by now; the alert still has to go out.
		if aerr := r.alerter.Alert(context.WithoutCancel(ctx), msg); aerr != nil {
			r.log.Error("alert failed", "order_id", orderID, "error", aerr.Error())
		}
	}
	return fmt.Errorf("%s for order %s: %w: %w", op, orderID, ErrStorageExhausted, err)
}

func (r *Reconciler) observe(out entities.ReconciliationOutcome) {
	if r.metrics == nil {
		return
	}
	detail := string(out.Status)
	if out.Kind == entities.OutcomeRejected {
		detail = out.Reason
	}
	r.metrics.ReconciliationOutcomes.WithLabelValues(string(out.Kind), detail).Inc()
}
