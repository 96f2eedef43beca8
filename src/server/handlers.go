package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"

	"github.com/Oven29/cinema-payments/src/adapters"
	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/signing"
	"github.com/Oven29/cinema-payments/src/storage"
)

const maxCreateBody = 16 << 10

type createRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	OrderID   string          `json:"orderId"`
	OrderInfo string          `json:"orderInfo"`
	BankCode  string          `json:"bankCode"`
	IPAddr    string          `json:"ipAddr"`
}

type createResponse struct {
	Success    bool        `json:"success"`
	PaymentURL string      `json:"paymentUrl"`
	OrderID    string      `json:"orderId"`
	Amount     json.Number `json:"amount"`
}

func (s *Server) handleCreate(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxCreateBody)

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid JSON body"})
		return
	}
	var req createRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		resp := gin.H{"success": false, "error": "invalid JSON body"}
		if field := badField(body, err); field != "" {
			resp["error"] = "invalid value for " + field
			resp["field"] = field
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	ip := req.IPAddr
	if ip == "" {
		ip = c.ClientIP()
	}

	resp, err := s.Provider.CreatePayment(c.Request.Context(), entities.PaymentRequest{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		OrderInfo: req.OrderInfo,
		BankCode:  req.BankCode,
		ClientIP:  ip,
		CreatedAt: time.Now(),
	})
	if err == nil {
		err = s.registerPending(c.Request.Context(), req.OrderID, req.Amount)
	}
	if err != nil {
		s.writeCreateError(c, req.OrderID, err)
		return
	}

	if s.Metrics != nil {
		s.Metrics.PaymentURLsIssued.Inc()
	}
	s.Log.Info("payment url issued",
		"request_id", requestID(c),
		"order_id", resp.OrderID,
		"amount", resp.Amount.String(),
		"scaled_amount", resp.ScaledAmount,
	)
	c.JSON(http.StatusOK, createResponse{
		Success:    true,
		PaymentURL: resp.PaymentURL,
		OrderID:    resp.OrderID,
		Amount:     json.Number(resp.Amount.String()),
	})
}

// badField names the request field a decode error came from, or "" when the
// body is not a JSON object at all.
func badField(body []byte, err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return typeErr.Field
	}

	var raw map[string]json.RawMessage
	if json.Unmarshal(body, &raw) != nil {
		return ""
	}
	if v, ok := raw["amount"]; ok {
		var d decimal.Decimal
		if d.UnmarshalJSON(v) != nil {
			return "amount"
		}
	}
	for _, key := range []string{"orderId", "orderInfo", "bankCode", "ipAddr"} {
		if v, ok := raw[key]; ok {
			var str string
			if json.Unmarshal(v, &str) != nil {
				return key
			}
		}
	}
	return ""
}

// registerPending records the order before the customer leaves for VNPay.
// Asking again for the same pending order and amount is fine.
func (s *Server) registerPending(ctx context.Context, orderID string, amount decimal.Decimal) error {
	err := s.Orders.Create(ctx, entities.Order{ID: orderID, Amount: amount, Status: entities.StatusPending})
	if !errors.Is(err, storage.ErrOrderExists) {
		return err
	}

	existing, err := s.Orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if existing.Status != entities.StatusPending || !existing.Amount.Equal(amount) {
		return fmt.Errorf("order %s: %w", orderID, ErrOrderConflict)
	}
	return nil
}

func (s *Server) writeCreateError(c *gin.Context, orderID string, err error) {
	code := HTTPStatus(err)
	body := gin.H{"success": false}

	var verr *adapters.ValidationError
	switch {
	case errors.As(err, &verr):
		body["error"] = verr.Error()
		body["field"] = verr.Field
		if s.Metrics != nil {
			s.Metrics.PaymentURLsRejected.WithLabelValues(verr.Field).Inc()
		}
	case code == http.StatusConflict:
		body["error"] = ErrOrderConflict.Error()
	default:
		body["error"] = "failed to create payment url"
		s.Log.Error("create payment failed",
			"request_id", requestID(c), "order_id", orderID, "error", err.Error())
	}
	c.JSON(code, body)
}

func (s *Server) handleReturn(c *gin.Context) {
	query := c.Request.URL.Query()
	params := signing.FromValues(query)

	res, cb := s.Provider.VerifyReturn(params)
	s.countCallback("return", res)
	if !res.Valid {
		s.auditRejected(c, "return", res, query)
		s.redirectFailure(c, safeOrderID(query), query.Get(string(signing.FieldResponseCode)),
			verificationTag(res.Reason), "Payment could not be verified")
		return
	}

	mapped, _ := s.Mapper.Map(cb.ResponseCode)
	out, err := s.Reconciler.Reconcile(c.Request.Context(), cb.TxnRef, *cb, mapped)
	if err != nil {
		s.Log.Error("reconcile failed",
			"request_id", requestID(c), "channel", "return", "order_id", cb.TxnRef, "error", err.Error())
		s.redirectFailure(c, cb.TxnRef, cb.ResponseCode, TagInternal, "Payment result could not be recorded")
		return
	}

	switch {
	case out.Kind == entities.OutcomeRejected:
		s.redirectFailure(c, cb.TxnRef, cb.ResponseCode, rejectionTag(out.Reason), s.Mapper.Message(cb.ResponseCode))
	case out.Kind == entities.OutcomeApplied && out.Status == entities.StatusSuccess:
		s.redirectSuccess(c, cb.TxnRef, cb.MajorAmount(), cb.TransactionNo)
	case out.Status == entities.StatusSuccess:
		// Already settled: report what was recorded, not what this delivery claims.
		order, err := s.Orders.Get(c.Request.Context(), cb.TxnRef)
		if err != nil {
			s.Log.Error("order lookup failed",
				"request_id", requestID(c), "order_id", cb.TxnRef, "error", err.Error())
			s.redirectFailure(c, cb.TxnRef, cb.ResponseCode, TagInternal, "Payment result could not be recorded")
			return
		}
		s.redirectSuccess(c, order.ID, order.Amount, order.TransactionNo)
	default:
		s.redirectFailure(c, cb.TxnRef, cb.ResponseCode, TagPaymentFailed, s.Mapper.Message(cb.ResponseCode))
	}
}

func (s *Server) handleIPN(c *gin.Context) {
	query := c.Request.URL.Query()
	params := signing.FromValues(query)

	res, cb := s.Provider.VerifyReturn(params)
	s.countCallback("ipn", res)
	if !res.Valid {
		s.auditRejected(c, "ipn", res, query)
		c.JSON(http.StatusOK, ipnForVerification(res.Reason))
		return
	}

	mapped, _ := s.Mapper.Map(cb.ResponseCode)
	out, err := s.Reconciler.Reconcile(c.Request.Context(), cb.TxnRef, *cb, mapped)
	if err != nil {
		s.Log.Error("reconcile failed",
			"request_id", requestID(c), "channel", "ipn", "order_id", cb.TxnRef, "error", err.Error())
	}
	c.JSON(http.StatusOK, ipnForOutcome(out, err))
}

func (s *Server) handleOrder(c *gin.Context) {
	order, err := s.Orders.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrOrderNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "order not found"})
		return
	}
	if err != nil {
		s.Log.Error("order lookup failed", "request_id", requestID(c), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "order lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "order": order})
}

func (s *Server) redirectSuccess(c *gin.Context, orderID string, amount decimal.Decimal, transactionNo string) {
	q := url.Values{}
	q.Set("orderId", orderID)
	q.Set("amount", amount.String())
	q.Set("transactionNo", transactionNo)
	c.Redirect(http.StatusFound, withQuery(s.SuccessURL, q))
}

func (s *Server) redirectFailure(c *gin.Context, orderID, responseCode, tag, message string) {
	q := url.Values{}
	if orderID != "" {
		q.Set("orderId", orderID)
	}
	if responseCode != "" {
		q.Set("responseCode", responseCode)
	}
	q.Set("message", message)
	q.Set("error", tag)
	c.Redirect(http.StatusFound, withQuery(s.FailureURL, q))
}

// auditRejected records a callback that failed verification. The raw query is
// what the caller sent; nothing derived from the secret is logged.
func (s *Server) auditRejected(c *gin.Context, channel string, res entities.VerificationResult, query url.Values) {
	s.Log.Warn("callback rejected",
		"request_id", requestID(c),
		"channel", channel,
		"reason", res.Reason,
		"remote_ip", c.ClientIP(),
		"query", query.Encode(),
	)
}

func (s *Server) countCallback(channel string, res entities.VerificationResult) {
	if s.Metrics == nil {
		return
	}
	result := "valid"
	if !res.Valid {
		result = res.Reason
	}
	s.Metrics.Callbacks.WithLabelValues(channel, result).Inc()
}

// safeOrderID echoes the untrusted txn ref only when it looks like one of ours.
func safeOrderID(q url.Values) string {
	id := q.Get(string(signing.FieldTxnRef))
	if !adapters.ValidOrderID(id) {
		return ""
	}
	return id
}

func withQuery(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	merged := u.Query()
	for k, vs := range q {
		merged[k] = vs
	}
	u.RawQuery = merged.Encode()
	return u.String()
}
