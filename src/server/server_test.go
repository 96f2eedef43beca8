package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oven29/cinema-payments/src/adapters"
	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/logger"
	"github.com/Oven29/cinema-payments/src/metrics"
	"github.com/Oven29/cinema-payments/src/reconcile"
	"github.com/Oven29/cinema-payments/src/signing"
	"github.com/Oven29/cinema-payments/src/status"
	"github.com/Oven29/cinema-payments/src/storage"
)

const (
	testSecret  = "TESTHASHSECRET"
	successPage = "https://cinema.example/payment/success"
	failurePage = "https://cinema.example/payment/failure"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	srv     *Server
	store   *storage.MemoryStore
	metrics *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	provider, err := adapters.NewVNPayProvider(adapters.VNPayConfig{
		TmnCode:    "CINEMA01",
		HashSecret: signing.NewSecret(testSecret),
		BaseURL:    "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html",
		ReturnURL:  "https://cinema.example/api/payments/vnpay/return",
	})
	require.NoError(t, err)
	provider.Now = func() time.Time { return time.Date(2024, 3, 1, 5, 0, 0, 0, time.UTC) }

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := storage.NewMemoryStore()
	log := logger.Discard()

	srv := New(Deps{
		Provider:   provider,
		Orders:     store,
		Mapper:     status.Default(),
		Reconciler: reconcile.New(store, reconcile.WithLogger(log), reconcile.WithMetrics(m)),
		Metrics:    m,
		Gatherer:   reg,
		Log:        log,
		SuccessURL: successPage,
		FailureURL: failurePage,
	})
	return &harness{srv: srv, store: store, metrics: m}
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (h *harness) seed(t *testing.T, id, amount string) {
	t.Helper()
	require.NoError(t, h.store.Create(context.Background(), entities.Order{
		ID:     id,
		Amount: decimal.RequireFromString(amount),
		Status: entities.StatusPending,
	}))
}

func (h *harness) orderStatus(t *testing.T, id string) entities.OrderStatus {
	t.Helper()
	o, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return o.Status
}

func callbackFields(orderID, scaled, code string) map[signing.Field]string {
	return map[signing.Field]string{
		signing.FieldTmnCode:           "CINEMA01",
		signing.FieldTxnRef:            orderID,
		signing.FieldAmount:            scaled,
		signing.FieldResponseCode:      code,
		signing.FieldTransactionStatus: code,
		signing.FieldTransactionNo:     "14123456",
		signing.FieldBankCode:          "NCB",
		signing.FieldOrderInfo:         "Thanh toan don hang " + orderID,
		signing.FieldPayDate:           "20240301120500",
	}
}

func signedQuery(t *testing.T, fields map[signing.Field]string) url.Values {
	t.Helper()
	ps := signing.NewParameterSet()
	q := url.Values{}
	for k, v := range fields {
		ps.Set(k, v)
		q.Set(string(k), v)
	}
	canonical, err := signing.Canonicalize(ps)
	require.NoError(t, err)
	engine, err := signing.NewEngine(signing.NewSecret(testSecret))
	require.NoError(t, err)
	q.Set(string(signing.FieldSecureHash), strings.ToUpper(engine.Sign(canonical)))
	return q
}

func redirectTarget(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return u
}

func TestCreateThenReturn_EndToEnd(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodPost, "/api/payments/vnpay/create",
		`{"amount":100000,"orderId":"ORDER1","orderInfo":"Ve xem phim"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created createResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.True(t, created.Success)
	assert.Equal(t, "ORDER1", created.OrderID)
	assert.Equal(t, json.Number("100000"), created.Amount)

	payURL, err := url.Parse(created.PaymentURL)
	require.NoError(t, err)
	assert.Equal(t, "10000000", payURL.Query().Get("vnp_Amount"))
	assert.Equal(t, "ORDER1", payURL.Query().Get("vnp_TxnRef"))
	assert.Equal(t, entities.StatusPending, h.orderStatus(t, "ORDER1"))

	q := signedQuery(t, callbackFields("ORDER1", "10000000", "00"))
	rec = h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	target := redirectTarget(t, rec)
	assert.Equal(t, "cinema.example", target.Host)
	assert.Equal(t, "/payment/success", target.Path)
	assert.Equal(t, "ORDER1", target.Query().Get("orderId"))
	assert.Equal(t, "100000", target.Query().Get("amount"))
	assert.Equal(t, "14123456", target.Query().Get("transactionNo"))
	assert.Equal(t, entities.StatusSuccess, h.orderStatus(t, "ORDER1"))

	// A replay of the same callback lands on the same page and changes nothing.
	rec = h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	assert.Equal(t, "/payment/success", redirectTarget(t, rec).Path)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		h.metrics.ReconciliationOutcomes.WithLabelValues(string(entities.OutcomeApplied), string(entities.StatusSuccess))))
}

func TestReturn_SettledOrderReportsRecordedPayment(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER8", "100000")

	first := signedQuery(t, callbackFields("ORDER8", "10000000", "00"))
	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+first.Encode(), "")
	require.Equal(t, "/payment/success", redirectTarget(t, rec).Path)

	// A later, validly signed delivery for another attempt on the same order.
	fields := callbackFields("ORDER8", "100", "00")
	fields[signing.FieldTransactionNo] = "99999999"
	second := signedQuery(t, fields)
	rec = h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+second.Encode(), "")

	target := redirectTarget(t, rec)
	assert.Equal(t, "/payment/success", target.Path)
	assert.Equal(t, "100000", target.Query().Get("amount"))
	assert.Equal(t, "14123456", target.Query().Get("transactionNo"))
}

func TestReturn_TamperedHashLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER1", "100000")

	q := signedQuery(t, callbackFields("ORDER1", "10000000", "00"))
	hash := []byte(q.Get("vnp_SecureHash"))
	if hash[0] == '0' {
		hash[0] = '1'
	} else {
		hash[0] = '0'
	}
	q.Set("vnp_SecureHash", string(hash))

	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	target := redirectTarget(t, rec)
	assert.Equal(t, "/payment/failure", target.Path)
	assert.Equal(t, TagInvalidSignature, target.Query().Get("error"))
	assert.Equal(t, "ORDER1", target.Query().Get("orderId"))
	assert.Equal(t, entities.StatusPending, h.orderStatus(t, "ORDER1"))
}

func TestReturn_MissingParams(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?vnp_TxnRef=ORDER1", "")
	target := redirectTarget(t, rec)
	assert.Equal(t, "/payment/failure", target.Path)
	assert.Equal(t, TagMissingParams, target.Query().Get("error"))
}

func TestReturn_UnsafeOrderIDIsNotEchoed(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?vnp_TxnRef=%3Cscript%3E", "")
	target := redirectTarget(t, rec)
	assert.Empty(t, target.Query().Get("orderId"))
}

func TestReturn_FailedPayment(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER2", "50000")

	q := signedQuery(t, callbackFields("ORDER2", "5000000", "24"))
	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	target := redirectTarget(t, rec)
	assert.Equal(t, "/payment/failure", target.Path)
	assert.Equal(t, TagPaymentFailed, target.Query().Get("error"))
	assert.Equal(t, "24", target.Query().Get("responseCode"))
	assert.NotEmpty(t, target.Query().Get("message"))
	assert.Equal(t, entities.StatusFailed, h.orderStatus(t, "ORDER2"))
}

func TestReturn_UnknownCodeLeavesPending(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER3", "50000")

	q := signedQuery(t, callbackFields("ORDER3", "5000000", "07"))
	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	assert.Equal(t, TagUnknownStatus, redirectTarget(t, rec).Query().Get("error"))
	assert.Equal(t, entities.StatusPending, h.orderStatus(t, "ORDER3"))
}

func TestReturn_AmountMismatch(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER4", "50000")

	q := signedQuery(t, callbackFields("ORDER4", "100", "00"))
	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	assert.Equal(t, TagAmountMismatch, redirectTarget(t, rec).Query().Get("error"))
	assert.Equal(t, entities.StatusPending, h.orderStatus(t, "ORDER4"))
}

func TestReturn_UnknownOrder(t *testing.T) {
	h := newHarness(t)

	q := signedQuery(t, callbackFields("NOPE", "100", "00"))
	rec := h.do(t, http.MethodGet, "/api/payments/vnpay/return?"+q.Encode(), "")
	assert.Equal(t, TagUnknownOrder, redirectTarget(t, rec).Query().Get("error"))
}

func TestIPN(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER5", "75000")

	call := func(q url.Values) ipnResponse {
		rec := h.do(t, http.MethodGet, "/api/payments/vnpay/ipn?"+q.Encode(), "")
		require.Equal(t, http.StatusOK, rec.Code)
		var resp ipnResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		return resp
	}

	bad := signedQuery(t, callbackFields("ORDER5", "7500000", "00"))
	bad.Set("vnp_TransactionNo", "99999999")
	assert.Equal(t, ipnInvalidSignature, call(bad).RspCode)

	assert.Equal(t, ipnOrderNotFound, call(signedQuery(t, callbackFields("GHOST", "7500000", "00"))).RspCode)
	assert.Equal(t, ipnInvalidAmount, call(signedQuery(t, callbackFields("ORDER5", "1", "00"))).RspCode)

	good := signedQuery(t, callbackFields("ORDER5", "7500000", "00"))
	assert.Equal(t, ipnConfirmed, call(good).RspCode)
	assert.Equal(t, ipnAlreadyConfirmed, call(good).RspCode)
	assert.Equal(t, entities.StatusSuccess, h.orderStatus(t, "ORDER5"))

	assert.Equal(t, ipnUnknownError, call(url.Values{"vnp_TxnRef": {"ORDER5"}}).RspCode)
}

func TestCreate_ValidationErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name  string
		body  string
		code  int
		field string
	}{
		{"zero amount", `{"amount":0,"orderId":"A1"}`, http.StatusBadRequest, "amount"},
		{"negative amount", `{"amount":-5,"orderId":"A1"}`, http.StatusBadRequest, "amount"},
		{"bad order id", `{"amount":1000,"orderId":"has space"}`, http.StatusBadRequest, "orderId"},
		{"amount past provider range", `{"amount":1e20,"orderId":"A1"}`, http.StatusBadRequest, "amount"},
		{"amount not a number", `{"amount":"abc","orderId":"A1"}`, http.StatusBadRequest, "amount"},
		{"order id not a string", `{"amount":1000,"orderId":123}`, http.StatusBadRequest, "orderId"},
		{"bank code not a string", `{"amount":1000,"orderId":"A1","bankCode":false}`, http.StatusBadRequest, "bankCode"},
		{"malformed json", `{"amount":`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/api/payments/vnpay/create", tt.body)
			assert.Equal(t, tt.code, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["success"])
			if tt.field != "" {
				assert.Equal(t, tt.field, body["field"])
			} else {
				assert.NotContains(t, body, "field")
			}
		})
	}
}

func TestCreate_ConflictingOrder(t *testing.T) {
	h := newHarness(t)

	body := `{"amount":100000,"orderId":"ORDER6"}`
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/payments/vnpay/create", body).Code)
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/api/payments/vnpay/create", body).Code)

	rec := h.do(t, http.MethodPost, "/api/payments/vnpay/create", `{"amount":200000,"orderId":"ORDER6"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestOrderLookup(t *testing.T) {
	h := newHarness(t)
	h.seed(t, "ORDER7", "120000")

	rec := h.do(t, http.MethodGet, "/api/orders/ORDER7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	rec = h.do(t, http.MethodGet, "/api/orders/MISSING", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDAndMetricsEndpoints(t *testing.T) {
	h := newHarness(t)

	rec := h.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = h.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_request_duration_seconds")
}
