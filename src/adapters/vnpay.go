package adapters

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Oven29/cinema-payments/src/entities"
	"github.com/Oven29/cinema-payments/src/signing"
)

const (
	vnpVersion  = "2.1.0"
	vnpCommand  = "pay"
	vnpCurrency = "VND"
	dateLayout  = "20060102150405"
)

var (
	ErrInvalidAmount   = errors.New("amount must be greater than 0")
	ErrAmountTooLarge  = errors.New("amount is too large")
	ErrInvalidOrderID  = errors.New("orderId must be 1-100 characters of A-Z, a-z, 0-9, '_' or '-'")
	ErrInvalidBankCode = errors.New("bankCode must be 1-20 alphanumeric characters")
)

var (
	orderIDPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)
	bankCodePattern = regexp.MustCompile(`^[A-Za-z0-9]{1,20}$`)

	// VNPay stamps dates in Vietnam time.
	vnTimezone = time.FixedZone("ICT", 7*60*60)
	hundred    = decimal.NewFromInt(100)
	maxScaled  = decimal.NewFromInt(math.MaxInt64)
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

type VNPayConfig struct {
	TmnCode     string
	HashSecret  signing.Secret
	BaseURL     string
	ReturnURL   string
	Locale      string
	OrderType   string
	ExpireAfter time.Duration
}

type VNPayProvider struct {
	TmnCode     string
	BaseURL     string
	ReturnURL   string
	Locale      string
	OrderType   string
	ExpireAfter time.Duration
	Now         func() time.Time

	engine *signing.Engine
}

func NewVNPayProvider(cfg VNPayConfig) (*VNPayProvider, error) {
	engine, err := signing.NewEngine(cfg.HashSecret)
	if err != nil {
		return nil, err
	}
	if cfg.TmnCode == "" {
		return nil, fmt.Errorf("vnpay: terminal code not set")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("vnpay: base url: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.ReturnURL); err != nil {
		return nil, fmt.Errorf("vnpay: return url: %w", err)
	}

	p := &VNPayProvider{
		TmnCode:     cfg.TmnCode,
		BaseURL:     cfg.BaseURL,
		ReturnURL:   cfg.ReturnURL,
		Locale:      cfg.Locale,
		OrderType:   cfg.OrderType,
		ExpireAfter: cfg.ExpireAfter,
		Now:         time.Now,
		engine:      engine,
	}
	if p.Locale == "" {
		p.Locale = "vn"
	}
	if p.OrderType == "" {
		p.OrderType = "other"
	}
	if p.ExpireAfter <= 0 {
		p.ExpireAfter = 15 * time.Minute
	}
	return p, nil
}

// ValidOrderID reports whether id is usable as a VNPay TxnRef.
func ValidOrderID(id string) bool {
	return orderIDPattern.MatchString(id)
}

// ScaleAmount converts VND to the provider's minor unit (x100, rounded). ok is
// false when the scaled value does not fit in an int64.
func ScaleAmount(amount decimal.Decimal) (scaled int64, ok bool) {
	d := amount.Mul(hundred).Round(0)
	if d.GreaterThan(maxScaled) || d.LessThan(maxScaled.Neg()) {
		return 0, false
	}
	return d.IntPart(), true
}

func (p *VNPayProvider) CreatePayment(ctx context.Context, req entities.PaymentRequest) (*entities.PaymentResponse, error) {
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	scaled, ok := ScaleAmount(req.Amount)
	if !ok {
		return nil, &ValidationError{Field: "amount", Err: ErrAmountTooLarge}
	}
	if scaled <= 0 {
		return nil, &ValidationError{Field: "amount", Err: ErrInvalidAmount}
	}
	if !ValidOrderID(req.OrderID) {
		return nil, &ValidationError{Field: "orderId", Err: ErrInvalidOrderID}
	}
	if req.BankCode != "" && !bankCodePattern.MatchString(req.BankCode) {
		return nil, &ValidationError{Field: "bankCode", Err: ErrInvalidBankCode}
	}

	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = p.Now()
	}
	createdAt = createdAt.In(vnTimezone)

	params := signing.NewParameterSet().
		Set(signing.FieldVersion, vnpVersion).
		Set(signing.FieldCommand, vnpCommand).
		Set(signing.FieldTmnCode, p.TmnCode).
		Set(signing.FieldAmount, strconv.FormatInt(scaled, 10)).
		Set(signing.FieldCurrCode, vnpCurrency).
		Set(signing.FieldLocale, p.Locale).
		Set(signing.FieldOrderInfo, SanitizeOrderInfo(req.OrderInfo, req.OrderID)).
		Set(signing.FieldOrderType, p.OrderType).
		Set(signing.FieldReturnURL, p.ReturnURL).
		Set(signing.FieldIPAddr, NormalizeClientIP(req.ClientIP)).
		Set(signing.FieldCreateDate, createdAt.Format(dateLayout)).
		Set(signing.FieldExpireDate, createdAt.Add(p.ExpireAfter).Format(dateLayout)).
		Set(signing.FieldTxnRef, req.OrderID).
		Set(signing.FieldBankCode, req.BankCode)

	canonical, err := signing.Canonicalize(params)
	if err != nil {
		return nil, fmt.Errorf("canonicalize payment params: %w", err)
	}
	hash := p.engine.Sign(canonical)

	paymentURL := fmt.Sprintf("%s?%s&%s=%s", p.BaseURL, canonical, signing.FieldSecureHash, hash)

	return &entities.PaymentResponse{
		PaymentURL:   paymentURL,
		OrderID:      req.OrderID,
		Amount:       req.Amount,
		ScaledAmount: scaled,
	}, nil
}

// VerifyReturn authenticates a provider callback. The typed callback is only
// returned alongside a Valid result.
func (p *VNPayProvider) VerifyReturn(params *signing.ParameterSet) (entities.VerificationResult, *entities.ReturnCallback) {
	for _, f := range []signing.Field{signing.FieldTxnRef, signing.FieldResponseCode, signing.FieldSecureHash} {
		if !params.Has(f) {
			return entities.Invalid(entities.ReasonMissingFields), nil
		}
	}

	claimed, _ := params.Get(signing.FieldSecureHash)
	// Canonicalize drops the hash fields itself, after the duplicate check has
	// seen them.
	canonical, err := signing.Canonicalize(params)
	if err != nil {
		var dup *signing.DuplicateKeyError
		if errors.As(err, &dup) {
			return entities.Invalid(entities.ReasonDuplicateField), nil
		}
		return entities.Invalid(entities.ReasonMalformedFields), nil
	}
	if !p.engine.Verify(canonical, claimed) {
		return entities.Invalid(entities.ReasonSignatureMismatch), nil
	}

	cb := &entities.ReturnCallback{}
	cb.TxnRef, _ = params.Get(signing.FieldTxnRef)
	cb.ResponseCode, _ = params.Get(signing.FieldResponseCode)
	cb.TransactionNo, _ = params.Get(signing.FieldTransactionNo)
	cb.BankCode, _ = params.Get(signing.FieldBankCode)
	cb.PayDate, _ = params.Get(signing.FieldPayDate)

	rawAmount, _ := params.Get(signing.FieldAmount)
	amount, err := strconv.ParseInt(rawAmount, 10, 64)
	if err != nil || amount <= 0 {
		return entities.Invalid(entities.ReasonMalformedFields), nil
	}
	cb.Amount = amount

	return entities.Valid(), cb
}
