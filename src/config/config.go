package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Oven29/cinema-payments/src/signing"
)

const DefaultVNPayURL = "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html"

type EnvConfig struct {
	HTTPAddr     string
	LogLevel     string
	DatabasePath string

	VNPayTmnCode       string
	VNPayHashSecret    signing.Secret
	VNPayURL           string
	VNPayReturnURL     string
	VNPayLocale        string
	VNPayOrderType     string
	VNPayExpireMinutes int

	PaymentSuccessURL string
	PaymentFailureURL string

	ReconcileMaxAttempts int
	ReconcileBackoff     time.Duration

	TelegramToken string
	TelegramID    []int64

	EventsReplay int

	hasSecret bool
}

// LoadEnvConfig reads path as a dotenv file, if present, with real
// environment variables taking precedence.
func LoadEnvConfig(path string) (*EnvConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_PATH", "data/payments.db")
	v.SetDefault("VNPAY_URL", DefaultVNPayURL)
	v.SetDefault("VNPAY_LOCALE", "vn")
	v.SetDefault("VNPAY_ORDER_TYPE", "other")
	v.SetDefault("VNPAY_EXPIRE_MINUTES", 15)
	v.SetDefault("RECONCILE_MAX_ATTEMPTS", 5)
	v.SetDefault("RECONCILE_BACKOFF", "50ms")
	v.SetDefault("EVENTS_REPLAY", 100)

	secret := strings.TrimSpace(v.GetString("VNPAY_HASH_SECRET"))
	cfg := &EnvConfig{
		HTTPAddr:             v.GetString("HTTP_ADDR"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		DatabasePath:         v.GetString("DATABASE_PATH"),
		VNPayTmnCode:         strings.TrimSpace(v.GetString("VNPAY_TMN_CODE")),
		VNPayHashSecret:      signing.NewSecret(secret),
		VNPayURL:             v.GetString("VNPAY_URL"),
		VNPayReturnURL:       v.GetString("VNPAY_RETURN_URL"),
		VNPayLocale:          v.GetString("VNPAY_LOCALE"),
		VNPayOrderType:       v.GetString("VNPAY_ORDER_TYPE"),
		VNPayExpireMinutes:   v.GetInt("VNPAY_EXPIRE_MINUTES"),
		PaymentSuccessURL:    v.GetString("PAYMENT_SUCCESS_URL"),
		PaymentFailureURL:    v.GetString("PAYMENT_FAILURE_URL"),
		ReconcileMaxAttempts: v.GetInt("RECONCILE_MAX_ATTEMPTS"),
		ReconcileBackoff:     v.GetDuration("RECONCILE_BACKOFF"),
		TelegramToken:        v.GetString("TELEGRAM_TOKEN"),
		EventsReplay:         v.GetInt("EVENTS_REPLAY"),
		hasSecret:            secret != "",
	}

	ids, err := parseIDs(v.GetString("TELEGRAM_ALERT_CHAT_IDS"))
	if err != nil {
		return nil, fmt.Errorf("TELEGRAM_ALERT_CHAT_IDS: %w", err)
	}
	cfg.TelegramID = ids
	return cfg, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ValidateWithDefaults refuses to start without signing credentials and
// fills in anything optional that was left zero.
func (e *EnvConfig) ValidateWithDefaults() error {
	if !e.hasSecret {
		return fmt.Errorf("VNPAY_HASH_SECRET is required")
	}
	if e.VNPayTmnCode == "" {
		return fmt.Errorf("VNPAY_TMN_CODE is required")
	}
	for name, raw := range map[string]string{
		"VNPAY_URL":           e.VNPayURL,
		"VNPAY_RETURN_URL":    e.VNPayReturnURL,
		"PAYMENT_SUCCESS_URL": e.PaymentSuccessURL,
		"PAYMENT_FAILURE_URL": e.PaymentFailureURL,
	} {
		if err := validateAbsoluteURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if e.VNPayExpireMinutes <= 0 {
		e.VNPayExpireMinutes = 15
	}
	if e.ReconcileMaxAttempts <= 0 {
		e.ReconcileMaxAttempts = 5
	}
	if e.ReconcileBackoff <= 0 {
		e.ReconcileBackoff = 50 * time.Millisecond
	}
	if e.EventsReplay <= 0 {
		e.EventsReplay = 100
	}
	if e.TelegramToken != "" && len(e.TelegramID) == 0 {
		return fmt.Errorf("TELEGRAM_ALERT_CHAT_IDS is required when TELEGRAM_TOKEN is set")
	}
	return nil
}

func (e *EnvConfig) ExpireAfter() time.Duration {
	return time.Duration(e.VNPayExpireMinutes) * time.Minute
}

func validateAbsoluteURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	return nil
}
