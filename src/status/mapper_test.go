package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oven29/cinema-payments/src/entities"
)

func TestMap(t *testing.T) {
	m := Default()

	tests := []struct {
		code       string
		wantStatus entities.OrderStatus
		wantReason string
	}{
		{"00", entities.StatusSuccess, "ok"},
		{"24", entities.StatusFailed, "user-cancelled"},
		{"51", entities.StatusFailed, "insufficient-funds"},
		{"11", entities.StatusFailed, "payment-timeout"},
		{"07", entities.StatusUnknown, "07"},
		{"42", entities.StatusUnknown, "42"},
		{"", entities.StatusUnknown, ""},
	}

	for _, tt := range tests {
		st, reason := m.Map(tt.code)
		assert.Equal(t, tt.wantStatus, st, "code %q", tt.code)
		assert.Equal(t, tt.wantReason, reason, "code %q", tt.code)
	}
}

func TestDefault_OnlySuccessCodeIsSuccess(t *testing.T) {
	m := Default()
	assert.Positive(t, m.Version())
	for code := range m.codes {
		st, _ := m.Map(code)
		if code != SuccessCode {
			assert.NotEqual(t, entities.StatusSuccess, st, "code %s", code)
		}
	}
}

func TestMessage(t *testing.T) {
	m := Default()
	assert.Equal(t, "Payment was cancelled", m.Message("24"))
	assert.Equal(t, "Payment result could not be confirmed", m.Message("07"))
}

func TestParse_RejectsSecondSuccessCode(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
codes:
  "00": {status: success, reason: ok}
  "07": {status: success, reason: suspicious}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only 00")
}

func TestParse_RejectsNonTerminalStatus(t *testing.T) {
	_, err := Parse([]byte(`
version: 1
codes:
  "01": {status: pending, reason: waiting}
`))
	assert.Error(t, err)
}

func TestParse_RejectsMissingVersion(t *testing.T) {
	_, err := Parse([]byte(`codes: {"00": {status: success, reason: ok}}`))
	assert.Error(t, err)
}
