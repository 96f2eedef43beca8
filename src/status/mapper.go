// Package status translates provider response codes into order statuses.
package status

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Oven29/cinema-payments/src/entities"
)

// SuccessCode is the only code allowed to resolve to success.
const SuccessCode = "00"

//go:embed codes.yaml
var defaultTable []byte

type entry struct {
	Status  string `yaml:"status"`
	Reason  string `yaml:"reason"`
	Message string `yaml:"message"`
}

type table struct {
	Version int              `yaml:"version"`
	Codes   map[string]entry `yaml:"codes"`
}

type Mapper struct {
	version int
	codes   map[string]entry
}

// Default returns the mapper built from the embedded table.
func Default() *Mapper {
	m, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("status: embedded table: %v", err))
	}
	return m
}

// Parse loads a code table. Only terminal statuses may appear, and only
// SuccessCode may map to success.
func Parse(data []byte) (*Mapper, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("decode table: %w", err)
	}
	if t.Version <= 0 {
		return nil, fmt.Errorf("table version must be positive")
	}
	for code, e := range t.Codes {
		st, err := entities.ParseOrderStatus(e.Status)
		if err != nil {
			return nil, fmt.Errorf("code %s: %w", code, err)
		}
		if !st.Terminal() {
			return nil, fmt.Errorf("code %s: status %s is not terminal", code, st)
		}
		if st == entities.StatusSuccess && code != SuccessCode {
			return nil, fmt.Errorf("code %s: only %s may map to success", code, SuccessCode)
		}
		if e.Reason == "" {
			return nil, fmt.Errorf("code %s: missing reason", code)
		}
	}
	return &Mapper{version: t.Version, codes: t.Codes}, nil
}

// Map resolves a response code. Unlisted codes come back as unknown with the
// raw code as the reason.
func (m *Mapper) Map(code string) (entities.OrderStatus, string) {
	e, ok := m.codes[code]
	if !ok {
		return entities.StatusUnknown, code
	}
	return entities.OrderStatus(e.Status), e.Reason
}

// Message is the customer-facing text for code.
func (m *Mapper) Message(code string) string {
	if e, ok := m.codes[code]; ok && e.Message != "" {
		return e.Message
	}
	return "Payment result could not be confirmed"
}

func (m *Mapper) Version() int {
	return m.version
}
