// Package signing holds the canonical parameter encoding and the keyed hash
// shared by outbound payment URLs and inbound provider callbacks.
package signing

import (
	"net/url"
	"sort"
	"strings"
)

type Field string

const (
	FieldVersion           Field = "vnp_Version"
	FieldCommand           Field = "vnp_Command"
	FieldTmnCode           Field = "vnp_TmnCode"
	FieldAmount            Field = "vnp_Amount"
	FieldCurrCode          Field = "vnp_CurrCode"
	FieldLocale            Field = "vnp_Locale"
	FieldOrderInfo         Field = "vnp_OrderInfo"
	FieldOrderType         Field = "vnp_OrderType"
	FieldReturnURL         Field = "vnp_ReturnUrl"
	FieldIPAddr            Field = "vnp_IpAddr"
	FieldCreateDate        Field = "vnp_CreateDate"
	FieldExpireDate        Field = "vnp_ExpireDate"
	FieldTxnRef            Field = "vnp_TxnRef"
	FieldBankCode          Field = "vnp_BankCode"
	FieldSecureHash        Field = "vnp_SecureHash"
	FieldSecureHashType    Field = "vnp_SecureHashType"
	FieldResponseCode      Field = "vnp_ResponseCode"
	FieldTransactionNo     Field = "vnp_TransactionNo"
	FieldTransactionStatus Field = "vnp_TransactionStatus"
	FieldBankTranNo        Field = "vnp_BankTranNo"
	FieldCardType          Field = "vnp_CardType"
	FieldPayDate           Field = "vnp_PayDate"
)

// fieldPrefix marks the provider's namespace. Anything else on the query
// string (tracking params, cache busters) is not signed by the provider.
const fieldPrefix = "vnp_"

// hashFields never take part in the signed string.
var hashFields = map[Field]bool{
	FieldSecureHash:     true,
	FieldSecureHashType: true,
}

type entry struct {
	key   string
	value string
}

// ParameterSet is a flat provider payload. Entries keep insertion order only
// for debugging; Canonicalize imposes its own ordering.
type ParameterSet struct {
	entries []entry
}

func NewParameterSet() *ParameterSet {
	return &ParameterSet{}
}

// FromValues builds a set from a parsed query string. Every repeated value is
// kept as its own entry so canonicalization can reject it.
func FromValues(values url.Values) *ParameterSet {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ps := NewParameterSet()
	for _, k := range keys {
		if !strings.HasPrefix(normalizeKey(k), fieldPrefix) {
			continue
		}
		for _, v := range values[k] {
			ps.entries = append(ps.entries, entry{key: k, value: v})
		}
	}
	return ps
}

// Set appends a field. Empty values are accepted here and dropped later.
func (ps *ParameterSet) Set(f Field, value string) *ParameterSet {
	ps.entries = append(ps.entries, entry{key: string(f), value: value})
	return ps
}

// Get returns the first value stored under f.
func (ps *ParameterSet) Get(f Field) (string, bool) {
	for _, e := range ps.entries {
		if normalizeKey(e.key) == string(f) {
			return e.value, true
		}
	}
	return "", false
}

// Has reports whether f is present with a non-empty value.
func (ps *ParameterSet) Has(f Field) bool {
	v, ok := ps.Get(f)
	return ok && v != ""
}

// Without returns a copy of the set with every entry for f removed.
func (ps *ParameterSet) Without(f Field) *ParameterSet {
	out := &ParameterSet{entries: make([]entry, 0, len(ps.entries))}
	for _, e := range ps.entries {
		if normalizeKey(e.key) != string(f) {
			out.entries = append(out.entries, e)
		}
	}
	return out
}

func (ps *ParameterSet) Len() int {
	return len(ps.entries)
}

// Values renders the set as url.Values for logging and audit. It is not the
// signing input.
func (ps *ParameterSet) Values() url.Values {
	v := url.Values{}
	for _, e := range ps.entries {
		v.Add(e.key, e.value)
	}
	return v
}

func normalizeKey(k string) string {
	return strings.TrimSpace(k)
}
