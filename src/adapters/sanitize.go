package adapters

import (
	"net/netip"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxOrderInfoLen = 255

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// SanitizeOrderInfo reduces free text to what VNPay accepts in vnp_OrderInfo:
// unaccented Latin letters, digits, spaces and a few separators.
func SanitizeOrderInfo(info, orderID string) string {
	info = strings.NewReplacer("đ", "d", "Đ", "D").Replace(info)
	if s, _, err := transform.String(stripMarks, info); err == nil {
		info = s
	}

	var b strings.Builder
	lastSpace := true
	for _, r := range info {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)),
			r == '.', r == ',', r == ':', r == '_', r == '-':
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	out := strings.TrimSpace(b.String())
	if len(out) > maxOrderInfoLen {
		out = strings.TrimSpace(out[:maxOrderInfoLen])
	}
	if out == "" {
		out = "Thanh toan don hang " + orderID
	}
	return out
}

// NormalizeClientIP rewrites loopback and IPv4-mapped IPv6 forms to IPv4.
// VNPay signs against IPv4-style addresses.
func NormalizeClientIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "127.0.0.1"
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return ip
	}
	if addr == netip.IPv6Loopback() {
		return "127.0.0.1"
	}
	return addr.Unmap().String()
}
