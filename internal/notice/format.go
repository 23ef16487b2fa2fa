package notice

import (
	"regexp"
	"strings"
)

// NoPhone is displayed when a notice has no phone number.
const NoPhone = "정보 없음"

// OnlyDigits strips everything but ASCII digits.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// FormatPhone hyphenates a Korean phone number by digit count. Numbers of
// other lengths are returned unchanged.
func FormatPhone(raw string) string {
	v := OnlyDigits(raw)
	switch len(v) {
	case 0:
		return NoPhone
	case 8:
		return v[:4] + "-" + v[4:]
	case 9:
		return v[:2] + "-" + v[2:5] + "-" + v[5:]
	case 10:
		if strings.HasPrefix(v, "02") {
			return v[:2] + "-" + v[2:6] + "-" + v[6:]
		}
		return v[:3] + "-" + v[3:6] + "-" + v[6:]
	case 11:
		return v[:3] + "-" + v[3:7] + "-" + v[7:]
	}
	return raw
}

// certifiedTokens are the is_certified spellings meaning certified,
// compared after trimming and upper-casing.
var certifiedTokens = []string{"O", "0", "Y", "YES", "1", "TRUE", "인증", "CERTIFIED"}

var uncertifiedTokens = []string{"X", "N", "NO", "미인증"}

// CertifiedTokens returns the accepted certified spellings.
func CertifiedTokens() []string {
	return append([]string(nil), certifiedTokens...)
}

// IsCertified reports whether the raw token means certified.
func IsCertified(raw string) bool {
	s := strings.ToUpper(strings.TrimSpace(raw))
	for _, t := range certifiedTokens {
		if s == t {
			return true
		}
	}
	return false
}

// NormalizeCert maps a raw token to "O", "X", "" or the raw value.
func NormalizeCert(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" {
		return ""
	}
	if IsCertified(s) {
		return "O"
	}
	for _, t := range uncertifiedTokens {
		if s == t {
			return "X"
		}
	}
	return raw
}

var deliveryRequestPattern = regexp.MustCompile(`^[A-Z0-9]{10,}$`)

// DeliveryRequestID returns the normalized delivery-request identifier when
// the keyword has that shape.
func DeliveryRequestID(keyword string) (string, bool) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(keyword), "-", ""))
	if deliveryRequestPattern.MatchString(norm) {
		return norm, true
	}
	return "", false
}

// KeywordTerms splits a free-text keyword into search terms, skipping
// terms that start with "-".
func KeywordTerms(keyword string) []string {
	var terms []string
	for _, t := range strings.Fields(keyword) {
		if strings.HasPrefix(t, "-") {
			continue
		}
		terms = append(terms, t)
	}
	return terms
}
