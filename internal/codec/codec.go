// Package codec holds the pure conversion functions shared by the record
// extractors: vendor epoch timestamps, multi-value label codes, phone-number
// normalization, and message dedup signatures.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// appleEpoch is the base of the vendor timestamp encoding used by the
// mobile platform's native databases: seconds since 2001-01-01T00:00:00Z.
var appleEpoch = time.Date(2001, time.January, 1, 0, 0, 0, 0, time.UTC)

// FromAppleEpoch converts a vendor-epoch second count to a standard time.
// Some OS versions store nanoseconds instead of seconds; values that would
// land implausibly far in the future are reinterpreted as nanoseconds.
func FromAppleEpoch(v int64) time.Time {
	// Anything beyond ~3100 years of seconds is a nanosecond-encoded value.
	if v > 1e13 {
		return appleEpoch.Add(time.Duration(v))
	}
	return appleEpoch.Add(time.Duration(v) * time.Second)
}

// ToAppleEpoch converts a standard time to vendor-epoch seconds.
func ToAppleEpoch(t time.Time) int64 {
	return int64(t.Sub(appleEpoch) / time.Second)
}

// phoneLabels maps the address book's numeric label codes for phone numbers.
var phoneLabels = map[int64]string{
	0: "mobile",
	1: "home",
	2: "work",
	3: "main",
	4: "home fax",
	5: "work fax",
	6: "pager",
	7: "other",
}

// emailLabels maps the address book's numeric label codes for emails.
var emailLabels = map[int64]string{
	0: "home",
	1: "work",
	2: "other",
}

// PhoneLabel maps a phone label code to its human label, falling back to
// "other" for unrecognized codes.
func PhoneLabel(code int64) string {
	if l, ok := phoneLabels[code]; ok {
		return l
	}
	return "other"
}

// EmailLabel maps an email label code to its human label, falling back to
// "other" for unrecognized codes.
func EmailLabel(code int64) string {
	if l, ok := emailLabels[code]; ok {
		return l
	}
	return "other"
}

// NormalizePhone canonicalizes a phone identity: strips a leading "+1"
// country prefix and all non-digit characters, then formats 10-digit
// results as "(AAA) BBB-CCCC". Other lengths come back as bare digits.
// Identities with no digits at all (email-style handles) pass through
// unchanged so they remain usable as thread keys.
func NormalizePhone(raw string) string {
	digits := digitsOnly(raw)
	if digits == "" {
		return strings.TrimSpace(raw)
	}
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return digits
	}
	var b strings.Builder
	b.Grow(14)
	b.WriteByte('(')
	b.WriteString(digits[0:3])
	b.WriteString(") ")
	b.WriteString(digits[3:6])
	b.WriteByte('-')
	b.WriteString(digits[6:10])
	return b.String()
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DedupSignature returns a stable hex signature over a message's normalized
// phone identity and content. Two messages with the same signature and
// nearby timestamps are treated as one record even when their source ids
// differ, because source ids are not stable across re-exports.
func DedupSignature(identity, content string) string {
	h := sha256.New()
	h.Write([]byte(NormalizePhone(identity)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
