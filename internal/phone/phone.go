// Package phone owns the canonical caller identity used as the join key
// across messages, appointments, patients and chat status.
package phone

import "strings"

// mxMobilePrefix is the legacy WhatsApp form of Mexican mobiles: +52 1 XXXXXXXXXX.
const (
	mxMobilePrefix = "+521"
	mxMobileLen    = 14
)

// Canonical returns the single stored form of a caller's number.
//
// It strips a "whatsapp:" transport prefix and any formatting, guarantees a
// leading "+", and rewrites +521XXXXXXXXXX to +52XXXXXXXXXX. Canonical is
// idempotent: Canonical(Canonical(x)) == Canonical(x).
func Canonical(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "whatsapp:")

	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if digits == "" {
		return ""
	}

	out := "+" + digits
	if strings.HasPrefix(out, mxMobilePrefix) && len(out) == mxMobileLen {
		out = "+52" + out[len(mxMobilePrefix):]
	}
	return out
}

// Same reports whether two raw numbers name the same caller.
func Same(a, b string) bool {
	ca := Canonical(a)
	return ca != "" && ca == Canonical(b)
}
