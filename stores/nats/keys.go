package nats

import (
	"fmt"
	"regexp"
	"strings"

	aa "github.com/panyam/authadapters"
)

// KeySeparator joins key segments. NATS KV keys are subject-like, so "." is
// the natural separator and ":" is not allowed at all.
const KeySeparator = "."

var validKey = regexp.MustCompile(`^[-/_=.a-zA-Z0-9]+$`)

// ValidKey reports whether key is accepted by JetStream KV.
func ValidKey(key string) bool {
	if !validKey.MatchString(key) {
		return false
	}
	return !strings.HasPrefix(key, ".") && !strings.HasSuffix(key, ".") && !strings.Contains(key, "..")
}

// EscapeKeyPart applies the default escape policy for the "." separator and
// then hex escapes every remaining byte outside the KV alphabet as "=XX".
// "=" itself is escaped too, so the fallback cannot collide with plain text.
func EscapeKeyPart(part string) string {
	part = aa.EscapePart(part, KeySeparator)
	var b strings.Builder
	for i := 0; i < len(part); i++ {
		c := part[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '/':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "=%02X", c)
		}
	}
	return b.String()
}

// KeyEncoder returns the encoder kv.Adapter must use on this medium. The
// prefix is used verbatim and must itself be a valid key segment.
func KeyEncoder(prefix string) aa.KeyEncoder {
	return aa.KeyEncoder{Prefix: prefix, Separator: KeySeparator, Escape: EscapeKeyPart}
}
