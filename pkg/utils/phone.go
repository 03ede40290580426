package utils

import (
	"strings"

	"gitlab.com/orenda/api/leadflow-engine/internal/apperrors"
)

// NormalizePhone canonicalizes a raw phone string into the recipient ID used
// as the join key between leads and outbound addressing. Every non-digit
// character is dropped, so "+62 812-3456" and "628123456" map to the same
// lead. Returns ErrInvalidRecipient when nothing remains.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", apperrors.ErrInvalidRecipient
	}
	return b.String(), nil
}
