package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// MinInviteCodeLength is the shortest code accepted for redemption.
const MinInviteCodeLength = 6

// NormalizeInviteCode trims and upper-cases a code and checks its length.
func NormalizeInviteCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if len(normalized) < MinInviteCodeLength {
		return "", fmt.Errorf("%w: code must have at least %d characters", ErrInviteInvalid, MinInviteCodeLength)
	}
	return normalized, nil
}

// GenerateInviteCode returns a random code such as "DUA-3F9A1C2B".
func GenerateInviteCode(prefix string) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	body := strings.ToUpper(raw[:8])
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return body
	}
	return prefix + "-" + body
}
