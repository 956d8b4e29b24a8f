package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Fingerprint identifies an inbound event for duplicate detection. Two
// deliveries of the same provider message while the visit sits in the same
// step produce the same fingerprint.
func Fingerprint(visitID uuid.UUID, step FlowStep, eventType, canonicalText, providerMessageID string) string {
	parts := []string{
		visitID.String(),
		string(step),
		strings.ToLower(strings.TrimSpace(eventType)),
		canonicalText,
		strings.TrimSpace(providerMessageID),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x1f")))
	return hex.EncodeToString(sum[:])
}
