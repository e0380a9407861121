// Package attestation computes the cryptographic receipt that serves as
// tamper-evident attestation of a governance decision (spec §4.9).
package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/runtimegov/governor/internal/domain/action"
)

// FeeTier labels which fee bracket a receipt was charged under.
type FeeTier string

const (
	FeeTierNone     FeeTier = "none"
	FeeTierLow      FeeTier = "low"
	FeeTierMedium   FeeTier = "medium"
	FeeTierHigh     FeeTier = "high"
	FeeTierCritical FeeTier = "critical"
)

// Receipt is a monotonic, tamper-evident digest over an evaluated Action.
type Receipt struct {
	ID        int64
	ActionID  string
	Hash      string
	FeeTier   FeeTier
	FeeAmount string
}

// Compute returns the SHA-256 hex digest of the canonical, pipe-joined
// encoding `action_id|tool|decision|risk|timestamp_iso` (spec §4.9). The
// function is pure and deterministic: identical inputs always yield the
// identical hash, independent of persistence-layer id assignment.
func Compute(a action.Action) string {
	canonical := fmt.Sprintf("%s|%s|%s|%d|%s",
		a.ID, a.Tool, a.Decision, a.Risk, a.Timestamp.UTC().Format("2006-01-02T15:04:05.000000000Z"))
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// TierForRisk maps a risk score to the fee-tier label, reusing the §4.12
// risk bands to label receipts even when fees are disabled.
func TierForRisk(riskScore int) FeeTier {
	switch {
	case riskScore >= 90:
		return FeeTierCritical
	case riskScore >= 70:
		return FeeTierHigh
	case riskScore >= 40:
		return FeeTierMedium
	default:
		return FeeTierLow
	}
}
