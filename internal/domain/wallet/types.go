// Package wallet implements the Fee & Wallet Ledger (C12): an optional
// pre-evaluation balance check, tiered deduction, and receipt posting
// keyed by agent id.
package wallet

import (
	"context"
	"errors"
	"time"
)

// ErrInsufficientFunds is returned by Deduct when balance < fee; the
// caller must set payment_required on the response without rolling back
// the already-persisted Action (spec §4.12, §7).
var ErrInsufficientFunds = errors.New("insufficient wallet funds")

// InitialBalance is the balance a wallet is auto-provisioned with (spec §6).
const InitialBalance = "100.000"

// Wallet is a fixed-point, three-decimal balance owned by an agent (spec §3).
type Wallet struct {
	OwnerID   string
	Balance   Amount
	CreatedAt time.Time
}

// Tier labels the fee bracket a deduction was charged under (spec §4.12).
type Tier string

const (
	TierLow      Tier = "low"      // risk 0-39
	TierMedium   Tier = "medium"   // risk 40-69
	TierHigh     Tier = "high"     // risk 70-89
	TierCritical Tier = "critical" // risk 90-100
)

// TierForRisk maps a final risk score to its fee tier and amount (spec §4.12).
func TierForRisk(risk int) (Tier, Amount) {
	switch {
	case risk >= 90:
		return TierCritical, MustParse("0.025")
	case risk >= 70:
		return TierHigh, MustParse("0.010")
	case risk >= 40:
		return TierMedium, MustParse("0.005")
	default:
		return TierLow, MustParse("0.001")
	}
}

// Store is the persistence port for wallets (spec §5: "Wallet deductions
// are single-row transactions (read-modify-write with balance >= fee as a
// precondition)").
type Store interface {
	// GetOrCreate returns the wallet for ownerID, auto-provisioning it with
	// InitialBalance if absent.
	GetOrCreate(ctx context.Context, ownerID string) (Wallet, error)
	// Deduct atomically subtracts fee from ownerID's balance if
	// balance >= fee, returning the updated Wallet. Returns
	// ErrInsufficientFunds (without mutating balance) otherwise.
	Deduct(ctx context.Context, ownerID string, fee Amount) (Wallet, error)
	// TopUp atomically adds amount to ownerID's balance.
	TopUp(ctx context.Context, ownerID string, amount Amount) (Wallet, error)
}
