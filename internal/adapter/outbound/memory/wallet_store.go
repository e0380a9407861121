package memory

import (
	"context"
	"sync"
	"time"

	"github.com/runtimegov/governor/internal/domain/wallet"
)

// WalletStore is an in-memory implementation of wallet.Store, suitable for
// development and testing (spec §5: wallet deductions are single-row
// read-modify-write transactions — here serialized by a single mutex).
type WalletStore struct {
	mu      sync.Mutex
	wallets map[string]wallet.Wallet
	now     func() time.Time
}

// NewWalletStore creates an empty WalletStore.
func NewWalletStore() *WalletStore {
	return &WalletStore{
		wallets: make(map[string]wallet.Wallet),
		now:     time.Now,
	}
}

// GetOrCreate implements wallet.Store.
func (s *WalletStore) GetOrCreate(_ context.Context, ownerID string) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(ownerID), nil
}

func (s *WalletStore) getOrCreateLocked(ownerID string) wallet.Wallet {
	w, ok := s.wallets[ownerID]
	if !ok {
		w = wallet.Wallet{
			OwnerID:   ownerID,
			Balance:   wallet.MustParse(wallet.InitialBalance),
			CreatedAt: s.now(),
		}
		s.wallets[ownerID] = w
	}
	return w
}

// Deduct implements wallet.Store.
func (s *WalletStore) Deduct(_ context.Context, ownerID string, fee wallet.Amount) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.getOrCreateLocked(ownerID)
	if w.Balance.LessThan(fee) {
		return w, wallet.ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(fee)
	s.wallets[ownerID] = w
	return w, nil
}

// TopUp implements wallet.Store.
func (s *WalletStore) TopUp(_ context.Context, ownerID string, amount wallet.Amount) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.getOrCreateLocked(ownerID)
	w.Balance = w.Balance.Add(amount)
	s.wallets[ownerID] = w
	return w, nil
}

var _ wallet.Store = (*WalletStore)(nil)
