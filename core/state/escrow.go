package state

import (
	"fmt"
	"math/big"

	"clauseledger/native/clause"
	"clauseledger/native/escrow"
)

// Escrow record storage. The engine works with signed timestamps while RLP
// only encodes unsigned integers, so records round-trip through a stored
// mirror struct with uint64 fields.

const (
	escrowRecordField = "record"
	escrowBalancePfx  = "balance/"
)

type storedCancelPolicy struct {
	Enabled             bool
	NoticePeriodSeconds uint64
	FeeType             uint8
	FeeAmount           *big.Int
	AuthorizedParty     uint8
	ProrationStart      uint64
	ProrationDuration   uint64
	InitiatedAt         uint64
	InitiatedBy         [20]byte
	ExecutedAt          uint64
	PaidToBeneficiary   *big.Int
	PaidToDepositor     *big.Int
}

type storedEscrow struct {
	Depositor   [20]byte
	Beneficiary [20]byte
	Coordinator [20]byte
	Asset       string
	Amount      *big.Int
	FundedAt    uint64
	Status      uint8
	HasCancel   bool
	Cancel      storedCancelPolicy
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func toStoredEscrow(e *escrow.Escrow) *storedEscrow {
	stored := &storedEscrow{
		Depositor:   e.Depositor,
		Beneficiary: e.Beneficiary,
		Coordinator: e.Coordinator,
		Asset:       e.Asset,
		Amount:      nonNil(e.Amount),
		FundedAt:    uint64(e.FundedAt),
		Status:      uint8(e.Status),
	}
	stored.Cancel.FeeAmount = big.NewInt(0)
	stored.Cancel.PaidToBeneficiary = big.NewInt(0)
	stored.Cancel.PaidToDepositor = big.NewInt(0)
	if e.Cancel != nil {
		stored.HasCancel = true
		stored.Cancel = storedCancelPolicy{
			Enabled:             e.Cancel.Enabled,
			NoticePeriodSeconds: uint64(e.Cancel.NoticePeriodSeconds),
			FeeType:             uint8(e.Cancel.FeeType),
			FeeAmount:           nonNil(e.Cancel.FeeAmount),
			AuthorizedParty:     uint8(e.Cancel.AuthorizedParty),
			ProrationStart:      uint64(e.Cancel.ProrationStart),
			ProrationDuration:   uint64(e.Cancel.ProrationDuration),
			InitiatedAt:         uint64(e.Cancel.InitiatedAt),
			InitiatedBy:         e.Cancel.InitiatedBy,
			ExecutedAt:          uint64(e.Cancel.ExecutedAt),
			PaidToBeneficiary:   nonNil(e.Cancel.PaidToBeneficiary),
			PaidToDepositor:     nonNil(e.Cancel.PaidToDepositor),
		}
	}
	return stored
}

func fromStoredEscrow(key [32]byte, stored *storedEscrow) *escrow.Escrow {
	e := &escrow.Escrow{
		Key:         key,
		Depositor:   stored.Depositor,
		Beneficiary: stored.Beneficiary,
		Coordinator: stored.Coordinator,
		Asset:       stored.Asset,
		Amount:      nonNil(stored.Amount),
		FundedAt:    int64(stored.FundedAt),
		Status:      escrow.Status(stored.Status),
	}
	if stored.HasCancel {
		e.Cancel = &escrow.CancelPolicy{
			Enabled:             stored.Cancel.Enabled,
			NoticePeriodSeconds: int64(stored.Cancel.NoticePeriodSeconds),
			FeeType:             escrow.CancelFeeType(stored.Cancel.FeeType),
			FeeAmount:           nonNil(stored.Cancel.FeeAmount),
			AuthorizedParty:     escrow.CancelAuthority(stored.Cancel.AuthorizedParty),
			ProrationStart:      int64(stored.Cancel.ProrationStart),
			ProrationDuration:   int64(stored.Cancel.ProrationDuration),
			InitiatedAt:         int64(stored.Cancel.InitiatedAt),
			InitiatedBy:         stored.Cancel.InitiatedBy,
			ExecutedAt:          int64(stored.Cancel.ExecutedAt),
			PaidToBeneficiary:   nonNil(stored.Cancel.PaidToBeneficiary),
			PaidToDepositor:     nonNil(stored.Cancel.PaidToDepositor),
		}
	}
	return e
}

func (m *Manager) escrowStore() *clause.Store {
	return clause.NewStore(m, escrow.ModuleName)
}

// EscrowPut persists a sanitized escrow record under its instance key.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.Sanitize(e)
	if err != nil {
		return err
	}
	return m.escrowStore().Put(sanitized.Key, escrowRecordField, toStoredEscrow(sanitized))
}

// EscrowGet loads the escrow record stored under the supplied instance key.
func (m *Manager) EscrowGet(key [32]byte) (*escrow.Escrow, bool, error) {
	var stored storedEscrow
	ok, err := m.escrowStore().Get(key, escrowRecordField, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStoredEscrow(key, &stored), true, nil
}

func escrowBalanceField(asset string) string {
	return escrowBalancePfx + asset
}

// EscrowBalance returns the book balance the module tracks for one instance
// and asset. The actual funds sit in the module vault; the per-instance book
// entry is what prevents one instance from spending another's custody.
func (m *Manager) EscrowBalance(key [32]byte, asset string) (*big.Int, error) {
	normalized, err := clause.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	ok, err := m.escrowStore().Get(key, escrowBalanceField(normalized), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// EscrowCredit increases the per-instance book balance.
func (m *Manager) EscrowCredit(key [32]byte, asset string, amt *big.Int) error {
	normalized, err := clause.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: escrow credit must be non-negative")
	}
	current, err := m.EscrowBalance(key, normalized)
	if err != nil {
		return err
	}
	return m.escrowStore().Put(key, escrowBalanceField(normalized), new(big.Int).Add(current, amt))
}

// EscrowDebit decreases the per-instance book balance, failing on overdraft.
func (m *Manager) EscrowDebit(key [32]byte, asset string, amt *big.Int) error {
	normalized, err := clause.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: escrow debit must be non-negative")
	}
	current, err := m.EscrowBalance(key, normalized)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("state: escrow balance %s below debit %s", current, amt)
	}
	return m.escrowStore().Put(key, escrowBalanceField(normalized), new(big.Int).Sub(current, amt))
}

// EscrowVaultAddress returns the module vault holding escrow custody for the
// supplied asset.
func (m *Manager) EscrowVaultAddress(asset string) [20]byte {
	return VaultAddress(escrow.ModuleName, asset)
}
