package state

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"clauseledger/native/escrow"
	"clauseledger/native/milestone"
	"clauseledger/storage"
)

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestKey(fill byte) [32]byte {
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{fill}, 32))
	return key
}

func TestNativeAccounts(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	alice := newTestAddress(0x01)
	bob := newTestAddress(0x02)

	if err := mgr.NativeMint(alice, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.NativeTransfer(alice, bob, big.NewInt(200)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := mgr.NativeTransfer(alice, bob, big.NewInt(1_000)); err == nil {
		t.Fatal("overdraft transfer succeeded")
	}

	acc, err := mgr.GetAccount(bob)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance.Int64() != 200 {
		t.Fatalf("bob balance = %s, want 200", acc.Balance)
	}
}

func TestTokenLedger(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	owner := newTestAddress(0x01)
	spender := newTestAddress(0x02)
	recipient := newTestAddress(0x03)

	if err := mgr.Mint(owner, "USDQ", big.NewInt(100)); err == nil {
		t.Fatal("mint of unregistered token succeeded")
	}
	if err := mgr.RegisterToken("usdq", "Quarter Dollar", 6); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := mgr.RegisterToken("USDQ", "Duplicate", 6); err == nil {
		t.Fatal("duplicate registration succeeded")
	}
	if err := mgr.Mint(owner, "USDQ", big.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	// Transfer-from requires allowance and consumes it.
	if err := mgr.TransferFrom(spender, owner, recipient, "USDQ", big.NewInt(100)); err == nil {
		t.Fatal("transfer-from without allowance succeeded")
	}
	if err := mgr.Approve(owner, spender, "USDQ", big.NewInt(150)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := mgr.TransferFrom(spender, owner, recipient, "USDQ", big.NewInt(100)); err != nil {
		t.Fatalf("transfer-from: %v", err)
	}
	remaining, err := mgr.Allowance(owner, spender, "USDQ")
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if remaining.Int64() != 50 {
		t.Fatalf("remaining allowance = %s, want 50", remaining)
	}
	bal, err := mgr.Balance(recipient, "USDQ")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal.Int64() != 100 {
		t.Fatalf("recipient balance = %s, want 100", bal)
	}

	list, err := mgr.TokenList()
	if err != nil {
		t.Fatalf("token list: %v", err)
	}
	if len(list) != 1 || list[0] != "USDQ" {
		t.Fatalf("token list = %v, want [USDQ]", list)
	}
}

func TestVaultAddressDerivation(t *testing.T) {
	a := VaultAddress("escrow", "")
	b := VaultAddress("escrow", "USDQ")
	c := VaultAddress("milestone", "")
	if a == b || a == c || b == c {
		t.Fatal("vault addresses must differ per module and asset")
	}
	if a != VaultAddress("escrow", "") {
		t.Fatal("vault address must be deterministic")
	}
}

func TestEscrowRecordRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := newTestKey(0x01)

	record := &escrow.Escrow{
		Key:         key,
		Depositor:   newTestAddress(0x01),
		Beneficiary: newTestAddress(0x02),
		Asset:       "usdq",
		Amount:      big.NewInt(12_345),
		FundedAt:    1_000,
		Status:      escrow.StatusFunded,
		Cancel: &escrow.CancelPolicy{
			Enabled:             true,
			NoticePeriodSeconds: 600,
			FeeType:             escrow.CancelFeeProrated,
			AuthorizedParty:     escrow.CancelAuthEither,
			ProrationStart:      2_000,
			ProrationDuration:   1_000,
			InitiatedAt:         2_100,
			InitiatedBy:         newTestAddress(0x01),
		},
	}
	if err := mgr.EscrowPut(record); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok, err := mgr.EscrowGet(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("record not found")
	}
	if loaded.Asset != "USDQ" {
		t.Fatalf("asset = %q, want normalised USDQ", loaded.Asset)
	}
	if loaded.Amount.Int64() != 12_345 || loaded.Status != escrow.StatusFunded {
		t.Fatalf("loaded = %+v", loaded)
	}
	if loaded.Cancel == nil || loaded.Cancel.InitiatedAt != 2_100 || loaded.Cancel.FeeType != escrow.CancelFeeProrated {
		t.Fatalf("cancel policy = %+v", loaded.Cancel)
	}

	// Absent keys report not found without error.
	_, ok, err = mgr.EscrowGet(newTestKey(0x02))
	if err != nil {
		t.Fatalf("get absent: %v", err)
	}
	if ok {
		t.Fatal("absent record reported found")
	}
}

func TestMilestoneRecordRoundTrip(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := newTestKey(0x03)

	record := &milestone.Project{
		Key:                 key,
		Client:              newTestAddress(0x01),
		Beneficiary:         newTestAddress(0x02),
		ReviewPeriodSeconds: 3_600,
		Status:              milestone.StatusActive,
		Entries: []*milestone.Entry{
			{
				DescriptionHash: newTestKey(0xE0),
				Amount:          big.NewInt(10),
				LinkedEscrow:    newTestKey(0x10),
				Status:          milestone.EntryStatusReleased,
				ReleasedAt:      900,
			},
			{
				DescriptionHash: newTestKey(0xE1),
				Amount:          big.NewInt(20),
				Status:          milestone.EntryStatusDisputed,
				DisputeReason:   "late",
			},
		},
		ReleasedCount: 1,
		TotalReleased: big.NewInt(10),
		CreatedAt:     500,
		UpdatedAt:     900,
	}
	if err := mgr.MilestonePut(record); err != nil {
		t.Fatalf("put: %v", err)
	}

	loaded, ok, err := mgr.MilestoneGet(key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("record not found")
	}
	if len(loaded.Entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(loaded.Entries))
	}
	if loaded.Entries[0].Status != milestone.EntryStatusReleased || loaded.Entries[0].ReleasedAt != 900 {
		t.Fatalf("entry 0 = %+v", loaded.Entries[0])
	}
	if loaded.Entries[1].DisputeReason != "late" {
		t.Fatalf("entry 1 reason = %q", loaded.Entries[1].DisputeReason)
	}
	if loaded.ReleasedCount != 1 || loaded.TotalReleased.Int64() != 10 {
		t.Fatalf("aggregate = %d / %s", loaded.ReleasedCount, loaded.TotalReleased)
	}
}

func TestInstanceIsolationAcrossNamespaces(t *testing.T) {
	mgr := NewManager(storage.NewMemDB())
	key := newTestKey(0x01)

	// The same instance key in two modules must never collide.
	if err := mgr.EscrowPut(&escrow.Escrow{
		Key:         key,
		Depositor:   newTestAddress(0x01),
		Beneficiary: newTestAddress(0x02),
		Amount:      big.NewInt(5),
		Status:      escrow.StatusPending,
	}); err != nil {
		t.Fatalf("escrow put: %v", err)
	}
	if err := mgr.MilestonePut(&milestone.Project{
		Key:           key,
		Client:        newTestAddress(0x03),
		Beneficiary:   newTestAddress(0x04),
		Status:        milestone.StatusPending,
		TotalReleased: big.NewInt(0),
		Entries: []*milestone.Entry{
			{DescriptionHash: newTestKey(0xE0), Amount: big.NewInt(1), Status: milestone.EntryStatusPending},
		},
	}); err != nil {
		t.Fatalf("milestone put: %v", err)
	}

	esc, ok, err := mgr.EscrowGet(key)
	if err != nil || !ok {
		t.Fatalf("escrow get: ok=%v err=%v", ok, err)
	}
	if esc.Amount.Int64() != 5 {
		t.Fatalf("escrow amount = %s, want 5", esc.Amount)
	}
	proj, ok, err := mgr.MilestoneGet(key)
	if err != nil || !ok {
		t.Fatalf("milestone get: ok=%v err=%v", ok, err)
	}
	if len(proj.Entries) != 1 {
		t.Fatalf("project entries = %d, want 1", len(proj.Entries))
	}
}

func TestWithUnitOfWork(t *testing.T) {
	db := storage.NewMemDB()
	alice := newTestAddress(0x01)

	failure := errors.New("boom")
	err := WithUnitOfWork(db, func(m *Manager) error {
		if err := m.NativeMint(alice, big.NewInt(100)); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("unit of work error = %v, want boom", err)
	}

	acc, err := NewManager(db).GetAccount(alice)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance.Sign() != 0 {
		t.Fatalf("balance after rollback = %s, want 0", acc.Balance)
	}

	if err := WithUnitOfWork(db, func(m *Manager) error {
		return m.NativeMint(alice, big.NewInt(100))
	}); err != nil {
		t.Fatalf("unit of work: %v", err)
	}
	acc, err = NewManager(db).GetAccount(alice)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if acc.Balance.Int64() != 100 {
		t.Fatalf("balance after commit = %s, want 100", acc.Balance)
	}
}
