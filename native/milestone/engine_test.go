package milestone

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"clauseledger/native/clause"
)

type mockState struct {
	projects map[[32]byte]*Project
}

func newMockState() *mockState {
	return &mockState{projects: make(map[[32]byte]*Project)}
}

func (m *mockState) MilestonePut(p *Project) error {
	sanitized, err := Sanitize(p)
	if err != nil {
		return err
	}
	m.projects[sanitized.Key] = sanitized.Clone()
	return nil
}

func (m *mockState) MilestoneGet(key [32]byte) (*Project, bool, error) {
	proj, ok := m.projects[key]
	if !ok {
		return nil, false, nil
	}
	return proj.Clone(), true, nil
}

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

func newTestEngine(state *mockState) *Engine {
	eng := NewEngine()
	eng.SetState(state)
	eng.SetNowFunc(func() int64 { return 1_000 })
	return eng
}

func setupProject(t *testing.T, eng *Engine, key [32]byte, client, beneficiary [20]byte, amounts ...int64) {
	t.Helper()
	if err := eng.IntakeClient(key, client); err != nil {
		t.Fatalf("intake client: %v", err)
	}
	if err := eng.IntakeBeneficiary(key, beneficiary); err != nil {
		t.Fatalf("intake beneficiary: %v", err)
	}
	if err := eng.IntakeAsset(key, ""); err != nil {
		t.Fatalf("intake asset: %v", err)
	}
	for i, amount := range amounts {
		index, err := eng.IntakeEntry(key, newTestKey(byte(0xE0+i)), big.NewInt(amount))
		if err != nil {
			t.Fatalf("intake entry %d: %v", i, err)
		}
		if index != i {
			t.Fatalf("entry index = %d, want %d", index, i)
		}
	}
	if err := eng.Ready(key); err != nil {
		t.Fatalf("ready: %v", err)
	}
}

func activateProject(t *testing.T, eng *Engine, key [32]byte, client [20]byte, entryCount int) {
	t.Helper()
	for i := 0; i < entryCount; i++ {
		if err := eng.LinkEscrow(key, i, newTestKey(byte(0xA0+i))); err != nil {
			t.Fatalf("link escrow %d: %v", i, err)
		}
	}
	if err := eng.Activate(key, client); err != nil {
		t.Fatalf("activate: %v", err)
	}
}

func TestMilestoneOutOfOrderCompletion(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x01)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 3, 4, 6)
	activateProject(t, eng, key, client, 3)

	// Release in the order 2, 0, 1 and watch the aggregate.
	for _, index := range []int{2, 0, 1} {
		if err := eng.RequestConfirmation(key, index, beneficiary); err != nil {
			t.Fatalf("request %d: %v", index, err)
		}
		if err := eng.Confirm(key, index, client); err != nil {
			t.Fatalf("confirm %d: %v", index, err)
		}
		if err := eng.MarkReleased(key, index, client); err != nil {
			t.Fatalf("mark released %d: %v", index, err)
		}
	}

	proj, err := eng.QueryProject(key)
	if err != nil {
		t.Fatalf("query project: %v", err)
	}
	if proj.Status != StatusComplete {
		t.Fatalf("status = %s, want complete", proj.Status)
	}
	if proj.ReleasedCount != 3 {
		t.Fatalf("released count = %d, want 3", proj.ReleasedCount)
	}
	if proj.TotalReleased.Int64() != 13 {
		t.Fatalf("total released = %s, want 13", proj.TotalReleased)
	}
}

func TestMilestoneNotCompleteUntilAllReleased(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x02)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10, 20)
	activateProject(t, eng, key, client, 2)

	if err := eng.Confirm(key, 0, client); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.MarkReleased(key, 0, client); err != nil {
		t.Fatalf("mark released: %v", err)
	}
	status, _ := eng.QueryStatus(key)
	if status != StatusActive {
		t.Fatalf("status after partial release = %s, want active", status)
	}
	if _, err := eng.HandoffSummary(key); !errors.Is(err, clause.ErrWrongState) {
		t.Fatalf("summary before terminal = %v, want wrong state", err)
	}
}

func TestMilestoneActivateRequiresLinks(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x03)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 5, 5)
	if err := eng.LinkEscrow(key, 0, newTestKey(0xA0)); err != nil {
		t.Fatalf("link: %v", err)
	}
	err := eng.Activate(key, client)
	if !errors.Is(err, clause.ErrInvalidInput) {
		t.Fatalf("activate with unlinked entry = %v, want invalid input", err)
	}
	if err := eng.Activate(key, beneficiary); !errors.Is(err, clause.ErrUnauthorized) {
		t.Fatalf("activate by beneficiary = %v, want unauthorized", err)
	}
}

func TestMilestoneEntryCap(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x04)

	for i := 0; i < MaxEntries; i++ {
		if _, err := eng.IntakeEntry(key, newTestKey(byte(i+1)), big.NewInt(1)); err != nil {
			t.Fatalf("intake entry %d: %v", i, err)
		}
	}
	if _, err := eng.IntakeEntry(key, newTestKey(0xFF), big.NewInt(1)); !errors.Is(err, clause.ErrInvalidInput) {
		t.Fatalf("entry beyond cap = %v, want invalid input", err)
	}
}

func TestMilestoneDisputeDoesNotBlockSiblings(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x05)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10, 20, 30)
	activateProject(t, eng, key, client, 3)

	if err := eng.Dispute(key, 1, beneficiary, "scope disagreement"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	status, _ := eng.QueryStatus(key)
	if status != StatusDisputed {
		t.Fatalf("status = %s, want disputed", status)
	}

	// Undisputed entries keep moving.
	if err := eng.Confirm(key, 0, client); err != nil {
		t.Fatalf("confirm sibling: %v", err)
	}
	if err := eng.MarkReleased(key, 0, client); err != nil {
		t.Fatalf("release sibling: %v", err)
	}

	// Resolving the only dispute drops the project back to Active.
	if err := eng.ResolveDispute(key, 1, true); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	status, _ = eng.QueryStatus(key)
	if status != StatusActive {
		t.Fatalf("status after resolve = %s, want active", status)
	}
	entry, err := eng.QueryEntry(key, 1)
	if err != nil {
		t.Fatalf("query entry: %v", err)
	}
	if entry.Status != EntryStatusConfirmed {
		t.Fatalf("entry status = %s, want confirmed", entry.Status)
	}
	if entry.DisputeReason != "" {
		t.Fatalf("dispute reason not cleared: %q", entry.DisputeReason)
	}
}

func TestMilestoneDisputeOnlyBeforeConfirmation(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x0B)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10, 20)
	activateProject(t, eng, key, client, 2)

	if err := eng.Confirm(key, 0, client); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := eng.Dispute(key, 0, client, "second thoughts"); !errors.Is(err, clause.ErrWrongState) {
		t.Fatalf("dispute of confirmed entry by client = %v, want wrong state", err)
	}
	if err := eng.Dispute(key, 0, beneficiary, "second thoughts"); !errors.Is(err, clause.ErrWrongState) {
		t.Fatalf("dispute of confirmed entry by beneficiary = %v, want wrong state", err)
	}
	entry, err := eng.QueryEntry(key, 0)
	if err != nil {
		t.Fatalf("query entry: %v", err)
	}
	if entry.Status != EntryStatusConfirmed {
		t.Fatalf("entry status = %s, want confirmed", entry.Status)
	}
	status, _ := eng.QueryStatus(key)
	if status != StatusActive {
		t.Fatalf("status = %s, want active", status)
	}

	// An unconfirmed sibling can still be disputed.
	if err := eng.Dispute(key, 1, beneficiary, "scope"); err != nil {
		t.Fatalf("dispute pending entry: %v", err)
	}
}

func TestMilestoneEntriesActivateOnReady(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x0C)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if err := eng.IntakeClient(key, client); err != nil {
		t.Fatalf("intake client: %v", err)
	}
	if err := eng.IntakeBeneficiary(key, beneficiary); err != nil {
		t.Fatalf("intake beneficiary: %v", err)
	}
	if _, err := eng.IntakeEntry(key, newTestKey(0xE0), big.NewInt(10)); err != nil {
		t.Fatalf("intake entry: %v", err)
	}

	entry, err := eng.QueryEntry(key, 0)
	if err != nil {
		t.Fatalf("query entry: %v", err)
	}
	if entry.Status != EntryStatusNone {
		t.Fatalf("entry status before ready = %s, want none", entry.Status)
	}

	if err := eng.Ready(key); err != nil {
		t.Fatalf("ready: %v", err)
	}
	entry, err = eng.QueryEntry(key, 0)
	if err != nil {
		t.Fatalf("query entry: %v", err)
	}
	if entry.Status != EntryStatusPending {
		t.Fatalf("entry status after ready = %s, want pending", entry.Status)
	}
}

func TestMilestoneResolveAgainstBeneficiary(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x06)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10)
	activateProject(t, eng, key, client, 1)

	if err := eng.RequestConfirmation(key, 0, beneficiary); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := eng.Dispute(key, 0, client, "not delivered"); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := eng.ResolveDispute(key, 0, false); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	entry, _ := eng.QueryEntry(key, 0)
	if entry.Status != EntryStatusRefunded {
		t.Fatalf("entry status = %s, want refunded", entry.Status)
	}
	if err := eng.MarkReleased(key, 0, client); !errors.Is(err, clause.ErrWrongState) {
		t.Fatalf("release refunded entry = %v, want wrong state", err)
	}
}

func TestMilestoneRejectAndReset(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x07)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10)
	activateProject(t, eng, key, client, 1)

	if err := eng.RequestConfirmation(key, 0, beneficiary); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := eng.RejectAndReset(key, 0, beneficiary); !errors.Is(err, clause.ErrUnauthorized) {
		t.Fatalf("reject by beneficiary = %v, want unauthorized", err)
	}
	if err := eng.RejectAndReset(key, 0, client); err != nil {
		t.Fatalf("reject: %v", err)
	}
	entry, _ := eng.QueryEntry(key, 0)
	if entry.Status != EntryStatusPending {
		t.Fatalf("entry status = %s, want pending", entry.Status)
	}
	if entry.RequestedAt != 0 {
		t.Fatalf("requestedAt not reset: %d", entry.RequestedAt)
	}
	// The beneficiary can request again.
	if err := eng.RequestConfirmation(key, 0, beneficiary); err != nil {
		t.Fatalf("second request: %v", err)
	}
}

func TestMilestoneConfirmByDeadline(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	now := int64(1_000)
	eng.SetNowFunc(func() int64 { return now })

	key := newTestKey(0x08)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	if err := eng.IntakeClient(key, client); err != nil {
		t.Fatalf("intake client: %v", err)
	}
	if err := eng.IntakeBeneficiary(key, beneficiary); err != nil {
		t.Fatalf("intake beneficiary: %v", err)
	}
	if err := eng.IntakeAsset(key, ""); err != nil {
		t.Fatalf("intake asset: %v", err)
	}
	if err := eng.IntakeReviewPeriod(key, 3_600); err != nil {
		t.Fatalf("intake review period: %v", err)
	}
	if _, err := eng.IntakeEntry(key, newTestKey(0xE0), big.NewInt(10)); err != nil {
		t.Fatalf("intake entry: %v", err)
	}
	if err := eng.Ready(key); err != nil {
		t.Fatalf("ready: %v", err)
	}
	activateProject(t, eng, key, client, 1)

	if err := eng.RequestConfirmation(key, 0, beneficiary); err != nil {
		t.Fatalf("request: %v", err)
	}
	now = 4_000
	if err := eng.ConfirmByDeadline(key, 0); !errors.Is(err, clause.ErrDeadlineNotReached) {
		t.Fatalf("early deadline confirm = %v, want deadline not reached", err)
	}
	now = 4_600
	if err := eng.ConfirmByDeadline(key, 0); err != nil {
		t.Fatalf("deadline confirm: %v", err)
	}
	entry, _ := eng.QueryEntry(key, 0)
	if entry.Status != EntryStatusConfirmed {
		t.Fatalf("entry status = %s, want confirmed", entry.Status)
	}
}

func TestMilestoneCancelWindDown(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x09)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10, 20)

	if err := eng.Cancel(key, newTestAddress(0x09)); !errors.Is(err, clause.ErrUnauthorized) {
		t.Fatalf("cancel by stranger = %v, want unauthorized", err)
	}
	if err := eng.Cancel(key, beneficiary); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Idempotent.
	if err := eng.Cancel(key, beneficiary); err != nil {
		t.Fatalf("second cancel: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := eng.MarkRefunded(key, i, client); err != nil {
			t.Fatalf("mark refunded %d: %v", i, err)
		}
	}
	summary, err := eng.HandoffSummary(key)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if summary.Status != StatusCancelled || summary.ReleasedCount != 0 || summary.EntryCount != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.TotalReleased.Sign() != 0 {
		t.Fatalf("total released = %s, want 0", summary.TotalReleased)
	}
}

func TestMilestoneCancelOnlyBeforeActivation(t *testing.T) {
	state := newMockState()
	eng := newTestEngine(state)
	key := newTestKey(0x0A)
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)

	setupProject(t, eng, key, client, beneficiary, 10)
	activateProject(t, eng, key, client, 1)

	if err := eng.Cancel(key, client); !errors.Is(err, clause.ErrWrongState) {
		t.Fatalf("cancel after activation = %v, want wrong state", err)
	}
}
