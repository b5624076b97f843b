package adapter

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"clauseledger/core/events"
	"clauseledger/core/state"
	"clauseledger/native/clause"
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

type fixture struct {
	db          *storage.MemDB
	adapter     *Adapter
	projectKey  [32]byte
	escrowKeys  [][32]byte
	client      [20]byte
	beneficiary [20]byte
}

// newFixture builds a two-entry milestone project whose entries are funded
// by individual escrows. The client holds enough native balance to fund
// every escrow; fund selects which entries actually get deposited.
func newFixture(t *testing.T, amounts []int64, fund []bool) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	projectKey := newTestKey(0x77)

	ad := NewAdapter(db)
	ad.SetNowFunc(func() int64 { return 1_000 })

	escrowKeys := make([][32]byte, len(amounts))
	for i := range amounts {
		escrowKeys[i] = newTestKey(byte(0x10 + i))
	}

	require.NoError(t, ad.Atomic(func(eng *Engines) error {
		total := int64(0)
		for _, amount := range amounts {
			total += amount
		}
		if err := eng.State.NativeMint(client, big.NewInt(total)); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeClient(projectKey, client); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeBeneficiary(projectKey, beneficiary); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeAsset(projectKey, ""); err != nil {
			return err
		}
		for i, amount := range amounts {
			index, err := eng.Milestone.IntakeEntry(projectKey, newTestKey(byte(0xE0+i)), big.NewInt(amount))
			if err != nil {
				return err
			}
			if err := eng.Milestone.LinkEscrow(projectKey, index, escrowKeys[i]); err != nil {
				return err
			}
			if err := eng.Escrow.IntakeDepositor(escrowKeys[i], client); err != nil {
				return err
			}
			if err := eng.Escrow.IntakeBeneficiary(escrowKeys[i], beneficiary); err != nil {
				return err
			}
			if err := eng.Escrow.IntakeAsset(escrowKeys[i], ""); err != nil {
				return err
			}
			if err := eng.Escrow.IntakeAmount(escrowKeys[i], big.NewInt(amount)); err != nil {
				return err
			}
			if err := eng.Escrow.Ready(escrowKeys[i]); err != nil {
				return err
			}
			if fund[i] {
				if err := eng.Escrow.Deposit(escrowKeys[i], client, big.NewInt(amount)); err != nil {
					return err
				}
			}
		}
		if err := eng.Milestone.Ready(projectKey); err != nil {
			return err
		}
		return eng.Milestone.Activate(projectKey, client)
	}))

	return &fixture{
		db:          db,
		adapter:     ad,
		projectKey:  projectKey,
		escrowKeys:  escrowKeys,
		client:      client,
		beneficiary: beneficiary,
	}
}

func (f *fixture) nativeBalance(t *testing.T, addr [20]byte) int64 {
	t.Helper()
	acc, err := state.NewManager(f.db).GetAccount(addr)
	require.NoError(t, err)
	return acc.Balance.Int64()
}

func (f *fixture) project(t *testing.T) *milestone.Project {
	t.Helper()
	proj, ok, err := state.NewManager(f.db).MilestoneGet(f.projectKey)
	require.NoError(t, err)
	require.True(t, ok)
	return proj
}

func TestConfirmAndReleaseMovesFunds(t *testing.T) {
	f := newFixture(t, []int64{100, 200}, []bool{true, true})

	require.NoError(t, f.adapter.ConfirmAndRelease(f.projectKey, 0, f.client))

	require.Equal(t, int64(100), f.nativeBalance(t, f.beneficiary))
	proj := f.project(t)
	require.Equal(t, milestone.EntryStatusReleased, proj.Entries[0].Status)
	require.Equal(t, milestone.EntryStatusPending, proj.Entries[1].Status)
	require.Equal(t, milestone.StatusActive, proj.Status)

	require.NoError(t, f.adapter.ConfirmAndRelease(f.projectKey, 1, f.client))
	proj = f.project(t)
	require.Equal(t, milestone.StatusComplete, proj.Status)
	require.Equal(t, uint32(2), proj.ReleasedCount)
	require.Equal(t, int64(300), proj.TotalReleased.Int64())
	require.Equal(t, int64(300), f.nativeBalance(t, f.beneficiary))
}

func TestConfirmAndReleaseRollsBackOnUnfundedEscrow(t *testing.T) {
	f := newFixture(t, []int64{100}, []bool{false})

	err := f.adapter.ConfirmAndRelease(f.projectKey, 0, f.client)
	require.ErrorIs(t, err, clause.ErrWrongState)
	require.True(t, IsRollback(err))

	// The confirmation must not have been committed either.
	proj := f.project(t)
	require.Equal(t, milestone.EntryStatusPending, proj.Entries[0].Status)
	require.Equal(t, int64(0), f.nativeBalance(t, f.beneficiary))

	esc, ok, err := state.NewManager(f.db).EscrowGet(f.escrowKeys[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.StatusPending, esc.Status)
}

func TestConfirmAndReleaseRequiresClient(t *testing.T) {
	f := newFixture(t, []int64{100}, []bool{true})

	err := f.adapter.ConfirmAndRelease(f.projectKey, 0, f.beneficiary)
	require.ErrorIs(t, err, clause.ErrUnauthorized)
	require.Equal(t, int64(0), f.nativeBalance(t, f.beneficiary))
}

func TestResolveDisputeFavorBeneficiary(t *testing.T) {
	f := newFixture(t, []int64{100}, []bool{true})

	require.NoError(t, f.adapter.Dispute(f.projectKey, 0, f.beneficiary, "late payment"))
	require.Equal(t, milestone.StatusDisputed, f.project(t).Status)

	require.NoError(t, f.adapter.ResolveDisputeAndExecute(f.projectKey, 0, true))

	proj := f.project(t)
	require.Equal(t, milestone.StatusComplete, proj.Status)
	require.Equal(t, milestone.EntryStatusReleased, proj.Entries[0].Status)
	require.Equal(t, int64(100), f.nativeBalance(t, f.beneficiary))
}

func TestResolveDisputeFavorClient(t *testing.T) {
	f := newFixture(t, []int64{100}, []bool{true})

	require.NoError(t, f.adapter.Dispute(f.projectKey, 0, f.client, "missing deliverable"))
	require.NoError(t, f.adapter.ResolveDisputeAndExecute(f.projectKey, 0, false))

	proj := f.project(t)
	require.Equal(t, milestone.EntryStatusRefunded, proj.Entries[0].Status)
	require.Equal(t, milestone.StatusActive, proj.Status)
	require.Equal(t, int64(100), f.nativeBalance(t, f.client))
	require.Equal(t, int64(0), f.nativeBalance(t, f.beneficiary))

	esc, ok, err := state.NewManager(f.db).EscrowGet(f.escrowKeys[0])
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.StatusRefunded, esc.Status)
}

func TestCancelAndRefundAll(t *testing.T) {
	db := storage.NewMemDB()
	client := newTestAddress(0x01)
	beneficiary := newTestAddress(0x02)
	projectKey := newTestKey(0x66)
	escrowKey := newTestKey(0x11)

	ad := NewAdapter(db)
	ad.SetNowFunc(func() int64 { return 1_000 })

	// Project stays Pending: cancellation is only possible before activation.
	require.NoError(t, ad.Atomic(func(eng *Engines) error {
		if err := eng.State.NativeMint(client, big.NewInt(100)); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeClient(projectKey, client); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeBeneficiary(projectKey, beneficiary); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeAsset(projectKey, ""); err != nil {
			return err
		}
		index, err := eng.Milestone.IntakeEntry(projectKey, newTestKey(0xE0), big.NewInt(100))
		if err != nil {
			return err
		}
		if err := eng.Milestone.LinkEscrow(projectKey, index, escrowKey); err != nil {
			return err
		}
		if err := eng.Escrow.IntakeDepositor(escrowKey, client); err != nil {
			return err
		}
		if err := eng.Escrow.IntakeBeneficiary(escrowKey, beneficiary); err != nil {
			return err
		}
		if err := eng.Escrow.IntakeAsset(escrowKey, ""); err != nil {
			return err
		}
		if err := eng.Escrow.IntakeAmount(escrowKey, big.NewInt(100)); err != nil {
			return err
		}
		if err := eng.Escrow.Ready(escrowKey); err != nil {
			return err
		}
		if err := eng.Escrow.Deposit(escrowKey, client, big.NewInt(100)); err != nil {
			return err
		}
		return eng.Milestone.Ready(projectKey)
	}))

	require.NoError(t, ad.CancelAndRefundAll(projectKey, client))

	mgr := state.NewManager(db)
	proj, ok, err := mgr.MilestoneGet(projectKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, milestone.StatusCancelled, proj.Status)
	require.Equal(t, milestone.EntryStatusRefunded, proj.Entries[0].Status)

	acc, err := mgr.GetAccount(client)
	require.NoError(t, err)
	require.Equal(t, int64(100), acc.Balance.Int64())

	esc, ok, err := mgr.EscrowGet(escrowKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.StatusRefunded, esc.Status)
}

func TestAtomicDiscardsEventsOnFailure(t *testing.T) {
	f := newFixture(t, []int64{100}, []bool{false})

	var captured []string
	f.adapter.SetEmitter(emitterFunc(func(evtType string) {
		captured = append(captured, evtType)
	}))

	err := f.adapter.ConfirmAndRelease(f.projectKey, 0, f.client)
	require.Error(t, err)
	require.Empty(t, captured)

	require.NoError(t, f.adapter.Atomic(func(eng *Engines) error {
		return eng.Escrow.Deposit(f.escrowKeys[0], f.client, big.NewInt(100))
	}))
	require.NoError(t, f.adapter.ConfirmAndRelease(f.projectKey, 0, f.client))
	require.NotEmpty(t, captured)
}

type emitterFunc func(string)

func (f emitterFunc) Emit(evt events.Event) { f(evt.EventType()) }
