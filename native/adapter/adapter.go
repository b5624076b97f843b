// Package adapter composes the escrow and milestone clauses into atomic
// multi-clause operations. Each operation runs against a storage overlay and
// commits only when every step succeeded, so a failure in any participating
// clause rolls the whole sequence back. Events are buffered the same way and
// flushed only after commit.
package adapter

import (
	"errors"
	"time"

	"clauseledger/core/events"
	"clauseledger/core/state"
	"clauseledger/native/clause"
	"clauseledger/native/escrow"
	"clauseledger/native/milestone"
	"clauseledger/storage"
)

var zeroKey [32]byte

// Adapter drives composed clause operations against one shared database.
type Adapter struct {
	db      storage.Database
	emitter events.Emitter
	nowFn   func() int64
	pauses  clause.PauseView
}

// NewAdapter creates an adapter over the supplied database.
func NewAdapter(db storage.Database) *Adapter {
	return &Adapter{
		db:      db,
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures where committed events are flushed.
func (a *Adapter) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		a.emitter = events.NoopEmitter{}
		return
	}
	a.emitter = emitter
}

// SetNowFunc overrides the time source shared by the composed engines.
func (a *Adapter) SetNowFunc(now func() int64) {
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

// SetPauses configures the administrative pause view shared by the composed
// engines.
func (a *Adapter) SetPauses(p clause.PauseView) { a.pauses = p }

// Engines bundles the per-unit-of-work engine instances handed to a composed
// operation.
type Engines struct {
	State     *state.Manager
	Escrow    *escrow.Engine
	Milestone *milestone.Engine
}

// Atomic runs fn inside one unit of work. State changes commit and buffered
// events flush only when fn returns nil.
func (a *Adapter) Atomic(fn func(*Engines) error) error {
	if a == nil || a.db == nil {
		return &clause.ValidationError{Module: "adapter", Field: "db", Reason: "not configured"}
	}
	buf := events.NewBuffer()
	err := state.WithUnitOfWork(a.db, func(m *state.Manager) error {
		escEng := escrow.NewEngine()
		escEng.SetState(m)
		escEng.SetEmitter(buf)
		escEng.SetNowFunc(a.nowFn)
		escEng.SetPauses(a.pauses)
		msEng := milestone.NewEngine()
		msEng.SetState(m)
		msEng.SetEmitter(buf)
		msEng.SetNowFunc(a.nowFn)
		msEng.SetPauses(a.pauses)
		return fn(&Engines{State: m, Escrow: escEng, Milestone: msEng})
	})
	if err != nil {
		return err
	}
	buf.Flush(a.emitter)
	return nil
}

func linkedEscrow(eng *Engines, projectKey [32]byte, index int) (*milestone.Entry, *escrow.Escrow, error) {
	entry, err := eng.Milestone.QueryEntry(projectKey, index)
	if err != nil {
		return nil, nil, err
	}
	if entry.LinkedEscrow == zeroKey {
		return nil, nil, &clause.ValidationError{Module: milestone.ModuleName, Field: "entry.linkedEscrow", Reason: "entry has no linked escrow"}
	}
	esc, ok, err := eng.State.EscrowGet(entry.LinkedEscrow)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, &clause.NotFoundError{Module: escrow.ModuleName, Key: entry.LinkedEscrow}
	}
	return entry, esc, nil
}

// ConfirmAndRelease confirms a milestone entry and releases its linked
// escrow in one atomic step. The caller must be the project client; the
// escrow release runs on behalf of its stored depositor, which the linkage
// between the two clauses makes the same party.
func (a *Adapter) ConfirmAndRelease(projectKey [32]byte, index int, caller [20]byte) error {
	return a.Atomic(func(eng *Engines) error {
		if err := eng.Milestone.Confirm(projectKey, index, caller); err != nil {
			return err
		}
		_, esc, err := linkedEscrow(eng, projectKey, index)
		if err != nil {
			return err
		}
		if err := eng.Escrow.Release(esc.Key, esc.Depositor); err != nil {
			return err
		}
		return eng.Milestone.MarkReleased(projectKey, index, caller)
	})
}

// Dispute raises a dispute against a milestone entry. Single-clause, but run
// through the adapter so the event flush discipline stays uniform.
func (a *Adapter) Dispute(projectKey [32]byte, index int, caller [20]byte, reason string) error {
	return a.Atomic(func(eng *Engines) error {
		return eng.Milestone.Dispute(projectKey, index, caller, reason)
	})
}

// ResolveDisputeAndExecute settles a disputed entry and executes the
// corresponding escrow movement atomically. Resolving in the beneficiary's
// favor releases the linked escrow and marks the entry released; resolving
// in the client's favor refunds the linked escrow when it holds funds.
func (a *Adapter) ResolveDisputeAndExecute(projectKey [32]byte, index int, favorBeneficiary bool) error {
	return a.Atomic(func(eng *Engines) error {
		proj, err := eng.Milestone.QueryProject(projectKey)
		if err != nil {
			return err
		}
		if err := eng.Milestone.ResolveDispute(projectKey, index, favorBeneficiary); err != nil {
			return err
		}
		_, esc, err := linkedEscrow(eng, projectKey, index)
		if err != nil {
			return err
		}
		if favorBeneficiary {
			if err := eng.Escrow.Release(esc.Key, esc.Depositor); err != nil {
				return err
			}
			return eng.Milestone.MarkReleased(projectKey, index, proj.Client)
		}
		// An escrow that never reached Funded holds nothing to return.
		if esc.Status == escrow.StatusFunded {
			return eng.Escrow.Refund(esc.Key, esc.Beneficiary)
		}
		return nil
	})
}

// CancelAndRefundAll cancels a project and winds down every entry: funded
// linked escrows are refunded to the depositor and the entries marked
// refunded. Entries that already settled are left alone.
func (a *Adapter) CancelAndRefundAll(projectKey [32]byte, caller [20]byte) error {
	return a.Atomic(func(eng *Engines) error {
		if err := eng.Milestone.Cancel(projectKey, caller); err != nil {
			return err
		}
		proj, err := eng.Milestone.QueryProject(projectKey)
		if err != nil {
			return err
		}
		for i, entry := range proj.Entries {
			switch entry.Status {
			case milestone.EntryStatusPending, milestone.EntryStatusRequested, milestone.EntryStatusDisputed:
			default:
				continue
			}
			if entry.LinkedEscrow != zeroKey {
				esc, ok, err := eng.State.EscrowGet(entry.LinkedEscrow)
				if err != nil {
					return err
				}
				if ok && esc.Status == escrow.StatusFunded {
					if err := eng.Escrow.Refund(esc.Key, esc.Beneficiary); err != nil {
						return err
					}
				}
			}
			if err := eng.Milestone.MarkRefunded(projectKey, i, caller); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseByResolution applies an escrow's settled outcome to its milestone
// entry after the escrow settled on its own, reconciling the two clauses
// without moving money again.
func (a *Adapter) ReleaseByResolution(projectKey [32]byte, index int, caller [20]byte) error {
	return a.Atomic(func(eng *Engines) error {
		entry, esc, err := linkedEscrow(eng, projectKey, index)
		if err != nil {
			return err
		}
		switch esc.Status {
		case escrow.StatusReleased:
			if entry.Status != milestone.EntryStatusConfirmed {
				if err := eng.Milestone.Confirm(projectKey, index, caller); err != nil {
					return err
				}
			}
			return eng.Milestone.MarkReleased(projectKey, index, caller)
		case escrow.StatusRefunded:
			return eng.Milestone.MarkRefunded(projectKey, index, caller)
		default:
			return &clause.StateError{Module: escrow.ModuleName, Op: "releaseByResolution", Expected: "released|refunded", Actual: esc.Status.String()}
		}
	})
}

// IsRollback reports whether the error indicates the composed operation was
// rolled back due to a clause-level precondition rather than an internal
// failure.
func IsRollback(err error) bool {
	return errors.Is(err, clause.ErrWrongState) ||
		errors.Is(err, clause.ErrUnauthorized) ||
		errors.Is(err, clause.ErrInvalidInput) ||
		errors.Is(err, clause.ErrDeadlineNotReached) ||
		errors.Is(err, clause.ErrDeadlinePassed) ||
		errors.Is(err, clause.ErrNotFound)
}
