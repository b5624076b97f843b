package milestone

import (
	"fmt"
	"math/big"
	"time"

	"clauseledger/core/events"
	"clauseledger/core/types"
	"clauseledger/native/clause"
)

var (
	zeroAddress [20]byte
	zeroKey     [32]byte
)

// engineState is the slice of ledger state the milestone engine needs. The
// module tracks agreement progress only; the money sits in linked escrows.
type engineState interface {
	MilestonePut(*Project) error
	MilestoneGet(key [32]byte) (*Project, bool, error)
}

type milestoneEvent struct {
	evt *types.Event
}

func (e milestoneEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e milestoneEvent) Event() *types.Event { return e.evt }

// Engine drives milestone project state transitions. Like the escrow engine
// it is stateless; every operation loads the project, applies one transition
// and stores it back.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  clause.PauseView
}

func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Namespace returns the module's fixed storage namespace.
func (e *Engine) Namespace() string { return ModuleName }

func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) SetPauses(p clause.PauseView) { e.pauses = p }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(milestoneEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) guard() error {
	if e == nil || e.state == nil {
		return &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	return clause.Guard(e.pauses, ModuleName)
}

func (e *Engine) loadForIntake(key [32]byte) (*Project, error) {
	proj, ok, err := e.state.MilestoneGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		now := e.now()
		return &Project{
			Key:           key,
			Status:        StatusUninitialized,
			TotalReleased: big.NewInt(0),
			CreatedAt:     now,
		}, nil
	}
	return proj, nil
}

func (e *Engine) load(key [32]byte) (*Project, error) {
	proj, ok, err := e.state.MilestoneGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &clause.NotFoundError{Module: ModuleName, Key: key}
	}
	return proj, nil
}

func (e *Engine) store(proj *Project) error {
	proj.UpdatedAt = e.now()
	return e.state.MilestonePut(proj)
}

func (e *Engine) requireStatus(proj *Project, op string, want ...Status) error {
	for _, s := range want {
		if proj.Status == s {
			return nil
		}
	}
	expected := ""
	for i, s := range want {
		if i > 0 {
			expected += "|"
		}
		expected += s.String()
	}
	return &clause.StateError{Module: ModuleName, Op: op, Expected: expected, Actual: proj.Status.String()}
}

func (e *Engine) entry(proj *Project, index int) (*Entry, error) {
	if index < 0 || index >= len(proj.Entries) {
		return nil, &clause.ValidationError{Module: ModuleName, Field: "entryIndex", Reason: fmt.Sprintf("index %d out of range, project has %d entries", index, len(proj.Entries))}
	}
	entry := proj.Entries[index]
	if entry == nil {
		return nil, &clause.ValidationError{Module: ModuleName, Field: "entryIndex", Reason: fmt.Sprintf("entry %d is nil", index)}
	}
	return entry, nil
}

func requireEntryStatus(entry *Entry, index int, op string, want ...EntryStatus) error {
	for _, s := range want {
		if entry.Status == s {
			return nil
		}
	}
	expected := ""
	for i, s := range want {
		if i > 0 {
			expected += "|"
		}
		expected += s.String()
	}
	return &clause.StateError{Module: ModuleName, Op: fmt.Sprintf("%s[%d]", op, index), Expected: expected, Actual: entry.Status.String()}
}

// --- Intake ---

// IntakeClient sets the party commissioning the work.
func (e *Engine) IntakeClient(key [32]byte, client [20]byte) error {
	return e.intakeField(key, "intakeClient", func(proj *Project) error {
		if client == zeroAddress {
			return &clause.ValidationError{Module: ModuleName, Field: "client", Reason: "must not be the zero address"}
		}
		proj.Client = client
		return nil
	})
}

// IntakeBeneficiary sets the party delivering the work.
func (e *Engine) IntakeBeneficiary(key [32]byte, beneficiary [20]byte) error {
	return e.intakeField(key, "intakeBeneficiary", func(proj *Project) error {
		if beneficiary == zeroAddress {
			return &clause.ValidationError{Module: ModuleName, Field: "beneficiary", Reason: "must not be the zero address"}
		}
		proj.Beneficiary = beneficiary
		return nil
	})
}

// IntakeAsset sets the asset entries are denominated in.
func (e *Engine) IntakeAsset(key [32]byte, asset string) error {
	return e.intakeField(key, "intakeAsset", func(proj *Project) error {
		normalized, err := clause.NormalizeAsset(asset)
		if err != nil {
			return &clause.ValidationError{Module: ModuleName, Field: "asset", Reason: err.Error()}
		}
		proj.Asset = normalized
		return nil
	})
}

// IntakeReviewPeriod sets the window after which a pending confirmation
// request may be confirmed by anyone. Zero disables deadline confirmation.
func (e *Engine) IntakeReviewPeriod(key [32]byte, seconds int64) error {
	return e.intakeField(key, "intakeReviewPeriod", func(proj *Project) error {
		if seconds < 0 {
			return &clause.ValidationError{Module: ModuleName, Field: "reviewPeriodSeconds", Reason: "must not be negative"}
		}
		proj.ReviewPeriodSeconds = seconds
		return nil
	})
}

// IntakeEntry appends one milestone entry. Entries keep their append order;
// the returned index identifies the entry in all later operations.
func (e *Engine) IntakeEntry(key [32]byte, descriptionHash [32]byte, amount *big.Int) (index int, err error) {
	index = -1
	err = e.intakeField(key, "intakeEntry", func(proj *Project) error {
		if descriptionHash == zeroKey {
			return &clause.ValidationError{Module: ModuleName, Field: "descriptionHash", Reason: "must not be zero"}
		}
		if amount == nil || amount.Sign() <= 0 {
			return &clause.ValidationError{Module: ModuleName, Field: "entry.amount", Reason: "must be positive"}
		}
		if len(proj.Entries) >= MaxEntries {
			return &clause.ValidationError{Module: ModuleName, Field: "entries", Reason: fmt.Sprintf("maximum of %d entries reached", MaxEntries)}
		}
		proj.Entries = append(proj.Entries, &Entry{
			DescriptionHash: descriptionHash,
			Amount:          new(big.Int).Set(amount),
			Status:          EntryStatusNone,
		})
		index = len(proj.Entries) - 1
		return nil
	})
	return index, err
}

func (e *Engine) intakeField(key [32]byte, op string, apply func(*Project) error) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.loadForIntake(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, op, StatusUninitialized); err != nil {
		return err
	}
	if err := apply(proj); err != nil {
		return err
	}
	return e.store(proj)
}

// LinkEscrow binds an entry to the escrow instance funding it. Allowed while
// the project is Uninitialized or Pending so escrows can be configured either
// before or after readiness.
func (e *Engine) LinkEscrow(key [32]byte, index int, escrowKey [32]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "linkEscrow", StatusUninitialized, StatusPending); err != nil {
		return err
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if escrowKey == zeroKey {
		return &clause.ValidationError{Module: ModuleName, Field: "escrowKey", Reason: "must not be zero"}
	}
	entry.LinkedEscrow = escrowKey
	return e.store(proj)
}

// Ready validates the configured project and transitions it to Pending.
func (e *Engine) Ready(key [32]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "ready", StatusUninitialized); err != nil {
		return err
	}
	if proj.Client == zeroAddress {
		return &clause.ValidationError{Module: ModuleName, Field: "client", Reason: "required before ready"}
	}
	if proj.Beneficiary == zeroAddress {
		return &clause.ValidationError{Module: ModuleName, Field: "beneficiary", Reason: "required before ready"}
	}
	if len(proj.Entries) == 0 {
		return &clause.ValidationError{Module: ModuleName, Field: "entries", Reason: "at least one entry required before ready"}
	}
	for _, entry := range proj.Entries {
		entry.Status = EntryStatusPending
	}
	proj.Status = StatusPending
	if err := e.store(proj); err != nil {
		return err
	}
	e.emit(NewConfiguredEvent(proj))
	return nil
}

// --- Actions ---

// Activate starts the work phase. Every entry must be linked to an escrow;
// the error names the first unlinked entry.
func (e *Engine) Activate(key [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "activate", StatusPending); err != nil {
		return err
	}
	if caller != proj.Client {
		return &clause.AuthError{Module: ModuleName, Op: "activate", Caller: caller, Expected: "client"}
	}
	for i, entry := range proj.Entries {
		if entry.LinkedEscrow == zeroKey {
			return &clause.ValidationError{Module: ModuleName, Field: "entries", Reason: fmt.Sprintf("entry %d has no linked escrow", i)}
		}
	}
	proj.Status = StatusActive
	if err := e.store(proj); err != nil {
		return err
	}
	e.emit(NewActivatedEvent(proj))
	return nil
}

// RequestConfirmation lets the beneficiary signal an entry is delivered.
func (e *Engine) RequestConfirmation(key [32]byte, index int, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "requestConfirmation", StatusActive, StatusDisputed); err != nil {
		return err
	}
	if caller != proj.Beneficiary {
		return &clause.AuthError{Module: ModuleName, Op: "requestConfirmation", Caller: caller, Expected: "beneficiary"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "requestConfirmation", EntryStatusPending); err != nil {
		return err
	}
	entry.Status = EntryStatusRequested
	entry.RequestedAt = e.now()
	if err := e.store(proj); err != nil {
		return err
	}
	e.emit(NewEntryRequestedEvent(proj, index))
	return nil
}

// Confirm records the client's acceptance of an entry. Acceptable straight
// from Pending as well, for work confirmed without a prior request.
func (e *Engine) Confirm(key [32]byte, index int, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "confirm", StatusActive, StatusDisputed); err != nil {
		return err
	}
	if caller != proj.Client {
		return &clause.AuthError{Module: ModuleName, Op: "confirm", Caller: caller, Expected: "client"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "confirm", EntryStatusPending, EntryStatusRequested); err != nil {
		return err
	}
	e.confirmEntry(proj, entry, index)
	return e.store(proj)
}

// ConfirmByDeadline confirms a requested entry once the review period has
// elapsed without the client acting. Anyone may invoke it.
func (e *Engine) ConfirmByDeadline(key [32]byte, index int) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "confirmByDeadline", StatusActive, StatusDisputed); err != nil {
		return err
	}
	if proj.ReviewPeriodSeconds <= 0 {
		return &clause.ValidationError{Module: ModuleName, Field: "reviewPeriodSeconds", Reason: "deadline confirmation not enabled"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "confirmByDeadline", EntryStatusRequested); err != nil {
		return err
	}
	now := e.now()
	deadline := entry.RequestedAt + proj.ReviewPeriodSeconds
	if now < deadline {
		return &clause.TimingError{Module: ModuleName, Op: "confirmByDeadline", Deadline: deadline, Now: now, Early: true}
	}
	e.confirmEntry(proj, entry, index)
	return e.store(proj)
}

func (e *Engine) confirmEntry(proj *Project, entry *Entry, index int) {
	entry.Status = EntryStatusConfirmed
	entry.ConfirmedAt = e.now()
	entry.DisputeReason = ""
	e.emit(NewEntryConfirmedEvent(proj, index))
}

// MarkReleased records that the linked escrow paid out for a confirmed
// entry. The project completes when every entry has been released.
func (e *Engine) MarkReleased(key [32]byte, index int, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "markReleased", StatusActive, StatusDisputed); err != nil {
		return err
	}
	if caller != proj.Client {
		return &clause.AuthError{Module: ModuleName, Op: "markReleased", Caller: caller, Expected: "client"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "markReleased", EntryStatusConfirmed); err != nil {
		return err
	}
	entry.Status = EntryStatusReleased
	entry.ReleasedAt = e.now()
	proj.ReleasedCount++
	proj.TotalReleased = new(big.Int).Add(proj.TotalReleased, entry.Amount)
	e.emit(NewEntryReleasedEvent(proj, index))
	if int(proj.ReleasedCount) == len(proj.Entries) {
		proj.Status = StatusComplete
		e.emit(NewCompletedEvent(proj))
	}
	return e.store(proj)
}

// MarkRefunded records that the linked escrow returned an entry's funds to
// the client. Valid for entries that never reached confirmation, including
// during wind-down of a cancelled project.
func (e *Engine) MarkRefunded(key [32]byte, index int, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "markRefunded", StatusActive, StatusDisputed, StatusCancelled); err != nil {
		return err
	}
	if caller != proj.Client && caller != proj.Beneficiary {
		return &clause.AuthError{Module: ModuleName, Op: "markRefunded", Caller: caller, Expected: "client or beneficiary"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "markRefunded", EntryStatusPending, EntryStatusRequested, EntryStatusDisputed); err != nil {
		return err
	}
	entry.Status = EntryStatusRefunded
	entry.DisputeReason = ""
	e.emit(NewEntryRefundedEvent(proj, index))
	e.settleDisputeAggregate(proj)
	return e.store(proj)
}

// Dispute flags an entry and moves the project into the Disputed aggregate
// state. Either party may raise a dispute while the entry is still Pending
// or Requested; a confirmed entry is past the point of contention.
func (e *Engine) Dispute(key [32]byte, index int, caller [20]byte, reason string) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "dispute", StatusActive, StatusDisputed); err != nil {
		return err
	}
	if caller != proj.Client && caller != proj.Beneficiary {
		return &clause.AuthError{Module: ModuleName, Op: "dispute", Caller: caller, Expected: "client or beneficiary"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "dispute", EntryStatusPending, EntryStatusRequested); err != nil {
		return err
	}
	entry.Status = EntryStatusDisputed
	entry.DisputeReason = reason
	proj.Status = StatusDisputed
	if err := e.store(proj); err != nil {
		return err
	}
	e.emit(NewEntryDisputedEvent(proj, index, reason))
	return nil
}

// RejectAndReset lets the client send a requested entry back to Pending,
// asking for more work without raising a dispute.
func (e *Engine) RejectAndReset(key [32]byte, index int, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "rejectAndReset", StatusActive, StatusDisputed); err != nil {
		return err
	}
	if caller != proj.Client {
		return &clause.AuthError{Module: ModuleName, Op: "rejectAndReset", Caller: caller, Expected: "client"}
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "rejectAndReset", EntryStatusRequested); err != nil {
		return err
	}
	entry.Status = EntryStatusPending
	entry.RequestedAt = 0
	return e.store(proj)
}

// ResolveDispute settles a disputed entry either in the beneficiary's favor
// (Confirmed, ready for release) or the client's (Refunded). The project
// returns to Active once no disputed entries remain.
func (e *Engine) ResolveDispute(key [32]byte, index int, favorBeneficiary bool) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(proj, "resolveDispute", StatusDisputed); err != nil {
		return err
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return err
	}
	if err := requireEntryStatus(entry, index, "resolveDispute", EntryStatusDisputed); err != nil {
		return err
	}
	if favorBeneficiary {
		e.confirmEntry(proj, entry, index)
	} else {
		entry.Status = EntryStatusRefunded
		entry.DisputeReason = ""
		e.emit(NewEntryRefundedEvent(proj, index))
	}
	e.settleDisputeAggregate(proj)
	return e.store(proj)
}

// settleDisputeAggregate drops the project back to Active when no entry is
// disputed anymore. Terminal project states stay as they are.
func (e *Engine) settleDisputeAggregate(proj *Project) {
	if proj.Status != StatusDisputed {
		return
	}
	for _, entry := range proj.Entries {
		if entry.Status == EntryStatusDisputed {
			return
		}
	}
	proj.Status = StatusActive
}

// Cancel abandons a project before activation. Idempotent: cancelling an
// already cancelled project is a no-op.
func (e *Engine) Cancel(key [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	proj, err := e.load(key)
	if err != nil {
		return err
	}
	if proj.Status == StatusCancelled {
		return nil
	}
	if err := e.requireStatus(proj, "cancel", StatusPending); err != nil {
		return err
	}
	if caller != proj.Client && caller != proj.Beneficiary {
		return &clause.AuthError{Module: ModuleName, Op: "cancel", Caller: caller, Expected: "client or beneficiary"}
	}
	proj.Status = StatusCancelled
	if err := e.store(proj); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(proj))
	return nil
}

// --- Handoff ---

// Summary is the aggregate a settled project hands to composing callers.
type Summary struct {
	Status        Status
	EntryCount    int
	ReleasedCount uint32
	TotalReleased *big.Int
}

// HandoffSummary returns the settled aggregate. Only callable once the
// project reached Complete or Cancelled.
func (e *Engine) HandoffSummary(key [32]byte) (*Summary, error) {
	if e == nil || e.state == nil {
		return nil, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	proj, err := e.load(key)
	if err != nil {
		return nil, err
	}
	if !proj.Status.Terminal() {
		return nil, &clause.StateError{Module: ModuleName, Op: "handoffSummary", Expected: "complete|cancelled", Actual: proj.Status.String()}
	}
	return &Summary{
		Status:        proj.Status,
		EntryCount:    len(proj.Entries),
		ReleasedCount: proj.ReleasedCount,
		TotalReleased: new(big.Int).Set(proj.TotalReleased),
	}, nil
}

// --- Query ---

// QueryStatus returns the project status, Uninitialized when no record
// exists yet.
func (e *Engine) QueryStatus(key [32]byte) (Status, error) {
	if e == nil || e.state == nil {
		return StatusUninitialized, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	proj, ok, err := e.state.MilestoneGet(key)
	if err != nil {
		return StatusUninitialized, err
	}
	if !ok {
		return StatusUninitialized, nil
	}
	return proj.Status, nil
}

// QueryEntry returns a clone of one entry.
func (e *Engine) QueryEntry(key [32]byte, index int) (*Entry, error) {
	if e == nil || e.state == nil {
		return nil, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	proj, err := e.load(key)
	if err != nil {
		return nil, err
	}
	entry, err := e.entry(proj, index)
	if err != nil {
		return nil, err
	}
	return entry.Clone(), nil
}

// QueryProject returns a clone of the full project record.
func (e *Engine) QueryProject(key [32]byte) (*Project, error) {
	if e == nil || e.state == nil {
		return nil, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	proj, ok, err := e.state.MilestoneGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Project{Key: key, Status: StatusUninitialized, TotalReleased: big.NewInt(0)}, nil
	}
	return proj.Clone(), nil
}
