package escrow

import (
	"math/big"
	"time"

	"clauseledger/core/events"
	"clauseledger/core/types"
	"clauseledger/native/clause"
)

var zeroAddress [20]byte

// engineState is the slice of ledger state the escrow engine needs. The
// engine owns the escrow namespace exclusively; account and token movements
// go through the shared ledger surface.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(key [32]byte) (*Escrow, bool, error)
	EscrowCredit(key [32]byte, asset string, amt *big.Int) error
	EscrowDebit(key [32]byte, asset string, amt *big.Int) error
	EscrowBalance(key [32]byte, asset string) (*big.Int, error)
	EscrowVaultAddress(asset string) [20]byte
	NativeTransfer(from, to [20]byte, amount *big.Int) error
	Transfer(from, to [20]byte, symbol string, amount *big.Int) error
	TransferFrom(spender, owner, to [20]byte, symbol string, amount *big.Int) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow clause logic with external state and event
// emitters. The engine itself is stateless; every operation loads the
// instance record, applies one transition and stores it back.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	pauses  clause.PauseView
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// Namespace returns the module's fixed storage namespace.
func (e *Engine) Namespace() string { return ModuleName }

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPauses configures the administrative pause view.
func (e *Engine) SetPauses(p clause.PauseView) { e.pauses = p }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
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

// loadForIntake returns the stored record or a fresh uninitialized one:
// records come into being implicitly on the first intake call.
func (e *Engine) loadForIntake(key [32]byte) (*Escrow, error) {
	esc, ok, err := e.state.EscrowGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Escrow{Key: key, Status: StatusUninitialized, Amount: big.NewInt(0)}, nil
	}
	return esc, nil
}

func (e *Engine) load(key [32]byte) (*Escrow, error) {
	esc, ok, err := e.state.EscrowGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &clause.NotFoundError{Module: ModuleName, Key: key}
	}
	return esc, nil
}

func (e *Engine) store(esc *Escrow) error {
	return e.state.EscrowPut(esc)
}

func (e *Engine) requireStatus(esc *Escrow, op string, want ...Status) error {
	for _, s := range want {
		if esc.Status == s {
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
	return &clause.StateError{Module: ModuleName, Op: op, Expected: expected, Actual: esc.Status.String()}
}

// --- Intake ---

// IntakeDepositor sets the party funding the escrow.
func (e *Engine) IntakeDepositor(key [32]byte, depositor [20]byte) error {
	return e.intakeField(key, "intakeDepositor", func(esc *Escrow) error {
		if depositor == zeroAddress {
			return &clause.ValidationError{Module: ModuleName, Field: "depositor", Reason: "must not be the zero address"}
		}
		esc.Depositor = depositor
		return nil
	})
}

// IntakeBeneficiary sets the party receiving the escrow on release.
func (e *Engine) IntakeBeneficiary(key [32]byte, beneficiary [20]byte) error {
	return e.intakeField(key, "intakeBeneficiary", func(esc *Escrow) error {
		if beneficiary == zeroAddress {
			return &clause.ValidationError{Module: ModuleName, Field: "beneficiary", Reason: "must not be the zero address"}
		}
		esc.Beneficiary = beneficiary
		return nil
	})
}

// IntakeCoordinator optionally registers an orchestrating party allowed to
// drive release and refund.
func (e *Engine) IntakeCoordinator(key [32]byte, coordinator [20]byte) error {
	return e.intakeField(key, "intakeCoordinator", func(esc *Escrow) error {
		if coordinator == zeroAddress {
			return &clause.ValidationError{Module: ModuleName, Field: "coordinator", Reason: "must not be the zero address"}
		}
		esc.Coordinator = coordinator
		return nil
	})
}

// IntakeAsset sets the escrowed asset. The empty symbol denotes the native
// asset; anything else must be a registered fungible token at deposit time.
func (e *Engine) IntakeAsset(key [32]byte, asset string) error {
	return e.intakeField(key, "intakeAsset", func(esc *Escrow) error {
		normalized, err := clause.NormalizeAsset(asset)
		if err != nil {
			return &clause.ValidationError{Module: ModuleName, Field: "asset", Reason: err.Error()}
		}
		esc.Asset = normalized
		return nil
	})
}

// IntakeAmount sets the escrowed amount.
func (e *Engine) IntakeAmount(key [32]byte, amount *big.Int) error {
	return e.intakeField(key, "intakeAmount", func(esc *Escrow) error {
		if amount == nil || amount.Sign() <= 0 {
			return &clause.ValidationError{Module: ModuleName, Field: "amount", Reason: "must be positive"}
		}
		esc.Amount = new(big.Int).Set(amount)
		return nil
	})
}

// IntakeCancelPolicy stages the cancellation policy. Only the configurable
// fields are taken from the supplied policy; runtime bookkeeping fields are
// reset.
func (e *Engine) IntakeCancelPolicy(key [32]byte, policy *CancelPolicy) error {
	return e.intakeField(key, "intakeCancelPolicy", func(esc *Escrow) error {
		if policy == nil {
			return &clause.ValidationError{Module: ModuleName, Field: "cancelPolicy", Reason: "must not be nil"}
		}
		staged := &CancelPolicy{
			Enabled:             policy.Enabled,
			NoticePeriodSeconds: policy.NoticePeriodSeconds,
			FeeType:             policy.FeeType,
			AuthorizedParty:     policy.AuthorizedParty,
			ProrationStart:      policy.ProrationStart,
			ProrationDuration:   policy.ProrationDuration,
		}
		if policy.FeeAmount != nil {
			staged.FeeAmount = new(big.Int).Set(policy.FeeAmount)
		}
		if err := staged.Validate(); err != nil {
			return err
		}
		esc.Cancel = staged
		return nil
	})
}

func (e *Engine) intakeField(key [32]byte, op string, apply func(*Escrow) error) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.loadForIntake(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, op, StatusUninitialized); err != nil {
		return err
	}
	if err := apply(esc); err != nil {
		return err
	}
	return e.store(esc)
}

// Ready validates the configured instance and transitions it to Pending.
func (e *Engine) Ready(key [32]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, "ready", StatusUninitialized); err != nil {
		return err
	}
	if esc.Depositor == zeroAddress {
		return &clause.ValidationError{Module: ModuleName, Field: "depositor", Reason: "required before ready"}
	}
	if esc.Beneficiary == zeroAddress {
		return &clause.ValidationError{Module: ModuleName, Field: "beneficiary", Reason: "required before ready"}
	}
	if esc.Amount == nil || esc.Amount.Sign() <= 0 {
		return &clause.ValidationError{Module: ModuleName, Field: "amount", Reason: "required before ready"}
	}
	esc.Status = StatusPending
	if err := e.store(esc); err != nil {
		return err
	}
	e.emit(NewConfiguredEvent(esc))
	return nil
}

// --- Actions ---

// Deposit funds the escrow from the depositor's balance. For the native
// asset the caller supplies at least the escrow amount; only the amount is
// pulled, so any excess never leaves the depositor's account. For a token
// asset the amount is pulled via the token's transfer-from mechanism, which
// requires a prior allowance for the escrow vault.
func (e *Engine) Deposit(key [32]byte, caller [20]byte, supplied *big.Int) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, "deposit", StatusPending); err != nil {
		return err
	}
	if caller != esc.Depositor {
		return &clause.AuthError{Module: ModuleName, Op: "deposit", Caller: caller, Expected: "depositor"}
	}
	vault := e.state.EscrowVaultAddress(esc.Asset)
	if clause.IsNative(esc.Asset) {
		if supplied == nil || supplied.Cmp(esc.Amount) < 0 {
			return ErrInsufficientDeposit
		}
		if err := e.state.NativeTransfer(esc.Depositor, vault, esc.Amount); err != nil {
			return &clause.TransferError{Module: ModuleName, Err: err}
		}
	} else {
		if err := e.state.TransferFrom(vault, esc.Depositor, vault, esc.Asset, esc.Amount); err != nil {
			return &clause.TransferError{Module: ModuleName, Err: err}
		}
	}
	if err := e.state.EscrowCredit(key, esc.Asset, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusFunded
	esc.FundedAt = e.now()
	if err := e.store(esc); err != nil {
		return err
	}
	e.emit(NewFundedEvent(esc))
	return nil
}

// MarkFunded flips Pending to Funded without moving money, for a
// coordinating caller that has already placed the funds with the vault. The
// caller must be the registered coordinator and is responsible for the
// vault actually holding the amount.
func (e *Engine) MarkFunded(key [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, "markFunded", StatusPending); err != nil {
		return err
	}
	if esc.Coordinator == zeroAddress || caller != esc.Coordinator {
		return &clause.AuthError{Module: ModuleName, Op: "markFunded", Caller: caller, Expected: "coordinator"}
	}
	if err := e.state.EscrowCredit(key, esc.Asset, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusFunded
	esc.FundedAt = e.now()
	if err := e.store(esc); err != nil {
		return err
	}
	e.emit(NewFundedEvent(esc))
	return nil
}

// Release pays the escrowed amount to the beneficiary. Authorized for the
// depositor (a voluntary payment) or the coordinator.
func (e *Engine) Release(key [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, "release", StatusFunded); err != nil {
		return err
	}
	if caller != esc.Depositor && (esc.Coordinator == zeroAddress || caller != esc.Coordinator) {
		return &clause.AuthError{Module: ModuleName, Op: "release", Caller: caller, Expected: "depositor or coordinator"}
	}
	if err := e.payOut(esc, esc.Beneficiary, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusReleased
	if err := e.store(esc); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(esc))
	return nil
}

// Refund returns the escrowed amount to the depositor. Authorized for the
// beneficiary (a voluntary forfeit) or the coordinator.
func (e *Engine) Refund(key [32]byte, caller [20]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, "refund", StatusFunded); err != nil {
		return err
	}
	if caller != esc.Beneficiary && (esc.Coordinator == zeroAddress || caller != esc.Coordinator) {
		return &clause.AuthError{Module: ModuleName, Op: "refund", Caller: caller, Expected: "beneficiary or coordinator"}
	}
	if err := e.payOut(esc, esc.Depositor, esc.Amount); err != nil {
		return err
	}
	esc.Status = StatusRefunded
	if err := e.store(esc); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(esc))
	return nil
}

func (e *Engine) payOut(esc *Escrow, recipient [20]byte, amount *big.Int) error {
	if err := e.state.EscrowDebit(esc.Key, esc.Asset, amount); err != nil {
		return &clause.TransferError{Module: ModuleName, Err: err}
	}
	vault := e.state.EscrowVaultAddress(esc.Asset)
	var err error
	if clause.IsNative(esc.Asset) {
		err = e.state.NativeTransfer(vault, recipient, amount)
	} else {
		err = e.state.Transfer(vault, recipient, esc.Asset, amount)
	}
	if err != nil {
		return &clause.TransferError{Module: ModuleName, Err: err}
	}
	return nil
}

// InitiateCancel starts the cancellation sub-machine. With a zero notice
// period the cancellation executes immediately; otherwise the instance moves
// to CancelPending and the returned deadline marks when ExecuteCancel
// becomes possible.
func (e *Engine) InitiateCancel(key [32]byte, caller [20]byte) (deadline int64, err error) {
	if err := e.guard(); err != nil {
		return 0, err
	}
	esc, err := e.load(key)
	if err != nil {
		return 0, err
	}
	if err := e.requireStatus(esc, "initiateCancel", StatusFunded); err != nil {
		return 0, err
	}
	if esc.Cancel == nil || !esc.Cancel.Enabled {
		return 0, &clause.ValidationError{Module: ModuleName, Field: "cancelPolicy", Reason: "cancellation not enabled"}
	}
	if !esc.Cancel.authorizes(caller, esc.Depositor, esc.Beneficiary) {
		return 0, &clause.AuthError{Module: ModuleName, Op: "initiateCancel", Caller: caller, Expected: esc.Cancel.AuthorizedParty.String()}
	}
	now := e.now()
	esc.Cancel.InitiatedAt = now
	esc.Cancel.InitiatedBy = caller
	if esc.Cancel.NoticePeriodSeconds == 0 {
		if err := e.executeSplit(esc, now); err != nil {
			return 0, err
		}
		return now, nil
	}
	deadline = now + esc.Cancel.NoticePeriodSeconds
	esc.Status = StatusCancelPending
	if err := e.store(esc); err != nil {
		return 0, err
	}
	e.emit(NewCancelInitiatedEvent(esc, deadline))
	return deadline, nil
}

// ExecuteCancel completes a pending cancellation once the notice period has
// elapsed. Anyone may invoke it; the split uses the originally recorded
// initiator and the execution-time clock.
func (e *Engine) ExecuteCancel(key [32]byte) error {
	if err := e.guard(); err != nil {
		return err
	}
	esc, err := e.load(key)
	if err != nil {
		return err
	}
	if err := e.requireStatus(esc, "executeCancel", StatusCancelPending); err != nil {
		return err
	}
	now := e.now()
	deadline := esc.Cancel.InitiatedAt + esc.Cancel.NoticePeriodSeconds
	if now < deadline {
		return &clause.TimingError{Module: ModuleName, Op: "executeCancel", Deadline: deadline, Now: now, Early: true}
	}
	return e.executeSplit(esc, now)
}

func (e *Engine) executeSplit(esc *Escrow, now int64) error {
	toBeneficiary, toDepositor, err := esc.Cancel.Split(esc.Amount, now)
	if err != nil {
		return err
	}
	if err := e.state.EscrowDebit(esc.Key, esc.Asset, esc.Amount); err != nil {
		return &clause.TransferError{Module: ModuleName, Err: err}
	}
	vault := e.state.EscrowVaultAddress(esc.Asset)
	pay := func(to [20]byte, amt *big.Int) error {
		if amt.Sign() == 0 {
			return nil
		}
		if clause.IsNative(esc.Asset) {
			return e.state.NativeTransfer(vault, to, amt)
		}
		return e.state.Transfer(vault, to, esc.Asset, amt)
	}
	if err := pay(esc.Beneficiary, toBeneficiary); err != nil {
		return &clause.TransferError{Module: ModuleName, Err: err}
	}
	if err := pay(esc.Depositor, toDepositor); err != nil {
		return &clause.TransferError{Module: ModuleName, Err: err}
	}
	esc.Cancel.ExecutedAt = now
	esc.Cancel.PaidToBeneficiary = toBeneficiary
	esc.Cancel.PaidToDepositor = toDepositor
	esc.Status = StatusCancelExecuted
	if err := e.store(esc); err != nil {
		return err
	}
	e.emit(NewCancelExecutedEvent(esc))
	return nil
}

// --- Handoff ---

// HandoffResolution returns the settled recipient and amount. Only callable
// once the instance reached Released or Refunded.
func (e *Engine) HandoffResolution(key [32]byte) (recipient [20]byte, amount *big.Int, err error) {
	if e == nil || e.state == nil {
		return zeroAddress, nil, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	esc, err := e.load(key)
	if err != nil {
		return zeroAddress, nil, err
	}
	switch esc.Status {
	case StatusReleased:
		return esc.Beneficiary, new(big.Int).Set(esc.Amount), nil
	case StatusRefunded:
		return esc.Depositor, new(big.Int).Set(esc.Amount), nil
	default:
		return zeroAddress, nil, &clause.StateError{Module: ModuleName, Op: "handoffResolution", Expected: "released|refunded", Actual: esc.Status.String()}
	}
}

// HandoffCancelSplit returns the executed cancellation split. Only callable
// once the instance reached CancelExecuted.
func (e *Engine) HandoffCancelSplit(key [32]byte) (toBeneficiary, toDepositor *big.Int, initiator [20]byte, err error) {
	if e == nil || e.state == nil {
		return nil, nil, zeroAddress, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	esc, err := e.load(key)
	if err != nil {
		return nil, nil, zeroAddress, err
	}
	if esc.Status != StatusCancelExecuted {
		return nil, nil, zeroAddress, &clause.StateError{Module: ModuleName, Op: "handoffCancelSplit", Expected: StatusCancelExecuted.String(), Actual: esc.Status.String()}
	}
	return new(big.Int).Set(esc.Cancel.PaidToBeneficiary), new(big.Int).Set(esc.Cancel.PaidToDepositor), esc.Cancel.InitiatedBy, nil
}

// --- Query ---

// QueryStatus returns the instance status, Uninitialized when no record
// exists yet.
func (e *Engine) QueryStatus(key [32]byte) (Status, error) {
	if e == nil || e.state == nil {
		return StatusUninitialized, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	esc, ok, err := e.state.EscrowGet(key)
	if err != nil {
		return StatusUninitialized, err
	}
	if !ok {
		return StatusUninitialized, nil
	}
	return esc.Status, nil
}

// QueryEscrow returns a clone of the instance record, a zeroed record when
// none exists.
func (e *Engine) QueryEscrow(key [32]byte) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	esc, ok, err := e.state.EscrowGet(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Escrow{Key: key, Status: StatusUninitialized, Amount: big.NewInt(0)}, nil
	}
	return esc.Clone(), nil
}

// PreviewCancelSplit computes the split that executing the cancellation now
// would produce, without changing any state.
func (e *Engine) PreviewCancelSplit(key [32]byte) (toBeneficiary, toDepositor *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, nil, &clause.ValidationError{Module: ModuleName, Field: "engine", Reason: "state not configured"}
	}
	esc, err := e.load(key)
	if err != nil {
		return nil, nil, err
	}
	if esc.Cancel == nil || !esc.Cancel.Enabled {
		return nil, nil, &clause.ValidationError{Module: ModuleName, Field: "cancelPolicy", Reason: "cancellation not enabled"}
	}
	return esc.Cancel.Split(esc.Amount, e.now())
}
