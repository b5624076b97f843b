package escrow

import (
	"fmt"
	"math/big"

	"clauseledger/native/clause"
)

// ModuleName is the escrow clause's fixed storage namespace.
const ModuleName = "escrow"

// Status represents the lifecycle states of an escrow instance.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusPending
	StatusFunded
	StatusReleased
	StatusRefunded
	StatusCancelPending
	StatusCancelExecuted
)

// String returns the canonical lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusPending:
		return "pending"
	case StatusFunded:
		return "funded"
	case StatusReleased:
		return "released"
	case StatusRefunded:
		return "refunded"
	case StatusCancelPending:
		return "cancel_pending"
	case StatusCancelExecuted:
		return "cancel_executed"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	return s <= StatusCancelExecuted
}

// Terminal reports whether the status permits no further transition. Exactly
// one of the terminal states is ever reached per instance and the record is
// immutable afterwards.
func (s Status) Terminal() bool {
	return s == StatusReleased || s == StatusRefunded || s == StatusCancelExecuted
}

// CancelFeeType selects how the cancellation fee owed to the beneficiary is
// computed.
type CancelFeeType uint8

const (
	CancelFeeNone CancelFeeType = iota
	CancelFeeFixed
	CancelFeeBasisPoints
	CancelFeeProrated
)

func (t CancelFeeType) Valid() bool { return t <= CancelFeeProrated }

func (t CancelFeeType) String() string {
	switch t {
	case CancelFeeNone:
		return "none"
	case CancelFeeFixed:
		return "fixed"
	case CancelFeeBasisPoints:
		return "basis_points"
	case CancelFeeProrated:
		return "prorated"
	default:
		return fmt.Sprintf("fee_type(%d)", uint8(t))
	}
}

// CancelAuthority names which party may initiate a cancellation.
type CancelAuthority uint8

const (
	CancelAuthNone CancelAuthority = iota
	CancelAuthDepositor
	CancelAuthBeneficiary
	CancelAuthEither
)

func (a CancelAuthority) Valid() bool { return a <= CancelAuthEither }

func (a CancelAuthority) String() string {
	switch a {
	case CancelAuthNone:
		return "none"
	case CancelAuthDepositor:
		return "depositor"
	case CancelAuthBeneficiary:
		return "beneficiary"
	case CancelAuthEither:
		return "either"
	default:
		return fmt.Sprintf("authority(%d)", uint8(a))
	}
}

// CancelPolicy configures the cancellation sub-machine of one escrow
// instance. The Initiated*/Paid* fields are runtime bookkeeping filled in by
// the engine, not intake configuration.
type CancelPolicy struct {
	Enabled             bool
	NoticePeriodSeconds int64
	FeeType             CancelFeeType
	FeeAmount           *big.Int
	AuthorizedParty     CancelAuthority
	ProrationStart      int64
	ProrationDuration   int64

	InitiatedAt       int64
	InitiatedBy       [20]byte
	ExecutedAt        int64
	PaidToBeneficiary *big.Int
	PaidToDepositor   *big.Int
}

// Clone returns a deep copy of the policy.
func (p *CancelPolicy) Clone() *CancelPolicy {
	if p == nil {
		return nil
	}
	clone := *p
	if p.FeeAmount != nil {
		clone.FeeAmount = new(big.Int).Set(p.FeeAmount)
	}
	if p.PaidToBeneficiary != nil {
		clone.PaidToBeneficiary = new(big.Int).Set(p.PaidToBeneficiary)
	}
	if p.PaidToDepositor != nil {
		clone.PaidToDepositor = new(big.Int).Set(p.PaidToDepositor)
	}
	return &clone
}

// Validate checks the configurable policy fields. Proration dates are only
// checked when the split is computed, so a policy can be staged before the
// dates are known.
func (p *CancelPolicy) Validate() error {
	if p == nil {
		return nil
	}
	if !p.FeeType.Valid() {
		return &clause.ValidationError{Module: ModuleName, Field: "cancel.feeType", Reason: "out of range"}
	}
	if !p.AuthorizedParty.Valid() {
		return &clause.ValidationError{Module: ModuleName, Field: "cancel.authorizedParty", Reason: "out of range"}
	}
	if p.NoticePeriodSeconds < 0 {
		return &clause.ValidationError{Module: ModuleName, Field: "cancel.noticePeriodSeconds", Reason: "must not be negative"}
	}
	if p.FeeAmount != nil && p.FeeAmount.Sign() < 0 {
		return &clause.ValidationError{Module: ModuleName, Field: "cancel.feeAmount", Reason: "must not be negative"}
	}
	return nil
}

// Escrow captures one conditional transfer between a depositor and a
// beneficiary, keyed by the caller-supplied instance key.
type Escrow struct {
	Key         [32]byte
	Depositor   [20]byte
	Beneficiary [20]byte
	// Coordinator optionally names an orchestrating party allowed to drive
	// release and refund on behalf of the agreement, mirroring the mediator
	// role of classic escrow. Zero means unset.
	Coordinator [20]byte
	Asset       string
	Amount      *big.Int
	FundedAt    int64
	Status      Status
	Cancel      *CancelPolicy
}

// Clone returns a deep copy of the escrow so callers can safely mutate the
// copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	clone.Cancel = e.Cancel.Clone()
	return &clone
}

// Sanitize validates and normalises the supplied escrow record, returning a
// cloned instance with a canonical asset symbol and non-nil amount. The
// original value is not mutated.
func Sanitize(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("nil escrow")
	}
	clone := e.Clone()
	asset, err := clause.NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount.Sign() < 0 {
		return nil, fmt.Errorf("escrow amount must be non-negative")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid escrow status: %d", clone.Status)
	}
	if err := clone.Cancel.Validate(); err != nil {
		return nil, err
	}
	return clone, nil
}
