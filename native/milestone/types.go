package milestone

import (
	"fmt"
	"math/big"

	"clauseledger/native/clause"
)

// ModuleName is the milestone clause's fixed storage namespace.
const ModuleName = "milestone"

// MaxEntries bounds the number of milestone entries per project.
const MaxEntries = 20

// Status represents the lifecycle states of a milestone project.
type Status uint8

const (
	StatusUninitialized Status = iota
	StatusPending
	StatusActive
	StatusDisputed
	StatusComplete
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusDisputed:
		return "disputed"
	case StatusComplete:
		return "complete"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) Valid() bool { return s <= StatusCancelled }

// Terminal reports whether the project permits no further transition.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// EntryStatus represents the sub-state of one milestone entry.
type EntryStatus uint8

const (
	EntryStatusNone EntryStatus = iota
	EntryStatusPending
	EntryStatusRequested
	EntryStatusConfirmed
	EntryStatusDisputed
	EntryStatusReleased
	EntryStatusRefunded
)

func (s EntryStatus) String() string {
	switch s {
	case EntryStatusNone:
		return "none"
	case EntryStatusPending:
		return "pending"
	case EntryStatusRequested:
		return "requested"
	case EntryStatusConfirmed:
		return "confirmed"
	case EntryStatusDisputed:
		return "disputed"
	case EntryStatusReleased:
		return "released"
	case EntryStatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("entry_status(%d)", uint8(s))
	}
}

func (s EntryStatus) Valid() bool { return s <= EntryStatusRefunded }

// Terminal reports whether the entry permits no further transition.
func (s EntryStatus) Terminal() bool {
	return s == EntryStatusReleased || s == EntryStatusRefunded
}

// Entry is one deliverable within a project. The description is stored as a
// hash; the plaintext stays off the ledger.
type Entry struct {
	DescriptionHash [32]byte
	Amount          *big.Int
	// LinkedEscrow is the instance key of the escrow funding this entry.
	// Zero means not yet linked.
	LinkedEscrow  [32]byte
	Status        EntryStatus
	RequestedAt   int64
	ConfirmedAt   int64
	ReleasedAt    int64
	DisputeReason string
}

// Clone returns a deep copy of the entry.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Amount != nil {
		clone.Amount = new(big.Int).Set(e.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Project captures one milestone agreement between a client and a
// beneficiary, keyed by the caller-supplied instance key.
type Project struct {
	Key         [32]byte
	Client      [20]byte
	Beneficiary [20]byte
	Asset       string
	// ReviewPeriodSeconds bounds how long the client may sit on a
	// confirmation request. Zero disables deadline confirmation.
	ReviewPeriodSeconds int64
	Status              Status
	Entries             []*Entry
	ReleasedCount       uint32
	TotalReleased       *big.Int
	CreatedAt           int64
	UpdatedAt           int64
}

// Clone returns a deep copy of the project.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	clone := *p
	if p.TotalReleased != nil {
		clone.TotalReleased = new(big.Int).Set(p.TotalReleased)
	} else {
		clone.TotalReleased = big.NewInt(0)
	}
	clone.Entries = make([]*Entry, len(p.Entries))
	for i, entry := range p.Entries {
		clone.Entries[i] = entry.Clone()
	}
	return &clone
}

// Sanitize validates and normalises the supplied project record, returning a
// cloned instance. The original value is not mutated.
func Sanitize(p *Project) (*Project, error) {
	if p == nil {
		return nil, fmt.Errorf("nil project")
	}
	clone := p.Clone()
	asset, err := clause.NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("invalid project status: %d", clone.Status)
	}
	if len(clone.Entries) > MaxEntries {
		return nil, fmt.Errorf("project has %d entries, maximum is %d", len(clone.Entries), MaxEntries)
	}
	if clone.TotalReleased.Sign() < 0 {
		return nil, fmt.Errorf("total released must be non-negative")
	}
	for i, entry := range clone.Entries {
		if entry == nil {
			return nil, fmt.Errorf("entry %d is nil", i)
		}
		if !entry.Status.Valid() {
			return nil, fmt.Errorf("entry %d: invalid status %d", i, entry.Status)
		}
		if entry.Amount.Sign() <= 0 {
			return nil, fmt.Errorf("entry %d: amount must be positive", i)
		}
	}
	return clone, nil
}
