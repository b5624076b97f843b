package state

import (
	"math/big"

	"clauseledger/native/clause"
	"clauseledger/native/milestone"
)

const milestoneRecordField = "record"

type storedMilestoneEntry struct {
	DescriptionHash [32]byte
	Amount          *big.Int
	LinkedEscrow    [32]byte
	Status          uint8
	RequestedAt     uint64
	ConfirmedAt     uint64
	ReleasedAt      uint64
	DisputeReason   string
}

type storedProject struct {
	Client              [20]byte
	Beneficiary         [20]byte
	Asset               string
	ReviewPeriodSeconds uint64
	Status              uint8
	Entries             []storedMilestoneEntry
	ReleasedCount       uint32
	TotalReleased       *big.Int
	CreatedAt           uint64
	UpdatedAt           uint64
}

func toStoredProject(p *milestone.Project) *storedProject {
	stored := &storedProject{
		Client:              p.Client,
		Beneficiary:         p.Beneficiary,
		Asset:               p.Asset,
		ReviewPeriodSeconds: uint64(p.ReviewPeriodSeconds),
		Status:              uint8(p.Status),
		ReleasedCount:       p.ReleasedCount,
		TotalReleased:       nonNil(p.TotalReleased),
		CreatedAt:           uint64(p.CreatedAt),
		UpdatedAt:           uint64(p.UpdatedAt),
	}
	stored.Entries = make([]storedMilestoneEntry, len(p.Entries))
	for i, entry := range p.Entries {
		stored.Entries[i] = storedMilestoneEntry{
			DescriptionHash: entry.DescriptionHash,
			Amount:          nonNil(entry.Amount),
			LinkedEscrow:    entry.LinkedEscrow,
			Status:          uint8(entry.Status),
			RequestedAt:     uint64(entry.RequestedAt),
			ConfirmedAt:     uint64(entry.ConfirmedAt),
			ReleasedAt:      uint64(entry.ReleasedAt),
			DisputeReason:   entry.DisputeReason,
		}
	}
	return stored
}

func fromStoredProject(key [32]byte, stored *storedProject) *milestone.Project {
	p := &milestone.Project{
		Key:                 key,
		Client:              stored.Client,
		Beneficiary:         stored.Beneficiary,
		Asset:               stored.Asset,
		ReviewPeriodSeconds: int64(stored.ReviewPeriodSeconds),
		Status:              milestone.Status(stored.Status),
		ReleasedCount:       stored.ReleasedCount,
		TotalReleased:       nonNil(stored.TotalReleased),
		CreatedAt:           int64(stored.CreatedAt),
		UpdatedAt:           int64(stored.UpdatedAt),
	}
	p.Entries = make([]*milestone.Entry, len(stored.Entries))
	for i := range stored.Entries {
		entry := stored.Entries[i]
		p.Entries[i] = &milestone.Entry{
			DescriptionHash: entry.DescriptionHash,
			Amount:          nonNil(entry.Amount),
			LinkedEscrow:    entry.LinkedEscrow,
			Status:          milestone.EntryStatus(entry.Status),
			RequestedAt:     int64(entry.RequestedAt),
			ConfirmedAt:     int64(entry.ConfirmedAt),
			ReleasedAt:      int64(entry.ReleasedAt),
			DisputeReason:   entry.DisputeReason,
		}
	}
	return p
}

func (m *Manager) milestoneStore() *clause.Store {
	return clause.NewStore(m, milestone.ModuleName)
}

// MilestonePut persists a sanitized project record under its instance key.
func (m *Manager) MilestonePut(p *milestone.Project) error {
	sanitized, err := milestone.Sanitize(p)
	if err != nil {
		return err
	}
	return m.milestoneStore().Put(sanitized.Key, milestoneRecordField, toStoredProject(sanitized))
}

// MilestoneGet loads the project record stored under the supplied instance
// key.
func (m *Manager) MilestoneGet(key [32]byte) (*milestone.Project, bool, error) {
	var stored storedProject
	ok, err := m.milestoneStore().Get(key, milestoneRecordField, &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStoredProject(key, &stored), true, nil
}
