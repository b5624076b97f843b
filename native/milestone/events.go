package milestone

import (
	"encoding/hex"
	"strconv"

	"clauseledger/core/types"
)

// Event type identifiers emitted by the milestone engine.
const (
	EventTypeConfigured     = "milestone.configured"
	EventTypeActivated      = "milestone.activated"
	EventTypeEntryRequested = "milestone.entry_requested"
	EventTypeEntryConfirmed = "milestone.entry_confirmed"
	EventTypeEntryDisputed  = "milestone.entry_disputed"
	EventTypeEntryReleased  = "milestone.entry_released"
	EventTypeEntryRefunded  = "milestone.entry_refunded"
	EventTypeCompleted      = "milestone.completed"
	EventTypeCancelled      = "milestone.cancelled"
)

func baseAttributes(p *Project) map[string]string {
	return map[string]string{
		"key":         hex.EncodeToString(p.Key[:]),
		"client":      hex.EncodeToString(p.Client[:]),
		"beneficiary": hex.EncodeToString(p.Beneficiary[:]),
		"asset":       p.Asset,
		"status":      p.Status.String(),
		"entries":     strconv.Itoa(len(p.Entries)),
	}
}

func entryAttributes(p *Project, index int) map[string]string {
	attrs := baseAttributes(p)
	attrs["entryIndex"] = strconv.Itoa(index)
	if index >= 0 && index < len(p.Entries) {
		entry := p.Entries[index]
		attrs["entryStatus"] = entry.Status.String()
		if entry.Amount != nil {
			attrs["entryAmount"] = entry.Amount.String()
		}
	}
	return attrs
}

// NewConfiguredEvent records that a project passed readiness validation.
func NewConfiguredEvent(p *Project) *types.Event {
	return &types.Event{Type: EventTypeConfigured, Attributes: baseAttributes(p)}
}

// NewActivatedEvent records the start of the work phase.
func NewActivatedEvent(p *Project) *types.Event {
	return &types.Event{Type: EventTypeActivated, Attributes: baseAttributes(p)}
}

// NewEntryRequestedEvent records a beneficiary confirmation request.
func NewEntryRequestedEvent(p *Project, index int) *types.Event {
	return &types.Event{Type: EventTypeEntryRequested, Attributes: entryAttributes(p, index)}
}

// NewEntryConfirmedEvent records client acceptance of an entry.
func NewEntryConfirmedEvent(p *Project, index int) *types.Event {
	return &types.Event{Type: EventTypeEntryConfirmed, Attributes: entryAttributes(p, index)}
}

// NewEntryDisputedEvent records a dispute against an entry.
func NewEntryDisputedEvent(p *Project, index int, reason string) *types.Event {
	attrs := entryAttributes(p, index)
	if reason != "" {
		attrs["reason"] = reason
	}
	return &types.Event{Type: EventTypeEntryDisputed, Attributes: attrs}
}

// NewEntryReleasedEvent records a settled payout for an entry.
func NewEntryReleasedEvent(p *Project, index int) *types.Event {
	attrs := entryAttributes(p, index)
	attrs["releasedCount"] = strconv.FormatUint(uint64(p.ReleasedCount), 10)
	if p.TotalReleased != nil {
		attrs["totalReleased"] = p.TotalReleased.String()
	}
	return &types.Event{Type: EventTypeEntryReleased, Attributes: attrs}
}

// NewEntryRefundedEvent records a returned payout for an entry.
func NewEntryRefundedEvent(p *Project, index int) *types.Event {
	return &types.Event{Type: EventTypeEntryRefunded, Attributes: entryAttributes(p, index)}
}

// NewCompletedEvent records that every entry has been released.
func NewCompletedEvent(p *Project) *types.Event {
	attrs := baseAttributes(p)
	attrs["releasedCount"] = strconv.FormatUint(uint64(p.ReleasedCount), 10)
	if p.TotalReleased != nil {
		attrs["totalReleased"] = p.TotalReleased.String()
	}
	return &types.Event{Type: EventTypeCompleted, Attributes: attrs}
}

// NewCancelledEvent records abandonment before activation.
func NewCancelledEvent(p *Project) *types.Event {
	return &types.Event{Type: EventTypeCancelled, Attributes: baseAttributes(p)}
}
