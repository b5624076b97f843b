package escrow

import (
	"encoding/hex"
	"errors"
	"strconv"

	"clauseledger/core/types"
)

// ErrInsufficientDeposit is returned when a native deposit supplies less
// than the configured escrow amount.
var ErrInsufficientDeposit = errors.New("escrow: supplied funds below escrow amount")

// Event type identifiers emitted by the escrow engine.
const (
	EventTypeConfigured      = "escrow.configured"
	EventTypeFunded          = "escrow.funded"
	EventTypeReleased        = "escrow.released"
	EventTypeRefunded        = "escrow.refunded"
	EventTypeCancelInitiated = "escrow.cancel_initiated"
	EventTypeCancelExecuted  = "escrow.cancel_executed"
)

func baseAttributes(e *Escrow) map[string]string {
	attrs := map[string]string{
		"key":         hex.EncodeToString(e.Key[:]),
		"depositor":   hex.EncodeToString(e.Depositor[:]),
		"beneficiary": hex.EncodeToString(e.Beneficiary[:]),
		"asset":       e.Asset,
		"status":      e.Status.String(),
	}
	if e.Amount != nil {
		attrs["amount"] = e.Amount.String()
	}
	if e.Coordinator != zeroAddress {
		attrs["coordinator"] = hex.EncodeToString(e.Coordinator[:])
	}
	return attrs
}

// NewConfiguredEvent records that an instance passed readiness validation.
func NewConfiguredEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeConfigured, Attributes: baseAttributes(e)}
}

// NewFundedEvent records that the escrowed amount reached the vault.
func NewFundedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	attrs["fundedAt"] = strconv.FormatInt(e.FundedAt, 10)
	return &types.Event{Type: EventTypeFunded, Attributes: attrs}
}

// NewReleasedEvent records a payout to the beneficiary.
func NewReleasedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeReleased, Attributes: baseAttributes(e)}
}

// NewRefundedEvent records a payout back to the depositor.
func NewRefundedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeRefunded, Attributes: baseAttributes(e)}
}

// NewCancelInitiatedEvent records the start of a notice period.
func NewCancelInitiatedEvent(e *Escrow, deadline int64) *types.Event {
	attrs := baseAttributes(e)
	attrs["initiatedBy"] = hex.EncodeToString(e.Cancel.InitiatedBy[:])
	attrs["deadline"] = strconv.FormatInt(deadline, 10)
	return &types.Event{Type: EventTypeCancelInitiated, Attributes: attrs}
}

// NewCancelExecutedEvent records the executed fee split.
func NewCancelExecutedEvent(e *Escrow) *types.Event {
	attrs := baseAttributes(e)
	attrs["initiatedBy"] = hex.EncodeToString(e.Cancel.InitiatedBy[:])
	attrs["executedAt"] = strconv.FormatInt(e.Cancel.ExecutedAt, 10)
	if e.Cancel.PaidToBeneficiary != nil {
		attrs["paidToBeneficiary"] = e.Cancel.PaidToBeneficiary.String()
	}
	if e.Cancel.PaidToDepositor != nil {
		attrs["paidToDepositor"] = e.Cancel.PaidToDepositor.String()
	}
	return &types.Event{Type: EventTypeCancelExecuted, Attributes: attrs}
}
