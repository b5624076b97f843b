package escrow

import (
	"math/big"

	"clauseledger/native/clause"
)

const basisPointDenominator = 10_000

// Split computes the cancellation payout for the given amount at the given
// time. It is a pure function of the policy, usable both as a preview query
// and at execution time.
//
// Every branch conserves value exactly: the depositor share is always
// amount - toBeneficiary, never an independent computation, so integer
// division remainders stay with the depositor.
func (p *CancelPolicy) Split(amount *big.Int, now int64) (toBeneficiary, toDepositor *big.Int, err error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, nil, &clause.ValidationError{Module: ModuleName, Field: "amount", Reason: "must be non-negative"}
	}
	total := new(big.Int).Set(amount)
	feeType := CancelFeeNone
	if p != nil {
		feeType = p.FeeType
	}
	switch feeType {
	case CancelFeeNone:
		toBeneficiary = big.NewInt(0)
	case CancelFeeFixed:
		fee := big.NewInt(0)
		if p.FeeAmount != nil {
			fee = new(big.Int).Set(p.FeeAmount)
		}
		if fee.Cmp(total) > 0 {
			fee = new(big.Int).Set(total)
		}
		toBeneficiary = fee
	case CancelFeeBasisPoints:
		bps := big.NewInt(0)
		if p.FeeAmount != nil {
			bps = new(big.Int).Set(p.FeeAmount)
		}
		fee := new(big.Int).Mul(total, bps)
		fee.Div(fee, big.NewInt(basisPointDenominator))
		if fee.Cmp(total) > 0 {
			fee = new(big.Int).Set(total)
		}
		toBeneficiary = fee
	case CancelFeeProrated:
		if p.ProrationStart <= 0 || p.ProrationDuration <= 0 {
			return nil, nil, &clause.ValidationError{Module: ModuleName, Field: "cancel.proration", Reason: "start and duration must be configured"}
		}
		switch {
		case now <= p.ProrationStart:
			toBeneficiary = big.NewInt(0)
		case now >= p.ProrationStart+p.ProrationDuration:
			toBeneficiary = new(big.Int).Set(total)
		default:
			elapsed := big.NewInt(now - p.ProrationStart)
			toBeneficiary = new(big.Int).Mul(total, elapsed)
			toBeneficiary.Div(toBeneficiary, big.NewInt(p.ProrationDuration))
		}
	default:
		return nil, nil, &clause.ValidationError{Module: ModuleName, Field: "cancel.feeType", Reason: "out of range"}
	}
	toDepositor = new(big.Int).Sub(total, toBeneficiary)
	return toBeneficiary, toDepositor, nil
}

// authorizes reports whether the policy permits the given caller to initiate
// cancellation.
func (p *CancelPolicy) authorizes(caller, depositor, beneficiary [20]byte) bool {
	if p == nil {
		return false
	}
	switch p.AuthorizedParty {
	case CancelAuthDepositor:
		return caller == depositor
	case CancelAuthBeneficiary:
		return caller == beneficiary
	case CancelAuthEither:
		return caller == depositor || caller == beneficiary
	default:
		return false
	}
}
