package rpc

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"clauseledger/native/adapter"
	"clauseledger/native/escrow"
)

type escrowCancelPolicyParams struct {
	Enabled             bool   `json:"enabled"`
	NoticePeriodSeconds int64  `json:"noticePeriodSeconds"`
	FeeType             string `json:"feeType"`
	FeeAmount           string `json:"feeAmount,omitempty"`
	AuthorizedParty     string `json:"authorizedParty"`
	ProrationStart      int64  `json:"prorationStart,omitempty"`
	ProrationDuration   int64  `json:"prorationDuration,omitempty"`
}

type escrowCreateParams struct {
	Key         string                    `json:"key"`
	Depositor   string                    `json:"depositor"`
	Beneficiary string                    `json:"beneficiary"`
	Coordinator string                    `json:"coordinator,omitempty"`
	Asset       string                    `json:"asset,omitempty"`
	Amount      string                    `json:"amount"`
	Cancel      *escrowCancelPolicyParams `json:"cancel,omitempty"`
}

type escrowActorParams struct {
	Key    string `json:"key"`
	Caller string `json:"caller"`
}

type escrowDepositParams struct {
	Key      string `json:"key"`
	Caller   string `json:"caller"`
	Supplied string `json:"supplied,omitempty"`
}

type escrowKeyParams struct {
	Key string `json:"key"`
}

type escrowCancelPolicyJSON struct {
	Enabled             bool   `json:"enabled"`
	NoticePeriodSeconds int64  `json:"noticePeriodSeconds"`
	FeeType             string `json:"feeType"`
	FeeAmount           string `json:"feeAmount,omitempty"`
	AuthorizedParty     string `json:"authorizedParty"`
	ProrationStart      int64  `json:"prorationStart,omitempty"`
	ProrationDuration   int64  `json:"prorationDuration,omitempty"`
	InitiatedAt         int64  `json:"initiatedAt,omitempty"`
	InitiatedBy         string `json:"initiatedBy,omitempty"`
	ExecutedAt          int64  `json:"executedAt,omitempty"`
	PaidToBeneficiary   string `json:"paidToBeneficiary,omitempty"`
	PaidToDepositor     string `json:"paidToDepositor,omitempty"`
}

type escrowJSON struct {
	Key         string                  `json:"key"`
	Depositor   string                  `json:"depositor"`
	Beneficiary string                  `json:"beneficiary"`
	Coordinator string                  `json:"coordinator,omitempty"`
	Asset       string                  `json:"asset"`
	Amount      string                  `json:"amount"`
	FundedAt    int64                   `json:"fundedAt,omitempty"`
	Status      string                  `json:"status"`
	Cancel      *escrowCancelPolicyJSON `json:"cancel,omitempty"`
}

func parseFeeType(value string) (escrow.CancelFeeType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return escrow.CancelFeeNone, nil
	case "fixed":
		return escrow.CancelFeeFixed, nil
	case "basis_points", "basispoints", "bps":
		return escrow.CancelFeeBasisPoints, nil
	case "prorated":
		return escrow.CancelFeeProrated, nil
	default:
		return 0, fmt.Errorf("unknown fee type %q", value)
	}
}

func parseCancelAuthority(value string) (escrow.CancelAuthority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return escrow.CancelAuthNone, nil
	case "depositor":
		return escrow.CancelAuthDepositor, nil
	case "beneficiary":
		return escrow.CancelAuthBeneficiary, nil
	case "either":
		return escrow.CancelAuthEither, nil
	default:
		return 0, fmt.Errorf("unknown authorized party %q", value)
	}
}

func cancelPolicyFromParams(p *escrowCancelPolicyParams) (*escrow.CancelPolicy, error) {
	feeType, err := parseFeeType(p.FeeType)
	if err != nil {
		return nil, err
	}
	authority, err := parseCancelAuthority(p.AuthorizedParty)
	if err != nil {
		return nil, err
	}
	policy := &escrow.CancelPolicy{
		Enabled:             p.Enabled,
		NoticePeriodSeconds: p.NoticePeriodSeconds,
		FeeType:             feeType,
		AuthorizedParty:     authority,
		ProrationStart:      p.ProrationStart,
		ProrationDuration:   p.ProrationDuration,
	}
	if strings.TrimSpace(p.FeeAmount) != "" {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(p.FeeAmount), 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("feeAmount must be a non-negative base-10 integer")
		}
		policy.FeeAmount = amount
	}
	return policy, nil
}

func escrowToJSON(e *escrow.Escrow) *escrowJSON {
	out := &escrowJSON{
		Key:         encodeKey(e.Key),
		Depositor:   encodeAddress(e.Depositor),
		Beneficiary: encodeAddress(e.Beneficiary),
		Asset:       e.Asset,
		Amount:      "0",
		FundedAt:    e.FundedAt,
		Status:      e.Status.String(),
	}
	var zero [20]byte
	if e.Coordinator != zero {
		out.Coordinator = encodeAddress(e.Coordinator)
	}
	if e.Amount != nil {
		out.Amount = e.Amount.String()
	}
	if e.Cancel != nil {
		cancel := &escrowCancelPolicyJSON{
			Enabled:             e.Cancel.Enabled,
			NoticePeriodSeconds: e.Cancel.NoticePeriodSeconds,
			FeeType:             e.Cancel.FeeType.String(),
			AuthorizedParty:     e.Cancel.AuthorizedParty.String(),
			ProrationStart:      e.Cancel.ProrationStart,
			ProrationDuration:   e.Cancel.ProrationDuration,
			InitiatedAt:         e.Cancel.InitiatedAt,
			ExecutedAt:          e.Cancel.ExecutedAt,
		}
		if e.Cancel.FeeAmount != nil {
			cancel.FeeAmount = e.Cancel.FeeAmount.String()
		}
		if e.Cancel.InitiatedBy != zero {
			cancel.InitiatedBy = encodeAddress(e.Cancel.InitiatedBy)
		}
		if e.Cancel.PaidToBeneficiary != nil {
			cancel.PaidToBeneficiary = e.Cancel.PaidToBeneficiary.String()
		}
		if e.Cancel.PaidToDepositor != nil {
			cancel.PaidToDepositor = e.Cancel.PaidToDepositor.String()
		}
		out.Cancel = cancel
	}
	return out
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	depositor, err := parseBech32Address(params.Depositor)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var coordinator [20]byte
	hasCoordinator := strings.TrimSpace(params.Coordinator) != ""
	if hasCoordinator {
		coordinator, err = parseBech32Address(params.Coordinator)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var policy *escrow.CancelPolicy
	if params.Cancel != nil {
		policy, err = cancelPolicyFromParams(params.Cancel)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}

	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		if err := eng.Escrow.IntakeDepositor(key, depositor); err != nil {
			return err
		}
		if err := eng.Escrow.IntakeBeneficiary(key, beneficiary); err != nil {
			return err
		}
		if hasCoordinator {
			if err := eng.Escrow.IntakeCoordinator(key, coordinator); err != nil {
				return err
			}
		}
		if err := eng.Escrow.IntakeAsset(key, params.Asset); err != nil {
			return err
		}
		if err := eng.Escrow.IntakeAmount(key, amount); err != nil {
			return err
		}
		if policy != nil {
			if err := eng.Escrow.IntakeCancelPolicy(key, policy); err != nil {
				return err
			}
		}
		return eng.Escrow.Ready(key)
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"key": encodeKey(key), "status": escrow.StatusPending.String()})
}

func (s *Server) escrowActorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(eng *adapter.Engines, key [32]byte, caller [20]byte) error) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var result *escrow.Escrow
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		if err := fn(eng, key, caller); err != nil {
			return err
		}
		result, err = eng.Escrow.QueryEscrow(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(result))
}

func (s *Server) handleEscrowDeposit(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params escrowDepositParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var supplied *big.Int
	if strings.TrimSpace(params.Supplied) != "" {
		supplied, err = parsePositiveBigInt(params.Supplied)
		if err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	var result *escrow.Escrow
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		amount := supplied
		if amount == nil {
			esc, err := eng.Escrow.QueryEscrow(key)
			if err != nil {
				return err
			}
			amount = esc.Amount
		}
		if err := eng.Escrow.Deposit(key, caller, amount); err != nil {
			return err
		}
		var err error
		result, err = eng.Escrow.QueryEscrow(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(result))
}

func (s *Server) handleEscrowMarkFunded(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, caller [20]byte) error {
		return eng.Escrow.MarkFunded(key, caller)
	})
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, caller [20]byte) error {
		return eng.Escrow.Release(key, caller)
	})
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.escrowActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, caller [20]byte) error {
		return eng.Escrow.Refund(key, caller)
	})
}

func (s *Server) handleEscrowInitiateCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseBech32Address(params.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var deadline int64
	var result *escrow.Escrow
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		var err error
		deadline, err = eng.Escrow.InitiateCancel(key, caller)
		if err != nil {
			return err
		}
		result, err = eng.Escrow.QueryEscrow(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"deadline": deadline,
		"escrow":   escrowToJSON(result),
	})
}

func (s *Server) handleEscrowExecuteCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params escrowKeyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var result *escrow.Escrow
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		if err := eng.Escrow.ExecuteCancel(key); err != nil {
			return err
		}
		var err error
		result, err = eng.Escrow.QueryEscrow(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(result))
}

func (s *Server) handleEscrowPreviewCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowKeyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var toBeneficiary, toDepositor *big.Int
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		var err error
		toBeneficiary, toDepositor, err = eng.Escrow.PreviewCancelSplit(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"toBeneficiary": toBeneficiary.String(),
		"toDepositor":   toDepositor.String(),
	})
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowKeyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var result *escrow.Escrow
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		var err error
		result, err = eng.Escrow.QueryEscrow(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, escrowToJSON(result))
}
