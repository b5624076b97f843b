package rpc

import (
	"net/http"
	"strings"

	"clauseledger/native/adapter"
	"clauseledger/native/milestone"
)

type milestoneEntryParams struct {
	DescriptionHash string `json:"descriptionHash"`
	Amount          string `json:"amount"`
	EscrowKey       string `json:"escrowKey,omitempty"`
}

type milestoneCreateParams struct {
	Key                 string                 `json:"key"`
	Client              string                 `json:"client"`
	Beneficiary         string                 `json:"beneficiary"`
	Asset               string                 `json:"asset,omitempty"`
	ReviewPeriodSeconds int64                  `json:"reviewPeriodSeconds,omitempty"`
	Entries             []milestoneEntryParams `json:"entries"`
}

type milestoneLinkParams struct {
	Key       string `json:"key"`
	Index     int    `json:"index"`
	EscrowKey string `json:"escrowKey"`
}

type milestoneActorParams struct {
	Key    string `json:"key"`
	Caller string `json:"caller"`
}

type milestoneEntryActorParams struct {
	Key    string `json:"key"`
	Index  int    `json:"index"`
	Caller string `json:"caller"`
}

type milestoneIndexParams struct {
	Key   string `json:"key"`
	Index int    `json:"index"`
}

type milestoneKeyParams struct {
	Key string `json:"key"`
}

type milestoneEntryJSON struct {
	DescriptionHash string `json:"descriptionHash"`
	Amount          string `json:"amount"`
	EscrowKey       string `json:"escrowKey,omitempty"`
	Status          string `json:"status"`
	RequestedAt     int64  `json:"requestedAt,omitempty"`
	ConfirmedAt     int64  `json:"confirmedAt,omitempty"`
	ReleasedAt      int64  `json:"releasedAt,omitempty"`
	DisputeReason   string `json:"disputeReason,omitempty"`
}

type milestoneJSON struct {
	Key                 string               `json:"key"`
	Client              string               `json:"client"`
	Beneficiary         string               `json:"beneficiary"`
	Asset               string               `json:"asset"`
	ReviewPeriodSeconds int64                `json:"reviewPeriodSeconds,omitempty"`
	Status              string               `json:"status"`
	Entries             []milestoneEntryJSON `json:"entries"`
	ReleasedCount       uint32               `json:"releasedCount"`
	TotalReleased       string               `json:"totalReleased"`
	CreatedAt           int64                `json:"createdAt,omitempty"`
	UpdatedAt           int64                `json:"updatedAt,omitempty"`
}

func milestoneToJSON(p *milestone.Project) *milestoneJSON {
	out := &milestoneJSON{
		Key:                 encodeKey(p.Key),
		Client:              encodeAddress(p.Client),
		Beneficiary:         encodeAddress(p.Beneficiary),
		Asset:               p.Asset,
		ReviewPeriodSeconds: p.ReviewPeriodSeconds,
		Status:              p.Status.String(),
		Entries:             make([]milestoneEntryJSON, 0, len(p.Entries)),
		ReleasedCount:       p.ReleasedCount,
		TotalReleased:       "0",
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
	if p.TotalReleased != nil {
		out.TotalReleased = p.TotalReleased.String()
	}
	var zeroKey [32]byte
	for _, entry := range p.Entries {
		entryJSON := milestoneEntryJSON{
			DescriptionHash: encodeKey(entry.DescriptionHash),
			Amount:          "0",
			Status:          entry.Status.String(),
			RequestedAt:     entry.RequestedAt,
			ConfirmedAt:     entry.ConfirmedAt,
			ReleasedAt:      entry.ReleasedAt,
			DisputeReason:   entry.DisputeReason,
		}
		if entry.Amount != nil {
			entryJSON.Amount = entry.Amount.String()
		}
		if entry.LinkedEscrow != zeroKey {
			entryJSON.EscrowKey = encodeKey(entry.LinkedEscrow)
		}
		out.Entries = append(out.Entries, entryJSON)
	}
	return out
}

func (s *Server) handleMilestoneCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params milestoneCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	client, err := parseBech32Address(params.Client)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	beneficiary, err := parseBech32Address(params.Beneficiary)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if len(params.Entries) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", "at least one entry required")
		return
	}

	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		if err := eng.Milestone.IntakeClient(key, client); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeBeneficiary(key, beneficiary); err != nil {
			return err
		}
		if err := eng.Milestone.IntakeAsset(key, params.Asset); err != nil {
			return err
		}
		if params.ReviewPeriodSeconds != 0 {
			if err := eng.Milestone.IntakeReviewPeriod(key, params.ReviewPeriodSeconds); err != nil {
				return err
			}
		}
		for _, entryParams := range params.Entries {
			hash, err := parseHash(entryParams.DescriptionHash)
			if err != nil {
				return err
			}
			amount, err := parsePositiveBigInt(entryParams.Amount)
			if err != nil {
				return err
			}
			index, err := eng.Milestone.IntakeEntry(key, hash, amount)
			if err != nil {
				return err
			}
			if strings.TrimSpace(entryParams.EscrowKey) != "" {
				escrowKey, err := parseInstanceKey(entryParams.EscrowKey)
				if err != nil {
					return err
				}
				if err := eng.Milestone.LinkEscrow(key, index, escrowKey); err != nil {
					return err
				}
			}
		}
		return eng.Milestone.Ready(key)
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"key": encodeKey(key), "status": milestone.StatusPending.String()})
}

func (s *Server) milestoneCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, key [32]byte, fn func(eng *adapter.Engines) error) {
	var result *milestone.Project
	err := s.adapter.Atomic(func(eng *adapter.Engines) error {
		if err := fn(eng); err != nil {
			return err
		}
		var err error
		result, err = eng.Milestone.QueryProject(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, milestoneToJSON(result))
}

func (s *Server) handleMilestoneLinkEscrow(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params milestoneLinkParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	escrowKey, err := parseInstanceKey(params.EscrowKey)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.milestoneCall(w, r, req, key, func(eng *adapter.Engines) error {
		return eng.Milestone.LinkEscrow(key, params.Index, escrowKey)
	})
}

func (s *Server) milestoneActorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(eng *adapter.Engines, key [32]byte, caller [20]byte) error) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params milestoneActorParams
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
	s.milestoneCall(w, r, req, key, func(eng *adapter.Engines) error {
		return fn(eng, key, caller)
	})
}

func (s *Server) milestoneEntryActorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, fn func(eng *adapter.Engines, key [32]byte, index int, caller [20]byte) error) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params milestoneEntryActorParams
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
	s.milestoneCall(w, r, req, key, func(eng *adapter.Engines) error {
		return fn(eng, key, params.Index, caller)
	})
}

func (s *Server) handleMilestoneActivate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, caller [20]byte) error {
		return eng.Milestone.Activate(key, caller)
	})
}

func (s *Server) handleMilestoneRequestConfirmation(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneEntryActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, index int, caller [20]byte) error {
		return eng.Milestone.RequestConfirmation(key, index, caller)
	})
}

func (s *Server) handleMilestoneConfirm(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneEntryActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, index int, caller [20]byte) error {
		return eng.Milestone.Confirm(key, index, caller)
	})
}

func (s *Server) handleMilestoneConfirmByDeadline(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params milestoneIndexParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	s.milestoneCall(w, r, req, key, func(eng *adapter.Engines) error {
		return eng.Milestone.ConfirmByDeadline(key, params.Index)
	})
}

func (s *Server) handleMilestoneReject(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneEntryActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, index int, caller [20]byte) error {
		return eng.Milestone.RejectAndReset(key, index, caller)
	})
}

func (s *Server) handleMilestoneCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.milestoneActorCall(w, r, req, func(eng *adapter.Engines, key [32]byte, caller [20]byte) error {
		return eng.Milestone.Cancel(key, caller)
	})
}

func (s *Server) handleMilestoneGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneKeyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var result *milestone.Project
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		var err error
		result, err = eng.Milestone.QueryProject(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, milestoneToJSON(result))
}

func (s *Server) handleMilestoneSummary(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params milestoneKeyParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var summary *milestone.Summary
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		var err error
		summary, err = eng.Milestone.HandoffSummary(key)
		return err
	})
	if err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"status":        summary.Status.String(),
		"entryCount":    summary.EntryCount,
		"releasedCount": summary.ReleasedCount,
		"totalReleased": summary.TotalReleased.String(),
	})
}
