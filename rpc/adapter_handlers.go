package rpc

import (
	"net/http"

	"clauseledger/native/adapter"
	"clauseledger/native/milestone"
)

type adapterEntryActorParams struct {
	Key    string `json:"key"`
	Index  int    `json:"index"`
	Caller string `json:"caller"`
}

type adapterDisputeParams struct {
	Key    string `json:"key"`
	Index  int    `json:"index"`
	Caller string `json:"caller"`
	Reason string `json:"reason,omitempty"`
}

type adapterResolveParams struct {
	Key              string `json:"key"`
	Index            int    `json:"index"`
	FavorBeneficiary bool   `json:"favorBeneficiary"`
}

func (s *Server) writeProject(w http.ResponseWriter, req *RPCRequest, key [32]byte) {
	var result *milestone.Project
	err := s.adapter.Atomic(func(eng *adapter.Engines) error {
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

func (s *Server) handleAdapterConfirmAndRelease(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params adapterEntryActorParams
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
	if err := s.adapter.ConfirmAndRelease(key, params.Index, caller); err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	s.writeProject(w, req, key)
}

func (s *Server) handleAdapterDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params adapterDisputeParams
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
	if err := s.adapter.Dispute(key, params.Index, caller, params.Reason); err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	s.writeProject(w, req, key)
}

func (s *Server) handleAdapterResolveDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params adapterResolveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	key, err := parseInstanceKey(params.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.adapter.ResolveDisputeAndExecute(key, params.Index, params.FavorBeneficiary); err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	s.writeProject(w, req, key)
}

func (s *Server) handleAdapterCancelAndRefundAll(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
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
	if err := s.adapter.CancelAndRefundAll(key, caller); err != nil {
		writeClauseError(w, req.ID, err)
		return
	}
	s.writeProject(w, req, key)
}
