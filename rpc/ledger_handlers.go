package rpc

import (
	"math/big"
	"net/http"

	"clauseledger/native/adapter"
	"clauseledger/native/clause"
)

type ledgerRegisterParams struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Decimals uint8  `json:"decimals"`
}

type ledgerMintParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
	Amount  string `json:"amount"`
}

type ledgerApproveParams struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Symbol  string `json:"symbol"`
	Amount  string `json:"amount"`
}

type ledgerBalanceParams struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol,omitempty"`
}

func (s *Server) handleLedgerRegisterToken(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params ledgerRegisterParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	err := s.adapter.Atomic(func(eng *adapter.Engines) error {
		return eng.State.RegisterToken(params.Symbol, params.Name, params.Decimals)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"registered": true})
}

func (s *Server) handleLedgerMint(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params ledgerMintParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		if clause.IsNative(params.Symbol) {
			return eng.State.NativeMint(addr, amount)
		}
		return eng.State.Mint(addr, params.Symbol, amount)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"minted": true})
}

func (s *Server) handleLedgerApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if !s.requireMutation(w, r, req) {
		return
	}
	var params ledgerApproveParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	owner, err := parseBech32Address(params.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	spender, err := parseBech32Address(params.Spender)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	amount, err := parsePositiveBigInt(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		return eng.State.Approve(owner, spender, params.Symbol, amount)
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]bool{"approved": true})
}

func (s *Server) handleLedgerBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params ledgerBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseBech32Address(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	var balance *big.Int
	err = s.adapter.Atomic(func(eng *adapter.Engines) error {
		if clause.IsNative(params.Symbol) {
			acc, err := eng.State.GetAccount(addr)
			if err != nil {
				return err
			}
			balance = acc.Balance
			return nil
		}
		var err error
		balance, err = eng.State.Balance(addr, params.Symbol)
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid_params", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": params.Address,
		"symbol":  params.Symbol,
		"balance": balance.String(),
	})
}

func (s *Server) handleLedgerTokenList(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var list []string
	err := s.adapter.Atomic(func(eng *adapter.Engines) error {
		var err error
		list, err = eng.State.TokenList()
		return err
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, list)
}
