package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"clauseledger/core/events"
	"clauseledger/native/adapter"
	"clauseledger/native/clause"
	"clauseledger/observability"
	"clauseledger/storage"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeNotFound       = -32004
	codeForbidden      = -32005
	codeConflict       = -32009
)

type Server struct {
	db        storage.Database
	adapter   *adapter.Adapter
	authToken string
	pauses    clause.PauseView
	log       *slog.Logger
}

// NewServer creates a JSON-RPC server over the supplied database. Committed
// clause events are forwarded to the supplied emitter; token guards mutating
// methods and may be empty to disable authentication.
func NewServer(db storage.Database, emitter events.Emitter, token string, pauses clause.PauseView) *Server {
	ad := adapter.NewAdapter(db)
	ad.SetEmitter(emitter)
	ad.SetPauses(pauses)
	return &Server{
		db:        db,
		adapter:   ad,
		authToken: strings.TrimSpace(token),
		pauses:    pauses,
		log:       slog.Default(),
	}
}

// Start serves JSON-RPC requests on the supplied address until the listener
// fails.
func (s *Server) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.log.Info("starting JSON-RPC server", "addr", addr)
	return http.ListenAndServe(addr, mux)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

// writeClauseError maps the clause error taxonomy onto JSON-RPC error codes.
func writeClauseError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, clause.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, "invalid_params", err.Error())
	case errors.Is(err, clause.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeForbidden, "forbidden", err.Error())
	case errors.Is(err, clause.ErrNotFound):
		writeError(w, http.StatusNotFound, id, codeNotFound, "not_found", err.Error())
	case errors.Is(err, clause.ErrWrongState),
		errors.Is(err, clause.ErrDeadlineNotReached),
		errors.Is(err, clause.ErrDeadlinePassed),
		errors.Is(err, clause.ErrModulePaused):
		writeError(w, http.StatusConflict, id, codeConflict, "conflict", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "internal_error", err.Error())
	}
}

type authError struct {
	Code    int
	Message string
	Data    interface{}
}

func (s *Server) requireAuth(r *http.Request) *authError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &authError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func methodModule(method string) string {
	if idx := strings.Index(method, "_"); idx > 0 {
		return method[:idx]
	}
	return "unknown"
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "unable to read request body", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON-RPC request", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported JSON-RPC version", req.JSONRPC)
		return
	}

	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	started := time.Now()
	s.dispatch(rec, r, &req)
	observability.ModuleMetrics().Observe(methodModule(req.Method), req.Method, rec.status, time.Since(started))
	if rec.status >= 400 {
		s.log.Warn("rpc request failed", "method", req.Method, "status", rec.status)
	} else {
		s.log.Debug("rpc request served", "method", req.Method)
	}
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	switch req.Method {
	case "escrow_create":
		s.handleEscrowCreate(w, r, req)
	case "escrow_deposit":
		s.handleEscrowDeposit(w, r, req)
	case "escrow_markFunded":
		s.handleEscrowMarkFunded(w, r, req)
	case "escrow_release":
		s.handleEscrowRelease(w, r, req)
	case "escrow_refund":
		s.handleEscrowRefund(w, r, req)
	case "escrow_initiateCancel":
		s.handleEscrowInitiateCancel(w, r, req)
	case "escrow_executeCancel":
		s.handleEscrowExecuteCancel(w, r, req)
	case "escrow_previewCancel":
		s.handleEscrowPreviewCancel(w, r, req)
	case "escrow_get":
		s.handleEscrowGet(w, r, req)
	case "milestone_create":
		s.handleMilestoneCreate(w, r, req)
	case "milestone_linkEscrow":
		s.handleMilestoneLinkEscrow(w, r, req)
	case "milestone_activate":
		s.handleMilestoneActivate(w, r, req)
	case "milestone_requestConfirmation":
		s.handleMilestoneRequestConfirmation(w, r, req)
	case "milestone_confirm":
		s.handleMilestoneConfirm(w, r, req)
	case "milestone_confirmByDeadline":
		s.handleMilestoneConfirmByDeadline(w, r, req)
	case "milestone_reject":
		s.handleMilestoneReject(w, r, req)
	case "milestone_cancel":
		s.handleMilestoneCancel(w, r, req)
	case "milestone_get":
		s.handleMilestoneGet(w, r, req)
	case "milestone_summary":
		s.handleMilestoneSummary(w, r, req)
	case "adapter_confirmAndRelease":
		s.handleAdapterConfirmAndRelease(w, r, req)
	case "adapter_dispute":
		s.handleAdapterDispute(w, r, req)
	case "adapter_resolveDispute":
		s.handleAdapterResolveDispute(w, r, req)
	case "adapter_cancelAndRefundAll":
		s.handleAdapterCancelAndRefundAll(w, r, req)
	case "ledger_registerToken":
		s.handleLedgerRegisterToken(w, r, req)
	case "ledger_mint":
		s.handleLedgerMint(w, r, req)
	case "ledger_approve":
		s.handleLedgerApprove(w, r, req)
	case "ledger_balance":
		s.handleLedgerBalance(w, r, req)
	case "ledger_tokenList":
		s.handleLedgerTokenList(w, r, req)
	default:
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}
