package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"clauseledger/crypto"
)

func parseBech32Address(value string) ([20]byte, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return [20]byte{}, fmt.Errorf("address must not be empty")
	}
	addr, err := crypto.DecodeAddress(trimmed)
	if err != nil {
		return [20]byte{}, err
	}
	return addr.Array(), nil
}

func parseInstanceKey(value string) ([32]byte, error) {
	var key [32]byte
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(value), "0x"))
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return key, fmt.Errorf("invalid instance key: %w", err)
	}
	if len(raw) != 32 {
		return key, fmt.Errorf("instance key must be 32 bytes, got %d", len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func parseHash(value string) ([32]byte, error) {
	return parseInstanceKey(value)
}

func parsePositiveBigInt(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("amount must be a base-10 integer")
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return amount, nil
}

func encodeAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.Prefix, addr[:]).String()
}

func encodeKey(key [32]byte) string {
	return "0x" + hex.EncodeToString(key[:])
}

// decodeSingleParam unmarshals the single parameter object every clause
// method takes.
func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

// requireMutation performs the auth check shared by all mutating handlers
// and reports whether the request may proceed.
func (s *Server) requireMutation(w http.ResponseWriter, r *http.Request, req *RPCRequest) bool {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return false
	}
	return true
}
