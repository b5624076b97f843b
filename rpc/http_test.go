package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"clauseledger/crypto"
	"clauseledger/storage"
)

func testAddress(fill byte) string {
	raw := bytes.Repeat([]byte{fill}, 20)
	return crypto.NewAddress(crypto.Prefix, raw).String()
}

func testKey(fill byte) string {
	return "0x" + fmt.Sprintf("%064x", fill)
}

type rpcClient struct {
	t      *testing.T
	server *httptest.Server
	token  string
	nextID int
}

func newRPCClient(t *testing.T, token string) *rpcClient {
	t.Helper()
	srv := NewServer(storage.NewMemDB(), nil, token, nil)
	ts := httptest.NewServer(http.HandlerFunc(srv.handle))
	t.Cleanup(ts.Close)
	return &rpcClient{t: t, server: ts, token: token}
}

func (c *rpcClient) call(method string, params interface{}) *RPCResponse {
	c.t.Helper()
	c.nextID++
	paramList := []interface{}{}
	if params != nil {
		paramList = append(paramList, params)
	}
	payload, err := json.Marshal(map[string]interface{}{
		"jsonrpc": jsonRPCVersion,
		"id":      c.nextID,
		"method":  method,
		"params":  paramList,
	})
	if err != nil {
		c.t.Fatalf("marshal request: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, c.server.URL, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	httpResp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer httpResp.Body.Close()
	resp := &RPCResponse{}
	if err := json.NewDecoder(httpResp.Body).Decode(resp); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
	return resp
}

func (c *rpcClient) mustCall(method string, params interface{}) map[string]interface{} {
	c.t.Helper()
	resp := c.call(method, params)
	if resp.Error != nil {
		c.t.Fatalf("%s failed: %+v", method, resp.Error)
	}
	result, _ := resp.Result.(map[string]interface{})
	return result
}

func TestRPCEscrowLifecycle(t *testing.T) {
	client := newRPCClient(t, "")
	depositor := testAddress(0x01)
	beneficiary := testAddress(0x02)
	key := testKey(0x01)

	client.mustCall("ledger_mint", map[string]interface{}{
		"address": depositor,
		"amount":  "500",
	})

	created := client.mustCall("escrow_create", map[string]interface{}{
		"key":         key,
		"depositor":   depositor,
		"beneficiary": beneficiary,
		"amount":      "100",
	})
	if created["status"] != "pending" {
		t.Fatalf("create status = %v, want pending", created["status"])
	}

	funded := client.mustCall("escrow_deposit", map[string]interface{}{
		"key":    key,
		"caller": depositor,
	})
	if funded["status"] != "funded" {
		t.Fatalf("deposit status = %v, want funded", funded["status"])
	}

	released := client.mustCall("escrow_release", map[string]interface{}{
		"key":    key,
		"caller": depositor,
	})
	if released["status"] != "released" {
		t.Fatalf("release status = %v, want released", released["status"])
	}

	balance := client.mustCall("ledger_balance", map[string]interface{}{
		"address": beneficiary,
	})
	if balance["balance"] != "100" {
		t.Fatalf("beneficiary balance = %v, want 100", balance["balance"])
	}
}

func TestRPCErrorMapping(t *testing.T) {
	client := newRPCClient(t, "")
	depositor := testAddress(0x01)
	beneficiary := testAddress(0x02)
	key := testKey(0x02)

	// Unknown instance conflicts map to not_found.
	resp := client.call("escrow_release", map[string]interface{}{
		"key":    key,
		"caller": depositor,
	})
	if resp.Error == nil || resp.Error.Code != codeNotFound {
		t.Fatalf("release of absent escrow = %+v, want code %d", resp.Error, codeNotFound)
	}

	// Malformed addresses are parameter errors.
	resp = client.call("escrow_create", map[string]interface{}{
		"key":         key,
		"depositor":   "not-an-address",
		"beneficiary": beneficiary,
		"amount":      "100",
	})
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("bad address = %+v, want code %d", resp.Error, codeInvalidParams)
	}

	// Wrong-state transitions are conflicts.
	client.mustCall("ledger_mint", map[string]interface{}{"address": depositor, "amount": "100"})
	client.mustCall("escrow_create", map[string]interface{}{
		"key":         key,
		"depositor":   depositor,
		"beneficiary": beneficiary,
		"amount":      "100",
	})
	resp = client.call("escrow_release", map[string]interface{}{
		"key":    key,
		"caller": depositor,
	})
	if resp.Error == nil || resp.Error.Code != codeConflict {
		t.Fatalf("release before funding = %+v, want code %d", resp.Error, codeConflict)
	}

	resp = client.call("no_such_method", nil)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Fatalf("unknown method = %+v, want code %d", resp.Error, codeMethodNotFound)
	}
}

func TestRPCAuthToken(t *testing.T) {
	client := newRPCClient(t, "secret")
	depositor := testAddress(0x01)

	// Correct token passes.
	client.mustCall("ledger_mint", map[string]interface{}{"address": depositor, "amount": "10"})

	// Missing token is rejected on mutating methods but not on queries.
	bare := &rpcClient{t: t, server: client.server}
	resp := bare.call("ledger_mint", map[string]interface{}{"address": depositor, "amount": "10"})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("unauthenticated mint = %+v, want code %d", resp.Error, codeUnauthorized)
	}
	balance := bare.mustCall("ledger_balance", map[string]interface{}{"address": depositor})
	if balance["balance"] != "10" {
		t.Fatalf("balance = %v, want 10", balance["balance"])
	}

	wrong := &rpcClient{t: t, server: client.server, token: "wrong"}
	resp = wrong.call("ledger_mint", map[string]interface{}{"address": depositor, "amount": "10"})
	if resp.Error == nil || resp.Error.Code != codeUnauthorized {
		t.Fatalf("wrong token mint = %+v, want code %d", resp.Error, codeUnauthorized)
	}
}

func TestRPCMilestoneAdapterFlow(t *testing.T) {
	client := newRPCClient(t, "")
	clientAddr := testAddress(0x01)
	beneficiary := testAddress(0x02)
	projectKey := testKey(0x10)
	escrowKey := testKey(0x11)

	client.mustCall("ledger_mint", map[string]interface{}{"address": clientAddr, "amount": "100"})
	client.mustCall("escrow_create", map[string]interface{}{
		"key":         escrowKey,
		"depositor":   clientAddr,
		"beneficiary": beneficiary,
		"amount":      "100",
	})
	client.mustCall("escrow_deposit", map[string]interface{}{"key": escrowKey, "caller": clientAddr})

	client.mustCall("milestone_create", map[string]interface{}{
		"key":         projectKey,
		"client":      clientAddr,
		"beneficiary": beneficiary,
		"entries": []map[string]interface{}{
			{"descriptionHash": testKey(0xE0), "amount": "100", "escrowKey": escrowKey},
		},
	})
	client.mustCall("milestone_activate", map[string]interface{}{"key": projectKey, "caller": clientAddr})

	project := client.mustCall("adapter_confirmAndRelease", map[string]interface{}{
		"key":    projectKey,
		"index":  0,
		"caller": clientAddr,
	})
	if project["status"] != "complete" {
		t.Fatalf("project status = %v, want complete", project["status"])
	}

	balance := client.mustCall("ledger_balance", map[string]interface{}{"address": beneficiary})
	if balance["balance"] != "100" {
		t.Fatalf("beneficiary balance = %v, want 100", balance["balance"])
	}

	summary := client.mustCall("milestone_summary", map[string]interface{}{"key": projectKey})
	if summary["releasedCount"] != float64(1) {
		t.Fatalf("released count = %v, want 1", summary["releasedCount"])
	}
}
