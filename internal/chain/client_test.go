package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"basenames-agent-go/internal/models"

	"github.com/shopspring/decimal"
)

const testDeposit = "0x1111111111111111111111111111111111111111"

type rpcRequest struct {
	Id     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params []any           `json:"params"`
}

// newTestRPC serves canned JSON-RPC results keyed by method
func newTestRPC(t *testing.T, results map[string]func(params []any) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode rpc request: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		handler, ok := results[req.Method]
		if !ok {
			json.NewEncoder(w).Encode(map[string]any{
				"jsonrpc": "2.0",
				"id":      req.Id,
				"error":   map[string]any{"code": -32601, "message": "method not found"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.Id,
			"result":  handler(req.Params),
		})
	}))
}

func setupTestClient(t *testing.T, results map[string]func(params []any) any) (*Client, func()) {
	t.Helper()
	if _, ok := results["eth_chainId"]; !ok {
		results["eth_chainId"] = func([]any) any { return "0x2105" }
	}
	server := newTestRPC(t, results)
	client, err := NewClient(context.Background(), models.ChainConfig{
		RPCURL:              server.URL,
		RegistrarController: DefaultRegistrarController,
		RequestTimeout:      5 * time.Second,
	})
	if err != nil {
		server.Close()
		t.Fatalf("NewClient failed: %v", err)
	}
	return client, func() {
		client.Close()
		server.Close()
	}
}

func TestBalanceAt(t *testing.T) {
	client, cleanup := setupTestClient(t, map[string]func([]any) any{
		// 0.011 ETH
		"eth_getBalance": func([]any) any { return "0x27147114878000" },
	})
	defer cleanup()

	balance, err := client.BalanceAt(context.Background(), testDeposit)
	if err != nil {
		t.Fatalf("BalanceAt failed: %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("0.011")) {
		t.Errorf("Expected 0.011, got %s", balance)
	}

	if _, err := client.BalanceAt(context.Background(), "not-an-address"); err == nil {
		t.Error("Expected error for invalid address")
	}
}

func TestRecentBlocks(t *testing.T) {
	client, cleanup := setupTestClient(t, map[string]func([]any) any{
		"eth_blockNumber": func([]any) any { return "0x10" },
		"eth_getBlockByNumber": func(params []any) any {
			number, _ := params[0].(string)
			block := map[string]any{
				"number":       number,
				"hash":         "0xblock" + strings.TrimPrefix(number, "0x"),
				"transactions": []any{},
			}
			if number == "0xf" {
				block["transactions"] = []any{
					map[string]any{"hash": "0xdep", "from": "0xdeaddeaddeaddeaddeaddeaddeaddeaddead0001", "to": "0x4200000000000000000000000000000000000015", "value": "0x0", "type": "0x7e"},
					map[string]any{"hash": "0xpay", "from": "0x2222222222222222222222222222222222222222", "to": testDeposit, "value": "0x27147114878000"},
					map[string]any{"hash": "0xcreate", "from": "0x2222222222222222222222222222222222222222", "to": nil, "value": "0x0"},
				}
			}
			return block
		},
	})
	defer cleanup()

	blocks, err := client.RecentBlocks(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentBlocks failed: %v", err)
	}
	if len(blocks) != 5 {
		t.Fatalf("Expected 5 blocks, got %d", len(blocks))
	}
	if blocks[0].Number != 16 || blocks[1].Number != 15 {
		t.Errorf("Expected newest first, got %d then %d", blocks[0].Number, blocks[1].Number)
	}

	txs := blocks[1].Transactions
	if len(txs) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(txs))
	}
	if txs[1].To != testDeposit || !txs[1].Value.Equal(decimal.RequireFromString("0.011")) {
		t.Errorf("Unexpected payment tx %+v", txs[1])
	}
	if txs[2].To != "" {
		t.Errorf("Expected empty recipient for contract creation, got %q", txs[2].To)
	}
}

func TestIsAvailable(t *testing.T) {
	result := "0x" + strings.Repeat("0", 63) + "1"
	var called string
	client, cleanup := setupTestClient(t, map[string]func([]any) any{
		"eth_call": func(params []any) any {
			msg, _ := params[0].(map[string]any)
			called, _ = msg["to"].(string)
			return result
		},
	})
	defer cleanup()

	available, err := client.IsAvailable(context.Background(), "cool")
	if err != nil {
		t.Fatalf("IsAvailable failed: %v", err)
	}
	if !available {
		t.Error("Expected name to be available")
	}
	if !strings.EqualFold(called, DefaultRegistrarController) {
		t.Errorf("Expected call to registrar controller, got %q", called)
	}

	result = "0x" + strings.Repeat("0", 64)
	available, err = client.IsAvailable(context.Background(), "taken")
	if err != nil {
		t.Fatalf("IsAvailable failed: %v", err)
	}
	if available {
		t.Error("Expected name to be taken")
	}
}

func TestNewClient_InvalidConfig(t *testing.T) {
	if _, err := NewClient(context.Background(), models.ChainConfig{RegistrarController: DefaultRegistrarController}); err == nil {
		t.Error("Expected error for empty rpc url")
	}
	if _, err := NewClient(context.Background(), models.ChainConfig{RPCURL: "http://localhost:1", RegistrarController: "nope"}); err == nil {
		t.Error("Expected error for invalid controller")
	}
}
