package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/model"
)

func newTestLedger(t *testing.T, h http.Handler) *LedgerClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewLedgerClient(&config.LedgerConfig{
		BaseURL:     srv.URL + "/",
		APIKey:      "gw-key",
		ReceiptPoll: 5 * time.Millisecond,
	}, nil)
}

func TestLedgerFeeAndLists(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/fees/advanced", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer gw-key" {
			t.Errorf("missing api key")
		}
		w.Write([]byte(`{"amount":"2500000000000000"}`))
	})
	mux.HandleFunc("/v1/accounts/0xabc/tasks", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"taskIds":["t1","t2"]}`))
	})
	mux.HandleFunc("/v1/accounts/0xabc/tasks/completed", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"taskIds":["t1"]}`))
	})
	c := newTestLedger(t, mux)
	ctx := context.Background()

	fee, err := c.GetGenerationFee(ctx, model.ModeAdvanced)
	if err != nil || fee != "2500000000000000" {
		t.Fatalf("fee = %q, err = %v", fee, err)
	}
	all, err := c.GetAllTaskIDs(ctx, "0xabc")
	if err != nil || len(all) != 2 {
		t.Fatalf("all = %v, err = %v", all, err)
	}
	completed, err := c.GetCompletedTaskIDs(ctx, "0xabc")
	if err != nil || len(completed) != 1 || completed[0] != "t1" {
		t.Fatalf("completed = %v, err = %v", completed, err)
	}
}

func TestLedgerBroadcast(t *testing.T) {
	var got broadcastRequest
	c := newTestLedger(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/generations" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"txHash":"0xdead"}`))
	}))

	hash, err := c.BroadcastGenerationRequest(context.Background(), "0xabc", "t1",
		&model.RequestParams{Prompt: "p", Mode: model.ModeSimple}, "100")
	if err != nil || hash != "0xdead" {
		t.Fatalf("hash = %q, err = %v", hash, err)
	}
	if got.From != "0xabc" || got.TaskID != "t1" || got.Fee != "100" || got.Mode != "simple" {
		t.Errorf("unexpected broadcast body: %+v", got)
	}
}

func TestLedgerBroadcastErrors(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"USER_REJECTED", model.ErrUserRejected},
		{"4001", model.ErrUserRejected},
		{"INSUFFICIENT_FUNDS", model.ErrInsufficientBalance},
		{"NONCE_TOO_LOW", model.ErrChainUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			c := newTestLedger(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnprocessableEntity)
				w.Write([]byte(`{"error":{"code":"` + tt.code + `","message":"nope"}}`))
			}))
			_, err := c.BroadcastGenerationRequest(context.Background(), "0xabc", "t1",
				&model.RequestParams{Prompt: "p", Mode: model.ModeSimple}, "1")
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLedgerWaitForReceipt(t *testing.T) {
	var calls atomic.Int32
	c := newTestLedger(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusBadGateway)
		case 2:
			w.Write([]byte(`{"status":"pending"}`))
		default:
			w.Write([]byte(`{"status":"confirmed","blockNumber":12}`))
		}
	}))

	receipt, err := c.WaitForReceipt(context.Background(), "0xdead")
	if err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if receipt.Status != ReceiptConfirmed || receipt.TxHash != "0xdead" || receipt.BlockNumber != 12 {
		t.Errorf("unexpected receipt: %+v", receipt)
	}
}

func TestLedgerWaitForReceiptHonorsContext(t *testing.T) {
	c := newTestLedger(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"pending"}`))
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := c.WaitForReceipt(ctx, "0xdead"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestLedgerUnavailable(t *testing.T) {
	c := NewLedgerClient(&config.LedgerConfig{BaseURL: "http://127.0.0.1:1"}, nil)
	if _, err := c.GetAllTaskIDs(context.Background(), "0xabc"); !errors.Is(err, model.ErrChainUnavailable) {
		t.Errorf("expected ErrChainUnavailable, got %v", err)
	}
}
