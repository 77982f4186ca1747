package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/model"
)

// Ledger is the blockchain side of a generation: fee payment and the
// authoritative per-user task lists.
type Ledger interface {
	GetGenerationFee(ctx context.Context, mode model.Mode) (string, error)
	BroadcastGenerationRequest(ctx context.Context, user, taskID string, params *model.RequestParams, fee string) (string, error)
	WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error)
	GetAllTaskIDs(ctx context.Context, user string) ([]string, error)
	GetCompletedTaskIDs(ctx context.Context, user string) ([]string, error)
}

// Receipt statuses
const (
	ReceiptPending   = "pending"
	ReceiptConfirmed = "confirmed"
	ReceiptReverted  = "reverted"
)

// Receipt is the observed outcome of a broadcast transaction
type Receipt struct {
	TxHash      string `json:"txHash"`
	Status      string `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
}

// LedgerClient talks to the ledger gateway, which signs with the user's
// delegated wallet and exposes the generation contract's read model.
type LedgerClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	receiptPoll time.Duration
	log         *zerolog.Logger
}

type broadcastRequest struct {
	From         string `json:"from"`
	TaskID       string `json:"taskId"`
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	Instrumental bool   `json:"instrumental"`
	Mode         string `json:"mode"`
	Fee          string `json:"fee"`
}

type ledgerError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewLedgerClient creates a new ledger gateway client
func NewLedgerClient(cfg *config.LedgerConfig, logger *zerolog.Logger) *LedgerClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 3 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &LedgerClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		receiptPoll: poll,
		log:         logging.Component(logger, "ledger"),
	}
}

// GetGenerationFee returns the fee for a mode in the chain's base unit, as a decimal string
func (c *LedgerClient) GetGenerationFee(ctx context.Context, mode model.Mode) (string, error) {
	var result struct {
		Amount string `json:"amount"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/fees/"+url.PathEscape(string(mode)), nil, &result); err != nil {
		return "", err
	}
	if result.Amount == "" {
		return "", fmt.Errorf("%w: empty fee", model.ErrChainUnavailable)
	}
	return result.Amount, nil
}

// BroadcastGenerationRequest sends the fee transaction referencing taskID and returns its hash.
// Errors wrap ErrUserRejected, ErrInsufficientBalance or ErrChainUnavailable.
func (c *LedgerClient) BroadcastGenerationRequest(ctx context.Context, user, taskID string, params *model.RequestParams, fee string) (string, error) {
	req := broadcastRequest{
		From:         user,
		TaskID:       taskID,
		Prompt:       params.Prompt,
		Style:        params.Style,
		Title:        params.Title,
		Instrumental: params.Instrumental,
		Mode:         string(params.Mode),
		Fee:          fee,
	}
	var result struct {
		TxHash string `json:"txHash"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/generations", req, &result); err != nil {
		return "", err
	}
	if result.TxHash == "" {
		return "", fmt.Errorf("%w: gateway returned no transaction hash", model.ErrChainUnavailable)
	}
	return result.TxHash, nil
}

// WaitForReceipt polls until the transaction is confirmed or reverted, or ctx ends.
// Lookup errors while waiting are retried; the caller bounds the wait through ctx.
func (c *LedgerClient) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	ticker := time.NewTicker(c.receiptPoll)
	defer ticker.Stop()

	attempt := 0
	for {
		attempt++
		var receipt Receipt
		err := c.do(ctx, http.MethodGet, "/v1/tx/"+url.PathEscape(txHash), nil, &receipt)
		switch {
		case err != nil:
			c.log.Debug().Err(err).Str("tx", txHash).Int("attempt", attempt).Msg("receipt lookup failed")
		case receipt.Status == ReceiptConfirmed || receipt.Status == ReceiptReverted:
			if receipt.TxHash == "" {
				receipt.TxHash = txHash
			}
			return &receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", txHash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetAllTaskIDs lists every task id the ledger recorded for user
func (c *LedgerClient) GetAllTaskIDs(ctx context.Context, user string) ([]string, error) {
	return c.taskIDs(ctx, "/v1/accounts/"+url.PathEscape(user)+"/tasks")
}

// GetCompletedTaskIDs lists the task ids the ledger marked complete for user
func (c *LedgerClient) GetCompletedTaskIDs(ctx context.Context, user string) ([]string, error) {
	return c.taskIDs(ctx, "/v1/accounts/"+url.PathEscape(user)+"/tasks/completed")
}

func (c *LedgerClient) taskIDs(ctx context.Context, endpoint string) ([]string, error) {
	var result struct {
		TaskIDs []string `json:"taskIds"`
	}
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &result); err != nil {
		return nil, err
	}
	return result.TaskIDs, nil
}

func (c *LedgerClient) do(ctx context.Context, method, endpoint string, body, result interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrChainUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", model.ErrChainUnavailable, err)
	}

	c.log.Debug().Str("method", method).Str("endpoint", endpoint).Int("status", resp.StatusCode).Msg("ledger call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ledgerFailure(resp.StatusCode, respBody)
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("%w: failed to unmarshal response: %v", model.ErrChainUnavailable, err)
	}
	return nil
}

// ledgerFailure maps the gateway error code onto the ledger error taxonomy.
func ledgerFailure(status int, body []byte) error {
	var le ledgerError
	_ = json.Unmarshal(body, &le)

	msg := le.Error.Message
	if msg == "" {
		msg = string(body)
	}

	var kind error
	switch strings.ToUpper(le.Error.Code) {
	case "USER_REJECTED", "ACTION_REJECTED", "4001":
		kind = model.ErrUserRejected
	case "INSUFFICIENT_FUNDS", "INSUFFICIENT_BALANCE":
		kind = model.ErrInsufficientBalance
	default:
		kind = model.ErrChainUnavailable
	}
	return fmt.Errorf("%w: ledger gateway error (status %d): %s", kind, status, msg)
}
