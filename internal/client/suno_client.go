package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/makeasinger/orchestrator/internal/config"
	"github.com/makeasinger/orchestrator/internal/logging"
	"github.com/makeasinger/orchestrator/internal/model"
)

// MusicGenerator is the generation service as seen by the orchestrator.
type MusicGenerator interface {
	GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error)
	GetMusicStatus(ctx context.Context, taskID string) (*StatusResult, error)
}

// SunoClient implements MusicGenerator for the Suno API
type SunoClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	callbackURL string
	log         *zerolog.Logger
}

// GenerateMusicRequest represents the request for music generation
type GenerateMusicRequest struct {
	Prompt       string `json:"prompt"`
	Style        string `json:"style,omitempty"`
	Title        string `json:"title,omitempty"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model,omitempty"`
	VocalGender  string `json:"vocalGender,omitempty"`
	CallbackURL  string `json:"callBackUrl,omitempty"`
}

// GenerateMusicResponse represents the response from music generation
type GenerateMusicResponse struct {
	TaskID string `json:"taskId"`
}

// NewGenerateMusicRequest maps user parameters onto the provider request.
// Advanced mode turns on the provider's custom mode so style and title are honored.
func NewGenerateMusicRequest(p *model.RequestParams) *GenerateMusicRequest {
	req := &GenerateMusicRequest{
		Prompt:       p.Prompt,
		Instrumental: p.Instrumental,
		CustomMode:   p.Mode == model.ModeAdvanced,
	}
	if req.CustomMode {
		req.Style = p.Style
		req.Title = p.Title
		if !p.Instrumental {
			req.VocalGender = p.VocalGender
		}
	}
	return req
}

// NewSunoClient creates a new Suno API client
func NewSunoClient(cfg *config.SunoConfig, logger *zerolog.Logger) *SunoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &SunoClient{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		callbackURL: cfg.CallbackURL,
		log:         logging.Component(logger, "suno"),
	}
}

// GenerateMusic submits a generation request and returns the provider task id.
// Errors wrap model.ErrServiceUnavailable or model.ErrInvalidRequest.
func (c *SunoClient) GenerateMusic(ctx context.Context, req *GenerateMusicRequest) (*GenerateMusicResponse, error) {
	if req.Model == "" {
		req.Model = c.model
	}
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}

	body, err := c.post(ctx, "/api/v1/generate", req)
	if err != nil {
		return nil, err
	}

	taskID := firstString(gjson.ParseBytes(body), "data.taskId", "data.task_id", "taskId", "task_id")
	if taskID == "" {
		return nil, fmt.Errorf("%w: response carried no task id", model.ErrServiceUnavailable)
	}
	return &GenerateMusicResponse{TaskID: taskID}, nil
}

// GetMusicStatus retrieves and normalizes the status of a generation task
func (c *SunoClient) GetMusicStatus(ctx context.Context, taskID string) (*StatusResult, error) {
	endpoint := "/api/v1/generate/record-info?taskId=" + url.QueryEscape(taskID)
	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	result, err := NormalizeStatus(body)
	if err != nil {
		return nil, err
	}
	if result.TaskID == "" {
		result.TaskID = taskID
	}
	return result, nil
}

// post sends a POST request with JSON body
func (c *SunoClient) post(ctx context.Context, endpoint string, body interface{}) ([]byte, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req)
}

// get sends a GET request
func (c *SunoClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	return c.doRequest(req)
}

// doRequest executes an HTTP request and classifies failures. The provider
// reports some errors as HTTP 200 with a non-200 "code" field.
func (c *SunoClient) doRequest(req *http.Request) ([]byte, error) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("→ request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", req.Method).Str("url", req.URL.String()).Msg("request failed")
		return nil, fmt.Errorf("%w: %v", model.ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", model.ErrServiceUnavailable, err)
	}

	c.log.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Bytes("body", respBody).Msg("← response")

	code := resp.StatusCode
	if parsed := gjson.GetBytes(respBody, "code"); parsed.Exists() && parsed.Type == gjson.Number && code < 300 {
		code = int(parsed.Int())
	}
	if err := classifyStatus(code, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

func classifyStatus(code int, body []byte) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%w: suno API error (status %d): %s", model.ErrServiceUnavailable, code, errorMessage(body))
	default:
		return fmt.Errorf("%w: suno API error (status %d): %s", model.ErrInvalidRequest, code, errorMessage(body))
	}
}

func errorMessage(body []byte) string {
	if msg := firstString(gjson.ParseBytes(body), "msg", "message", "error.message", "data.errorMessage"); msg != "" {
		return msg
	}
	return string(body)
}

// IsConfigured returns true if the client has valid configuration
func (c *SunoClient) IsConfigured() bool {
	return c.apiKey != ""
}
