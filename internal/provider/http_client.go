package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clipforge/clipforge/internal/config"
)

type HTTPClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

type APIError struct {
	Code    int
	Message string
	Status  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error: %s (status: %s, code: %d)", e.Message, e.Status, e.Code)
}

type startRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	AspectRatio string  `json:"aspect_ratio,omitempty"`
	Loop        bool    `json:"loop,omitempty"`
}

type startResponse struct {
	ID    string    `json:"id"`
	Error *apiError `json:"error,omitempty"`
}

type statusResponse struct {
	ID       string    `json:"id"`
	State    State     `json:"state"`
	Progress float64   `json:"progress,omitempty"`
	Failure  string    `json:"failure_reason,omitempty"`
	Error    *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func NewHTTPClient(cfg config.ProviderConfig) *HTTPClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.reelgen.dev"
	}
	model := cfg.Model
	if model == "" {
		model = "reelgen-turbo-2"
	}
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &HTTPClient{
		apiKey:  cfg.APIKey,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *HTTPClient) SetAPIKey(key string) {
	c.apiKey = key
}

func (c *HTTPClient) SetModel(model string) {
	if model != "" {
		c.model = model
	}
}

func (c *HTTPClient) IsConfigured() bool {
	return c.apiKey != ""
}

func (c *HTTPClient) Start(ctx context.Context, params GenerationParams) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("provider api key not configured")
	}

	model := params.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(startRequest{
		Prompt:      params.Prompt,
		Model:       model,
		DurationSec: params.DurationSec,
		AspectRatio: params.AspectRatio,
		Loop:        params.Loop,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	respBody, err := c.do(ctx, http.MethodPost, "/v1/generations", bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	var resp startResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Error != nil {
		return "", &APIError{Code: resp.Error.Code, Message: resp.Error.Message, Status: resp.Error.Status}
	}

	if resp.ID == "" {
		return "", fmt.Errorf("provider returned no job id")
	}

	return resp.ID, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, providerJobID string) (*JobState, error) {
	respBody, err := c.do(ctx, http.MethodGet, "/v1/generations/"+providerJobID, nil)
	if err != nil {
		return nil, err
	}

	var resp statusResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.Error != nil {
		return nil, &APIError{Code: resp.Error.Code, Message: resp.Error.Message, Status: resp.Error.Status}
	}

	return &JobState{
		State:        resp.State,
		Progress:     resp.Progress,
		ErrorMessage: resp.Failure,
	}, nil
}

func (c *HTTPClient) FetchAsset(ctx context.Context, providerJobID string, kind AssetKind) ([]byte, error) {
	path := fmt.Sprintf("/v1/generations/%s/assets/%s", providerJobID, kind)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("provider returned empty asset %s for job %s", kind, providerJobID)
	}
	return data, nil
}

func (c *HTTPClient) TestConnection(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("api key not configured")
	}
	_, err := c.do(ctx, http.MethodGet, "/v1/models", nil)
	return err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var wrapper struct {
			Error *apiError `json:"error"`
		}
		if err := json.Unmarshal(respBody, &wrapper); err == nil && wrapper.Error != nil {
			return nil, &APIError{Code: wrapper.Error.Code, Message: wrapper.Error.Message, Status: wrapper.Error.Status}
		}
		return nil, &APIError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Status: resp.Status}
	}

	return respBody, nil
}
