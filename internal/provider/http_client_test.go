package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/config"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewHTTPClient(config.ProviderConfig{
		BaseURL:        srv.URL,
		APIKey:         "test-key",
		Model:          "reelgen-turbo-2",
		RequestTimeout: 5 * time.Second,
	})
}

func TestStartGeneration(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/generations", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a calm lake at dawn", req["prompt"])
		assert.Equal(t, "reelgen-turbo-2", req["model"])
		assert.Equal(t, "16:9", req["aspect_ratio"])

		json.NewEncoder(w).Encode(map[string]string{"id": "gen-abc123"})
	})

	id, err := client.Start(context.Background(), GenerationParams{
		Prompt:      "a calm lake at dawn",
		AspectRatio: "16:9",
	})
	require.NoError(t, err)
	assert.Equal(t, "gen-abc123", id)
}

func TestStartRequiresAPIKey(t *testing.T) {
	client := NewHTTPClient(config.ProviderConfig{BaseURL: "http://localhost:0"})

	_, err := client.Start(context.Background(), GenerationParams{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key")
}

func TestGetStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generations/gen-abc123", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":       "gen-abc123",
			"state":    "processing",
			"progress": 0.4,
		})
	})

	state, err := client.GetStatus(context.Background(), "gen-abc123")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, state.State)
	assert.InDelta(t, 0.4, state.Progress, 0.001)
	assert.False(t, state.State.Terminal())
}

func TestGetStatusFailedJob(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             "gen-abc123",
			"state":          "failed",
			"failure_reason": "prompt violates content policy",
		})
	})

	state, err := client.GetStatus(context.Background(), "gen-abc123")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, state.State)
	assert.True(t, state.State.Terminal())
	assert.Equal(t, "prompt violates content policy", state.ErrorMessage)
}

func TestFetchAsset(t *testing.T) {
	payload := []byte("binary video bytes")
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/generations/gen-abc123/assets/thumbnail", r.URL.Path)
		w.Write(payload)
	})

	data, err := client.FetchAsset(context.Background(), "gen-abc123", AssetThumbnail)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestFetchAssetRejectsEmptyBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	_, err := client.FetchAsset(context.Background(), "gen-abc123", AssetVideo)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty asset")
}

func TestAPIErrorMapping(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]interface{}{
				"code":    429,
				"message": "rate limit exceeded",
				"status":  "RESOURCE_EXHAUSTED",
			},
		})
	})

	_, err := client.GetStatus(context.Background(), "gen-abc123")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 429, apiErr.Code)
	assert.Equal(t, "rate limit exceeded", apiErr.Message)
	assert.Equal(t, "RESOURCE_EXHAUSTED", apiErr.Status)
}

func TestAPIErrorWithoutBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})

	_, err := client.GetStatus(context.Background(), "gen-abc123")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
}
