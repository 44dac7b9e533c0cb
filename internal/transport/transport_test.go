package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(server *httptest.Server) *Client {
	return &Client{
		baseURL: server.URL,
		apiKey:  "test-api-key",
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

func TestSendBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/batch-send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req batchSendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "camp-1", req.CampaignID)
		assert.Equal(t, "tenant-1", req.TenantID)
		assert.Equal(t, "Weekly digest", req.Subject)
		assert.Len(t, req.Recipients, 2)

		json.NewEncoder(w).Encode(SendResult{Sent: 2, Failed: 0})
	}))
	defer server.Close()

	client := newTestClient(server)
	result, err := client.SendBatch(context.Background(), "camp-1", "tenant-1", "Weekly digest",
		[]string{"a@example.com", "b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Sent)
	assert.Equal(t, 0, result.Failed)
}

func TestSendBatch_PartialFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(SendResult{
			Sent:             1,
			Failed:           1,
			FailedRecipients: []string{"bad@example.com"},
		})
	}))
	defer server.Close()

	client := newTestClient(server)
	result, err := client.SendBatch(context.Background(), "camp-1", "tenant-1", "Subject",
		[]string{"a@example.com", "bad@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{"bad@example.com"}, result.FailedRecipients)
}

func TestSendBatch_ProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid campaign", http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(server)
	result, err := client.SendBatch(context.Background(), "camp-1", "tenant-1", "Subject",
		[]string{"a@example.com"})
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "provider returned 400")
	assert.Contains(t, err.Error(), "invalid campaign")
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(server)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestPing_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(server)
	err := client.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}
