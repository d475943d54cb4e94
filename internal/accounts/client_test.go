package accounts

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekit/pkg/logger"
)

func TestMapPayload(t *testing.T) {
	c := NewClient("http://backend", nil, logger.Nop())

	mapped, err := c.MapPayload(map[string]any{
		"sub":   "acct_123",
		"name":  "Acme Prod",
		"email": "ops@acme.test",
		"extra": "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, "acct_123", mapped["external_id"])
	assert.Equal(t, "Acme Prod", mapped["display_name"])
	assert.Equal(t, "ops@acme.test", mapped["email"])
	assert.NotContains(t, mapped, "extra")
}

func TestMapPayloadFallbackExpressions(t *testing.T) {
	c := NewClient("http://backend", nil, logger.Nop())
	mapped, err := c.MapPayload(map[string]any{"account_id": "a1", "account_name": "A1"})
	require.NoError(t, err)
	assert.Equal(t, "a1", mapped["external_id"])
	assert.Equal(t, "A1", mapped["display_name"])
}

func TestMapPayloadMissingExternalID(t *testing.T) {
	c := NewClient("http://backend", nil, logger.Nop())
	_, err := c.MapPayload(map[string]any{"name": "nameless"})
	assert.ErrorIs(t, err, ErrPersistenceFailed)
}

func TestCreateLinkedPostsMappedBody(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/internal/linked-accounts", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, logger.Nop())
	err := c.CreateLinked(context.Background(),
		map[string]any{"sub": "acct_123"},
		`{"access_token":"tok"}`)
	require.NoError(t, err)

	acct, ok := got["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "acct_123", acct["external_id"])
	cred, ok := got["credential"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tok", cred["access_token"])
}

func TestCreateLinkedBackendRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "duplicate", http.StatusConflict)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil, logger.Nop())
	err := c.CreateLinked(context.Background(), map[string]any{"sub": "x"}, "tok")
	assert.ErrorIs(t, err, ErrPersistenceFailed)
}
