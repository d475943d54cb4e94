package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gatekit/internal/credentials"
	"gatekit/pkg/logger"
)

type fakePersister struct {
	mu       sync.Mutex
	payloads []map[string]any
	creds    []string
	err      error
}

func (f *fakePersister) CreateLinked(_ context.Context, payload map[string]any, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.payloads = append(f.payloads, payload)
	f.creds = append(f.creds, credential)
	return nil
}

type testApp struct {
	app     *App
	router  chi.Router
	states  StateStore
	cookies *credentials.Cookies
	back    *fakePersister
}

func newTestApp(t *testing.T, tokenURL string) *testApp {
	t.Helper()
	box, err := credentials.NewBox("test-secret")
	require.NoError(t, err)
	cookies := credentials.NewCookies(box, time.Minute, false)
	states := NewMemoryStateStore()
	back := &fakePersister{}
	mgr := NewManager(time.Hour, time.Hour, logger.Nop())
	app, err := New(Config{
		AuthURL:      "https://provider.example/authorize",
		TokenURL:     tokenURL,
		ClientID:     "gk-client",
		ClientSecret: "gk-secret",
		RedirectURL:  "http://localhost/v1/oauth/callback",
		Scopes:       []string{"read_accounts"},
	}, cookies, back, states, mgr, logger.Nop())
	require.NoError(t, err)
	r := chi.NewRouter()
	app.Mount(r)
	return &testApp{app: app, router: r, states: states, cookies: cookies, back: back}
}

func providerStub(t *testing.T, extra map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("grant_type") != "authorization_code" {
			http.Error(w, "bad grant", http.StatusBadRequest)
			return
		}
		body := map[string]any{
			"access_token":  "prov-access",
			"refresh_token": "prov-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		}
		for k, v := range extra {
			body[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// startFlow drives POST /v1/handshake/start and returns flow id and state.
func startFlow(t *testing.T, ta *testApp) (string, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/handshake/start", nil))
	require.Equal(t, http.StatusCreated, rec.Code)
	var out struct {
		FlowID       string `json:"flow_id"`
		State        string `json:"state"`
		AuthorizeURL string `json:"authorize_url"`
		Channel      string `json:"channel"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotEmpty(t, out.FlowID)
	require.NotEmpty(t, out.State)
	assert.Contains(t, out.AuthorizeURL, "state="+out.State)
	assert.Contains(t, out.AuthorizeURL, "client_id=gk-client")
	assert.Equal(t, BroadcastChannelName, out.Channel)
	return out.FlowID, out.State
}

func TestStartCreatesFlowAndState(t *testing.T) {
	ta := newTestApp(t, "https://provider.example/token")
	flowID, state := startFlow(t, ta)

	sess, ok := ta.app.mgr.Get(flowID)
	require.True(t, ok)
	assert.Equal(t, StateAuthorizing, sess.State())

	meta, ok, err := ta.states.Take(context.Background(), state)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, flowID, meta.FlowID)
}

func TestCallbackSuccessSetsCookieAndRelays(t *testing.T) {
	prov := providerStub(t, map[string]any{
		"profile": map[string]any{"sub": "ext-42", "name": "Acme Corp"},
	})
	ta := newTestApp(t, prov.URL)
	flowID, state := startFlow(t, ta)

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state="+state+"&code=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	html := rec.Body.String()
	assert.Contains(t, html, MessageSuccess)
	assert.Contains(t, html, flowID)
	assert.Contains(t, html, BroadcastChannelName)
	assert.Contains(t, html, "ext-42")
	// The provider credential never appears in the page.
	assert.NotContains(t, html, "prov-access")
	assert.NotContains(t, html, "prov-refresh")

	var cred *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == credentials.CookieName {
			cred = c
		}
	}
	require.NotNil(t, cred)
	assert.True(t, cred.HttpOnly)

	// The cookie decrypts back to the exchanged grant.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cred)
	plain, err := ta.cookies.Read(req)
	require.NoError(t, err)
	var stored map[string]string
	require.NoError(t, json.Unmarshal([]byte(plain), &stored))
	assert.Equal(t, "prov-access", stored["access_token"])
	assert.Equal(t, "prov-refresh", stored["refresh_token"])
}

func TestCallbackRejectsReusedState(t *testing.T) {
	prov := providerStub(t, nil)
	ta := newTestApp(t, prov.URL)
	_, state := startFlow(t, ta)

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state="+state+"&code=abc", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), MessageSuccess)

	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state="+state+"&code=abc", nil))
	assert.Contains(t, rec.Body.String(), MessageError)
	assert.Contains(t, rec.Body.String(), "invalid_state")
}

func TestRelayTargetsConfiguredDashboardOrigin(t *testing.T) {
	box, err := credentials.NewBox("test-secret")
	require.NoError(t, err)
	mgr := NewManager(time.Hour, time.Hour, logger.Nop())
	app, err := New(Config{
		AuthURL:         "https://provider.example/authorize",
		TokenURL:        "https://provider.example/token",
		ClientID:        "gk-client",
		DashboardOrigin: "https://dashboard.example",
	}, credentials.NewCookies(box, time.Minute, false), &fakePersister{}, NewMemoryStateStore(), mgr, logger.Nop())
	require.NoError(t, err)
	r := chi.NewRouter()
	app.Mount(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?error=access_denied", nil))
	html := rec.Body.String()
	assert.Contains(t, html, "https://dashboard.example")
	assert.NotContains(t, html, `postMessage(msg, "*")`)
}

func TestCallbackRelaysProviderError(t *testing.T) {
	ta := newTestApp(t, "https://provider.example/token")
	flowID, state := startFlow(t, ta)

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state="+state+"&error=access_denied", nil))
	html := rec.Body.String()
	assert.Contains(t, html, MessageError)
	assert.Contains(t, html, "access_denied")
	assert.Contains(t, html, flowID)
}

func TestMessageThenSaveConsumesCookie(t *testing.T) {
	prov := providerStub(t, map[string]any{"profile": map[string]any{"sub": "ext-9"}})
	ta := newTestApp(t, prov.URL)
	flowID, state := startFlow(t, ta)

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oauth/callback?state="+state+"&code=abc", nil))
	var credCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == credentials.CookieName {
			credCookie = c
		}
	}
	require.NotNil(t, credCookie)

	// The initiating window reports what it heard on the channel.
	body, _ := json.Marshal(Message{Type: MessageSuccess, Payload: map[string]any{"sub": "ext-9"}})
	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/handshake/"+flowID+"/message", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code)
	var msgOut struct {
		Applied bool   `json:"applied"`
		State   string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgOut))
	assert.True(t, msgOut.Applied)
	assert.Equal(t, string(StateDataReceived), msgOut.State)

	// Duplicate delivery from the redundant channel is a no-op.
	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/handshake/"+flowID+"/message", bytes.NewReader(body)))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgOut))
	assert.False(t, msgOut.Applied)

	req := httptest.NewRequest(http.MethodPost, "/v1/handshake/"+flowID+"/save", nil)
	req.AddCookie(credCookie)
	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, ta.back.payloads, 1)
	assert.Equal(t, "ext-9", ta.back.payloads[0]["sub"])
	require.Len(t, ta.back.creds, 1)
	var cred map[string]string
	require.NoError(t, json.Unmarshal([]byte(ta.back.creds[0]), &cred))
	assert.Equal(t, "prov-access", cred["access_token"])

	// Save clears the cookie.
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == credentials.CookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared)
}

func TestSaveWithoutCredentialCookie(t *testing.T) {
	ta := newTestApp(t, "https://provider.example/token")
	flowID, _ := startFlow(t, ta)

	sess, ok := ta.app.mgr.Get(flowID)
	require.True(t, ok)
	require.True(t, sess.Deliver(Message{Type: MessageSuccess, FlowID: flowID}))

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/handshake/"+flowID+"/save", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/problem+json")
}

func TestStatusAndCloseEndpoints(t *testing.T) {
	ta := newTestApp(t, "https://provider.example/token")
	flowID, _ := startFlow(t, ta)

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/handshake/"+flowID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var st struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, string(StateAuthorizing), st.State)

	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/handshake/"+flowID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/handshake/"+flowID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHeartbeatEndpoint(t *testing.T) {
	ta := newTestApp(t, "https://provider.example/token")
	flowID, _ := startFlow(t, ta)

	rec := httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/handshake/"+flowID+"/heartbeat", bytes.NewReader([]byte(`{"closed":false}`))))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	ta.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/handshake/unknown/heartbeat", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
