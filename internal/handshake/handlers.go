// internal/handshake/handlers.go
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"gatekit/internal/credentials"
	"gatekit/pkg/problems"
)

// BroadcastChannelName is the fallback delivery channel the relay page and
// the initiating window agree on.
const BroadcastChannelName = "gatekit-oauth-result"

// AccountPersister saves a linked account from the provider payload plus the
// decrypted credential. Satisfied by the accounts client.
type AccountPersister interface {
	CreateLinked(ctx context.Context, payload map[string]any, credential string) error
}

// Config wires the third-party provider.
type Config struct {
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string

	// AssertionJWKSURL enables signed-assertion validation of the
	// provider's id_token. Providers that return only an opaque grant
	// leave it empty and the exchanged token is trusted as validated.
	AssertionJWKSURL string
	AssertionIssuer  string

	// DashboardOrigin is the postMessage target origin for the relay page.
	// Leaving it empty broadcasts to any opener; set it in production.
	DashboardOrigin string

	StateTTL time.Duration
}

// App holds the handshake HTTP surface. Handlers are methods on it.
type App struct {
	log      *zap.SugaredLogger
	oauth    *oauth2.Config
	jwks     jwk.Set
	issuer   string
	cookies  *credentials.Cookies
	accounts AccountPersister
	states   StateStore
	mgr      *Manager
	origin   string
	stateTTL time.Duration
}

func New(cfg Config, cookies *credentials.Cookies, accounts AccountPersister, states StateStore, mgr *Manager, log *zap.SugaredLogger) (*App, error) {
	a := &App{
		log: log,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		issuer:   cfg.AssertionIssuer,
		cookies:  cookies,
		accounts: accounts,
		states:   states,
		mgr:      mgr,
		origin:   cfg.DashboardOrigin,
		stateTTL: cfg.StateTTL,
	}
	if a.stateTTL <= 0 {
		a.stateTTL = 5 * time.Minute
	}
	if a.origin == "" {
		a.origin = "*"
	}
	if cfg.AssertionJWKSURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		set, err := jwk.Fetch(ctx, cfg.AssertionJWKSURL)
		if err != nil {
			return nil, err
		}
		a.jwks = set
	}
	return a, nil
}

// Mount registers the handshake routes.
func (a *App) Mount(r chi.Router) {
	r.Post("/v1/handshake/start", a.start)
	r.Get("/v1/handshake/{flowID}", a.status)
	r.Post("/v1/handshake/{flowID}/heartbeat", a.heartbeat)
	r.Post("/v1/handshake/{flowID}/message", a.message)
	r.Post("/v1/handshake/{flowID}/save", a.save)
	r.Delete("/v1/handshake/{flowID}", a.close)
	r.Get("/v1/oauth/callback", a.callback)
}

func (a *App) start(w http.ResponseWriter, r *http.Request) {
	flowID, err := a.mgr.Start()
	if err != nil {
		problems.Write(w, a.log, err)
		return
	}
	state := uuid.NewString()
	if err := a.states.Put(r.Context(), state, FlowMeta{FlowID: flowID, UserID: userIDFrom(r)}, a.stateTTL); err != nil {
		a.mgr.Close(flowID)
		problems.Write(w, a.log, err)
		return
	}
	writeJSON(w, map[string]any{
		"flow_id":       flowID,
		"state":         state,
		"authorize_url": a.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline),
		"channel":       BroadcastChannelName,
	}, http.StatusCreated)
}

func (a *App) status(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.mgr.Get(chi.URLParam(r, "flowID"))
	if !ok {
		http.Error(w, "unknown flow", http.StatusNotFound)
		return
	}
	out := map[string]any{"state": sess.State()}
	if p := sess.Result(); p != nil {
		out["payload"] = p
	}
	if err := sess.Err(); err != nil {
		out["error"] = problems.Slug(err)
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) heartbeat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Closed bool `json:"closed"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if !a.mgr.Beat(chi.URLParam(r, "flowID"), body.Closed) {
		http.Error(w, "unknown flow", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
}

// message receives the outcome the initiating window picked up from either
// browser channel. Duplicate deliveries are expected and ignored.
func (a *App) message(w http.ResponseWriter, r *http.Request) {
	flowID := chi.URLParam(r, "flowID")
	sess, ok := a.mgr.Get(flowID)
	if !ok {
		http.Error(w, "unknown flow", http.StatusNotFound)
		return
	}
	var msg Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	msg.FlowID = flowID
	applied := sess.Deliver(msg)
	writeJSON(w, map[string]any{"applied": applied, "state": sess.State()}, http.StatusOK)
}

func (a *App) save(w http.ResponseWriter, r *http.Request) {
	sess, ok := a.mgr.Get(chi.URLParam(r, "flowID"))
	if !ok {
		http.Error(w, "unknown flow", http.StatusNotFound)
		return
	}
	credential, err := a.cookies.Read(r)
	if err != nil {
		// Decryption failure means "no credential": the cookie expired
		// or was tampered with. The flow stays retryable.
		a.log.Warnw("credential cookie unreadable", "err", err)
		problems.Write(w, a.log, credentials.ErrDecryptionFailed)
		return
	}
	err = sess.Save(r.Context(), func(ctx context.Context, payload map[string]any) error {
		return a.accounts.CreateLinked(ctx, payload, credential)
	})
	if err != nil {
		problems.Write(w, a.log, err)
		return
	}
	// Credential consumed; the cookie dies with it.
	a.cookies.Clear(w)
	writeJSON(w, map[string]any{"state": sess.State()}, http.StatusOK)
}

func (a *App) close(w http.ResponseWriter, r *http.Request) {
	a.mgr.Close(chi.URLParam(r, "flowID"))
	writeJSON(w, map[string]any{"ok": true}, http.StatusOK)
}

// callback is the provider's redirect target. It validates the grant
// server-side, encrypts the returned credential into the cookie, and renders
// the relay page that hands the outcome to the opener window.
func (a *App) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	meta, known, _ := a.states.Take(r.Context(), q.Get("state"))

	if reason := q.Get("error"); reason != "" {
		a.renderRelay(w, Message{Type: MessageError, FlowID: meta.FlowID, Reason: reason})
		return
	}
	if !known {
		a.log.Warnw("callback with unknown or reused state")
		a.renderRelay(w, Message{Type: MessageError, Reason: "invalid_state"})
		return
	}

	tok, err := a.oauth.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		a.log.Warnw("code exchange failed", "flow", meta.FlowID, "err", err)
		a.renderRelay(w, Message{Type: MessageError, FlowID: meta.FlowID, Reason: "exchange_failed"})
		return
	}

	payload, err := a.payloadFrom(r.Context(), tok)
	if err != nil {
		a.log.Warnw("assertion validation failed", "flow", meta.FlowID, "err", err)
		a.renderRelay(w, Message{Type: MessageError, FlowID: meta.FlowID, Reason: "invalid_assertion"})
		return
	}

	// The long-lived provider credential goes through encryption before it
	// touches any persisted store, and is never echoed back in plaintext.
	cred := map[string]any{"access_token": tok.AccessToken}
	if tok.RefreshToken != "" {
		cred["refresh_token"] = tok.RefreshToken
	}
	credJSON, _ := json.Marshal(cred)
	if err := a.cookies.Set(w, string(credJSON)); err != nil {
		a.log.Errorw("credential encrypt failed", "flow", meta.FlowID, "err", err)
		a.renderRelay(w, Message{Type: MessageError, FlowID: meta.FlowID, Reason: "internal"})
		return
	}

	a.renderRelay(w, Message{Type: MessageSuccess, FlowID: meta.FlowID, Payload: payload})
}

// payloadFrom extracts the provider's account/profile payload. In assertion
// mode the id_token signature, issuer and audience are verified first.
func (a *App) payloadFrom(ctx context.Context, tok *oauth2.Token) (map[string]any, error) {
	if a.jwks == nil {
		payload := map[string]any{}
		if p, ok := tok.Extra("profile").(map[string]any); ok {
			payload = p
		}
		return payload, nil
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok || raw == "" {
		return nil, errors.New("missing id_token")
	}
	opts := []jwt.ParseOption{jwt.WithKeySet(a.jwks), jwt.WithValidate(true)}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	jt, err := jwt.Parse([]byte(raw), opts...)
	if err != nil {
		return nil, err
	}
	claims, err := jt.AsMap(ctx)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// userIDFrom pulls the authenticated dashboard user from the request
// context, populated by the JWT middleware. Empty in dev bring-up.
func userIDFrom(r *http.Request) string {
	if v := r.Context().Value("sub"); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
