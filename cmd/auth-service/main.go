// cmd/auth-service/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatekit/internal/accounts"
	"gatekit/internal/credentials"
	"gatekit/internal/handshake"
	"gatekit/internal/permissions"
	"gatekit/internal/tokens"
	"gatekit/pkg/config"
	"gatekit/pkg/db"
	"gatekit/pkg/directory"
	"gatekit/pkg/logger"
	"gatekit/pkg/middleware"
	"gatekit/pkg/problems"
	"gatekit/pkg/roles"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)

	rdb := db.MustRedis(cfg, log)

	mapping := roles.DefaultMapping()
	if cfg.RoleMapFile != "" {
		m, err := roles.LoadMapping(cfg.RoleMapFile)
		if err != nil {
			log.Fatalw("role map", "file", cfg.RoleMapFile, "err", err)
		}
		mapping = m
	}

	// The directory client authenticates with the service's own credential;
	// refreshes go through the same single-flight coordinator as user bundles.
	tokenEndpoint := tokens.NewEndpointClient(cfg.TokenEndpoint, cfg.ClientID, cfg.ClientSecret)
	adminTokens := tokens.NewCoordinator(tokenEndpoint, cfg.RefreshBuffer, log)
	if user := os.Getenv("DIRECTORY_ADMIN_USER"); user != "" {
		g, err := tokenEndpoint.Password(context.Background(), user, os.Getenv("DIRECTORY_ADMIN_PASSWORD"))
		if err != nil {
			log.Warnw("admin token bootstrap", "err", err)
		} else {
			adminTokens.SetGrant(g)
		}
	}

	var dir directory.Client
	if cfg.DirectoryBaseURL != "" {
		dir = directory.NewHTTPClient(cfg.DirectoryBaseURL, cfg.DirectoryRealm, adminTokens, log)
	} else {
		mem := directory.NewMemoryClient(log)
		if cfg.Env == "dev" {
			seedDev(mem)
		}
		dir = mem
		log.Warnw("no directory configured, using in-memory client")
	}

	resolver := permissions.NewResolver(dir, mapping, log)
	cache := permissions.NewCache(resolver, cfg.PermissionTTL)
	checker := permissions.NewChecker(cache)

	if cfg.EncryptionSecret == "" && cfg.Env == "dev" {
		cfg.EncryptionSecret = "dev-only-insecure-secret"
		log.Warnw("ENCRYPTION_SECRET unset, using dev default")
	}
	box, err := credentials.NewBox(cfg.EncryptionSecret)
	if err != nil {
		log.Fatalw("credential box", "err", err)
	}
	cookies := credentials.NewCookies(box, cfg.CredentialTTL, cfg.Env != "dev")

	backend := accounts.NewClient(cfg.BackendBaseURL, accounts.DefaultFieldMap(), log)

	var states handshake.StateStore
	if rdb != nil {
		states = handshake.NewRedisStateStore(rdb)
	} else {
		states = handshake.NewMemoryStateStore()
	}
	mgr := handshake.NewManager(handshake.DefaultWatchInterval, 0, log)
	hs, err := handshake.New(handshake.Config{
		AuthURL:          cfg.ProviderAuthURL,
		TokenURL:         cfg.ProviderTokenURL,
		ClientID:         cfg.ProviderClientID,
		ClientSecret:     cfg.ProviderSecret,
		RedirectURL:      strings.TrimRight(cfg.BasePublicURL, "/") + "/v1/oauth/callback",
		Scopes:           strings.Fields(cfg.ProviderScopes),
		AssertionJWKSURL: cfg.ProviderJWKSURL,
		AssertionIssuer:  os.Getenv("PROVIDER_ISSUER"),
		DashboardOrigin:  cfg.DashboardOrigin,
	}, cookies, backend, states, mgr, log)
	if err != nil {
		log.Fatalw("handshake", "err", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(log))
	// Dashboard origins only matter in browsers; echo origin so cookies survive.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,DELETE,OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Max-Age", "86400")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(middleware.Tracing(cfg))
	r.Use(middleware.JWTAuth(cfg))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("ok")) })
	hs.Mount(r)

	r.With(middleware.RequireWorkspaceRole(checker, log, roles.WorkspaceMember)).
		Get("/v1/workspaces/{workspaceID}/summary", func(w http.ResponseWriter, r *http.Request) {
			userID := middleware.SubjectFrom(r.Context())
			wsID := chi.URLParam(r, "workspaceID")
			role, _, err := checker.WorkspaceRoleFor(r.Context(), userID, wsID)
			if err != nil {
				problems.Write(w, log, err)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"workspace_id": wsID,
				"role":         string(role),
			})
		})

	r.Post("/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		if sub := middleware.SubjectFrom(r.Context()); sub != "" {
			checker.Invalidate(sub)
		}
		cookies.Clear(w)
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r}
	go func() {
		log.Infow("auth-service listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	fmt.Println("auth-service stopped")
}

// seedDev installs a workspace and account for the dev passthrough user so
// guarded routes work on a fresh checkout.
func seedDev(mem *directory.MemoryClient) {
	ctx := context.Background()
	ws := mem.Seed(directory.GroupRecord{
		Name: "workspace-demo",
		Path: "/workspace-demo",
		Kind: directory.GroupWorkspace,
	}, "admin")
	acct := mem.Seed(directory.GroupRecord{
		Name:     "account-demo",
		Path:     "/workspace-demo/account-demo",
		Kind:     directory.GroupAccount,
		ParentID: "demo",
	}, "editor")
	_ = mem.AddUserToGroup(ctx, "dev-user", ws)
	_ = mem.AddUserToGroup(ctx, "dev-user", acct)
}
