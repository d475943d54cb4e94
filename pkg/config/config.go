// pkg/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	HTTPAddr string

	// Public base URL of this service (redirect target for the OAuth callback).
	BasePublicURL string

	// Origin of the dashboard front end, the only window the relay page may
	// postMessage the handshake outcome to.
	DashboardOrigin string

	// Identity provider (directory + token endpoint).
	DirectoryBaseURL string
	DirectoryRealm   string
	TokenEndpoint    string
	ClientID         string
	ClientSecret     string

	// Dashboard session token validation (JWT issued by the identity provider).
	Issuer   string
	Audience string
	JWKSURL  string

	// Third-party OAuth provider for the cross-window handshake.
	ProviderAuthURL  string
	ProviderTokenURL string
	ProviderJWKSURL  string
	ProviderClientID string
	ProviderSecret   string
	ProviderScopes   string

	// Credential encryption.
	EncryptionSecret string
	CredentialTTL    time.Duration

	// Permission cache.
	PermissionTTL time.Duration

	// Token refresh buffer before access expiry.
	RefreshBuffer time.Duration

	// Backend business-record API.
	BackendBaseURL string

	// Optional role-name mapping file (YAML).
	RoleMapFile string

	RedisURL string
}

func Load() Config {
	_ = godotenv.Load()
	return Config{
		Env:              env("GATEKIT_ENV", "dev"),
		HTTPAddr:         env("GATEKIT_HTTP_ADDR", ":8080"),
		BasePublicURL:    env("BASE_PUBLIC_URL", "http://localhost:8080"),
		DashboardOrigin:  env("DASHBOARD_ORIGIN", ""),
		DirectoryBaseURL: env("DIRECTORY_BASE_URL", ""),
		DirectoryRealm:   env("DIRECTORY_REALM", "dashboard"),
		TokenEndpoint:    env("TOKEN_ENDPOINT", ""),
		ClientID:         env("OIDC_CLIENT_ID", ""),
		ClientSecret:     env("OIDC_CLIENT_SECRET", ""),
		Issuer:           env("OIDC_ISSUER", ""),
		Audience:         env("OIDC_AUDIENCE", "gatekit-dashboard"),
		JWKSURL:          env("JWKS_URL", ""),
		ProviderAuthURL:  env("PROVIDER_AUTH_URL", ""),
		ProviderTokenURL: env("PROVIDER_TOKEN_URL", ""),
		ProviderJWKSURL:  env("PROVIDER_JWKS_URL", ""),
		ProviderClientID: env("PROVIDER_CLIENT_ID", ""),
		ProviderSecret:   env("PROVIDER_CLIENT_SECRET", ""),
		ProviderScopes:   env("PROVIDER_SCOPES", "read_accounts"),
		EncryptionSecret: env("ENCRYPTION_SECRET", ""),
		CredentialTTL:    envDur("CREDENTIAL_TTL_SEC", 300) * time.Second,
		PermissionTTL:    envDur("PERMISSION_TTL_SEC", 300) * time.Second,
		RefreshBuffer:    envDur("REFRESH_BUFFER_SEC", 60) * time.Second,
		BackendBaseURL:   env("BACKEND_BASE_URL", ""),
		RoleMapFile:      env("ROLE_MAP_FILE", ""),
		RedisURL:         env("REDIS_URL", ""),
	}
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}

func envDur(k string, def int) time.Duration {
	if v := os.Getenv(k); v != "" {
		i, _ := strconv.Atoi(v)
		return time.Duration(i)
	}
	return time.Duration(def)
}
