package problems

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// mapping ties a sentinel error to an HTTP problem. Titles are the short,
// user-safe messages; internal causes are logged, not surfaced.
type mapping struct {
	err    error
	status int
	slug   string
	title  string
}

var (
	mu       sync.RWMutex
	mappings []mapping
)

// Register declares how a sentinel error is surfaced. Packages owning
// sentinels call this from init.
func Register(err error, status int, slug, title string) {
	mu.Lock()
	defer mu.Unlock()
	mappings = append(mappings, mapping{err: err, status: status, slug: slug, title: title})
}

func lookup(err error) (mapping, bool) {
	mu.RLock()
	defer mu.RUnlock()
	for _, m := range mappings {
		if errors.Is(err, m.err) {
			return m, true
		}
	}
	return mapping{}, false
}

// Slug returns the registered slug for err, or "internal".
func Slug(err error) string {
	if m, ok := lookup(err); ok {
		return m.slug
	}
	return "internal"
}

// Write renders err as an application/problem+json response. Unregistered
// errors become a generic 500; the cause lands in the log either way.
func Write(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	m, ok := lookup(err)
	if !ok {
		m = mapping{status: http.StatusInternalServerError, slug: "internal", title: "internal error"}
	}
	if m.status >= 500 {
		log.Errorw("request failed", "slug", m.slug, "err", err)
	} else {
		log.Debugw("request rejected", "slug", m.slug, "err", err)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(m.status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   Type(m.slug),
		"title":  m.title,
		"status": m.status,
	})
}
