package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Realm is announced in WWW-Authenticate challenges.
const Realm = "trainingbook"

// DefaultPublicPaths are served without a token.
var DefaultPublicPaths = []string{"/healthz", "/metrics"}

// Option configures a Middleware.
type Option func(*Middleware)

// WithPublicPaths replaces the paths served without a token.
func WithPublicPaths(paths ...string) Option {
	return func(m *Middleware) {
		m.public = make(map[string]struct{}, len(paths))
		for _, p := range paths {
			m.public[p] = struct{}{}
		}
	}
}

// WithScope sets the scope every authenticated request must carry.
// An empty scope only checks the token.
func WithScope(scope string) Option {
	return func(m *Middleware) {
		m.scope = scope
	}
}

// WithLogger logs rejected requests at debug level.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Middleware authenticates the read API. Requests outside the public paths
// need a valid bearer token holding the configured scope, ScopeRead unless
// WithScope says otherwise.
type Middleware struct {
	config Config
	public map[string]struct{}
	scope  string
	logger *zap.Logger
}

// NewMiddleware returns a middleware verifying tokens against cfg.
func NewMiddleware(cfg Config, opts ...Option) *Middleware {
	m := &Middleware{config: cfg, scope: ScopeRead, logger: zap.NewNop()}
	WithPublicPaths(DefaultPublicPaths...)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Wrap wraps an http.Handler with authentication.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.public[r.URL.Path]; ok {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := m.parseRequest(r)
		if err != nil {
			m.reject(w, r, http.StatusUnauthorized, err, "")
			return
		}
		if m.scope != "" && !claims.HasScope(m.scope) {
			m.reject(w, r, http.StatusForbidden, fmt.Errorf("token lacks scope %s", m.scope), claims.Subject)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
	})
}

func (m *Middleware) parseRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, ErrMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return nil, ErrInvalidToken
	}
	return Parse(token, m.config)
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, status int, err error, subject string) {
	m.logger.Debug("request rejected",
		zap.String("path", r.URL.Path),
		zap.String("subject", subject),
		zap.Int("status", status),
		zap.Error(err))

	code, challenge := "unauthorized", fmt.Sprintf("Bearer realm=%q", Realm)
	switch {
	case status == http.StatusForbidden:
		code = "forbidden"
		challenge += fmt.Sprintf(", error=\"insufficient_scope\", scope=%q", m.scope)
	case !errors.Is(err, ErrMissingToken):
		challenge += `, error="invalid_token"`
	}
	w.Header().Set("WWW-Authenticate", challenge)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"type": code, "detail": err.Error()})
}
