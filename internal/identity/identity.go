// Package identity resolves the owner of a request: a verified JWT subject, or an
// anonymous id kept in a cookie.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/pdfquery/internal/models"
)

// DefaultCookieName holds the anonymous owner id.
const DefaultCookieName = "pdfquery_owner"

const anonymousPrefix = "anon:"

var ErrUnauthorized = errors.New("unauthorized")

type ctxKey struct{}

// WithOwner returns ctx carrying owner.
func WithOwner(ctx context.Context, owner models.Owner) context.Context {
	return context.WithValue(ctx, ctxKey{}, owner)
}

// OwnerFromContext returns the owner set by the middleware.
func OwnerFromContext(ctx context.Context) (models.Owner, bool) {
	owner, ok := ctx.Value(ctxKey{}).(models.Owner)
	return owner, ok && owner.ID != ""
}

// Resolver is HTTP middleware that establishes the request owner.
type Resolver struct {
	verifier   *Verifier
	cookieName string
	secure     bool
	maxAge     time.Duration
	logger     *zap.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithVerifier enables bearer tokens. Without it Authorization headers are ignored.
func WithVerifier(v *Verifier) Option {
	return func(r *Resolver) { r.verifier = v }
}

// WithCookie sets the anonymous cookie name and whether it is marked Secure.
func WithCookie(name string, secure bool) Option {
	return func(r *Resolver) {
		if name != "" {
			r.cookieName = name
		}
		r.secure = secure
	}
}

// WithLogger sets the logger for rejected tokens.
func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		cookieName: DefaultCookieName,
		maxAge:     365 * 24 * time.Hour,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the owner of req. When a new anonymous id is minted, the cookie
// to set is returned too.
func (r *Resolver) Resolve(req *http.Request) (models.Owner, *http.Cookie, error) {
	if r.verifier != nil {
		if token, ok := bearerToken(req); ok {
			sub, err := r.verifier.Verify(token)
			if err != nil {
				r.logger.Debug("rejected bearer token", zap.Error(err))
				return models.Owner{}, nil, err
			}
			return models.Owner{ID: sub}, nil, nil
		}
	}

	if c, err := req.Cookie(r.cookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return models.Owner{ID: anonymousPrefix + id.String(), Anonymous: true}, nil, nil
		}
	}

	id := uuid.New()
	cookie := &http.Cookie{
		Name:     r.cookieName,
		Value:    id.String(),
		Path:     "/",
		MaxAge:   int(r.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   r.secure,
		SameSite: http.SameSiteLaxMode,
	}
	return models.Owner{ID: anonymousPrefix + id.String(), Anonymous: true}, cookie, nil
}

// Middleware sets the owner on the request context, or answers 401 for a bad token.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		owner, cookie, err := r.Resolve(req)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid or expired token"})
			return
		}
		if cookie != nil {
			http.SetCookie(w, cookie)
		}
		next.ServeHTTP(w, req.WithContext(WithOwner(req.Context(), owner)))
	})
}

func bearerToken(req *http.Request) (string, bool) {
	h := req.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	token := strings.TrimSpace(h[7:])
	return token, token != ""
}
