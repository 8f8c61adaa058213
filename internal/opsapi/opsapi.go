// Package opsapi exposes the runner's introspection and shrink-trigger
// surface over HTTP, the same chi-router-plus-JWT-bearer shape the
// teacher's internal/api/router.go and internal/middleware use for their
// protected routes, narrowed to two operators-only endpoints.
package opsapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"

	"github.com/race-go/runner/internal/runner"
	"github.com/race-go/runner/internal/runnerid"
)

// Inspectable is the facade opsapi drives; *runner.Runner[T] for any T
// satisfies it.
type Inspectable interface {
	DebugCount(ctx context.Context) (DebugCount, error)
	Shrink(ctx context.Context) error
	Shrunk(ctx context.Context) (bool, error)
}

// DebugCount mirrors runner.DebugCount without importing the generic
// package directly, so opsapi stays independent of the entry type T.
type DebugCount struct {
	Buffer int `json:"buffer"`
	Tasks  int `json:"tasks"`
}

// Adapt wraps a *runner.Runner[T] as an Inspectable, bridging the
// generic runner.DebugCount return type to opsapi's own DebugCount so
// this package stays independent of the entry type T.
func Adapt[T any](r *runner.Runner[T]) Inspectable {
	return runnerAdapter[T]{r}
}

type runnerAdapter[T any] struct {
	r *runner.Runner[T]
}

func (a runnerAdapter[T]) DebugCount(ctx context.Context) (DebugCount, error) {
	dc, err := a.r.DebugCount(ctx)
	return DebugCount{Buffer: dc.Buffer, Tasks: dc.Tasks}, err
}

func (a runnerAdapter[T]) Shrink(ctx context.Context) error {
	return a.r.Shrink(ctx)
}

func (a runnerAdapter[T]) Shrunk(ctx context.Context) (bool, error) {
	return a.r.Shrunk(ctx)
}

// Logger is the narrow logging surface opsapi needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// NewRouter builds the ops HTTP handler: GET /debug returns DebugCount and
// Shrunk state, POST /shrink triggers a shrink pass. Both require a valid
// HS256 bearer token signed with jwtSecret.
func NewRouter(target Inspectable, jwtSecret string, logger Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestIDHeader)
	r.Use(recoverer(logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(jwtSecret))

		r.Get("/debug", func(w http.ResponseWriter, req *http.Request) {
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel()

			count, err := target.DebugCount(ctx)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			shrunk, err := target.Shrunk(ctx)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}

			writeJSON(w, http.StatusOK, struct {
				DebugCount
				Shrunk bool `json:"shrunk"`
			}{DebugCount: count, Shrunk: shrunk})
		})

		r.Post("/shrink", func(w http.ResponseWriter, req *http.Request) {
			ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
			defer cancel()

			if err := target.Shrink(ctx); err != nil {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			w.WriteHeader(http.StatusAccepted)
		})
	})

	return r
}

func requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", runnerid.New())
		}
		w.Header().Set("X-Request-Id", r.Header.Get("X-Request-Id"))
		next.ServeHTTP(w, r)
	})
}

func recoverer(logger Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("ops api handler panicked", "panic", rec, "path", r.URL.Path)
					http.Error(w, "internal error", http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// bearerAuth validates an HS256 JWT in the Authorization header, mirroring
// the teacher's middleware.JWTAuth / auth.Service.ValidateToken.
func bearerAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
			if !ok || tokenString == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
