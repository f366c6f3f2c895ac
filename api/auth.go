/*
auth.go - Caller identity for API requests

MODES:
  JWT (JWT_SECRET set):
    Authorization: Bearer <HS256 token>
    Claims: sub = actor id, role = counter | approver | admin
  Dev (JWT_SECRET empty):
    X-Actor-Id / X-Actor-Role headers, defaulting to "dev" / admin.
    Never run a shared deployment in this mode.

Authorization itself (who may approve, cancel, sync) is decided by the
count engine from the actor's role; this file only establishes who the
caller is.
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/stockcount/count"
)

type ctxKey int

const actorKey ctxKey = iota

// Auth establishes the actor of each request.
type Auth struct {
	Secret []byte
}

// NewAuth returns JWT auth for a non-empty secret and dev auth otherwise.
func NewAuth(secret string) *Auth {
	if secret == "" {
		return &Auth{}
	}
	return &Auth{Secret: []byte(secret)}
}

// DevMode reports whether identities come from plain headers.
func (a *Auth) DevMode() bool {
	return len(a.Secret) == 0
}

// Middleware rejects unauthenticated requests with 401 and stores the
// actor in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			actor count.Actor
			err   error
		)
		if a.DevMode() {
			actor, err = devActor(r)
		} else {
			actor, err = a.tokenActor(r)
		}
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey, actor)))
	})
}

func (a *Auth) tokenActor(r *http.Request) (count.Actor, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return count.Actor{}, errors.New("missing bearer token")
	}
	raw := strings.TrimPrefix(header, "Bearer ")

	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.Secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !tok.Valid {
		return count.Actor{}, errors.New("invalid token")
	}

	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return count.Actor{}, errors.New("invalid claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return count.Actor{}, errors.New("token has no subject")
	}
	roleClaim, _ := claims["role"].(string)
	role, ok := count.ParseRole(roleClaim)
	if !ok {
		return count.Actor{}, fmt.Errorf("unknown role %q", roleClaim)
	}
	return count.Actor{ID: sub, Role: role}, nil
}

func devActor(r *http.Request) (count.Actor, error) {
	id := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	if id == "" {
		id = "dev"
	}
	roleHeader := strings.TrimSpace(r.Header.Get("X-Actor-Role"))
	if roleHeader == "" {
		return count.Actor{ID: id, Role: count.RoleAdmin}, nil
	}
	role, ok := count.ParseRole(roleHeader)
	if !ok {
		return count.Actor{}, fmt.Errorf("unknown role %q", roleHeader)
	}
	return count.Actor{ID: id, Role: role}, nil
}

// IssueToken signs a token for an actor. Used by the CLI and tests.
func (a *Auth) IssueToken(actor count.Actor, ttl time.Duration) (string, error) {
	if a.DevMode() {
		return "", errors.New("no JWT secret configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  actor.ID,
		"role": string(actor.Role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.Secret)
}

func actorFrom(ctx context.Context) count.Actor {
	actor, _ := ctx.Value(actorKey).(count.Actor)
	return actor
}
