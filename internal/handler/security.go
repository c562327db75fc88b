package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

// APIKeyHeader carries the caller's API key.
const APIKeyHeader = "api_key"

var errUnauthorized = errors.New("unauthorized")

// Authenticator resolves API keys to users. Keys are stored as
// HMAC-SHA256 hashes under a server-side pepper.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{
		apikeys: apikeys,
		pepper:  pepper,
	}
}

// Authenticate returns the user owning key.
func (a *Authenticator) Authenticate(r *http.Request, key string) (string, error) {
	if key == "" {
		return "", errUnauthorized
	}
	hexHash := auth.HashKey(a.pepper, key)

	info, err := a.apikeys.FindByHash(r.Context(), hexHash)
	if err != nil {
		if !errors.Is(err, auth.ErrKeyNotFound) {
			return "", errors.Wrap(err, "find api key")
		}
		return "", errUnauthorized
	}

	// The repository matched on the hash; compare again in constant time so
	// a wrong row never authenticates.
	computed, _ := hex.DecodeString(hexHash)
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
		return "", errUnauthorized
	}
	if info.UserID == "" {
		return "", errUnauthorized
	}
	return info.UserID, nil
}

// Middleware rejects requests without a valid API key and stores the
// authenticated user in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Authenticate(r, r.Header.Get(APIKeyHeader))
		if err != nil {
			if !errors.Is(err, errUnauthorized) {
				zctx.From(r.Context()).Error("Authentication failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := auth.WithUser(r.Context(), userID)
		ctx = zctx.With(ctx, zap.String("user_id", userID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
