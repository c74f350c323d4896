package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/elimu-market/checkout/internal/domain/auth"
)

type userIDKey struct{}

// UserID returns the authenticated user ID stored by APIKeyAuth, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// HashAPIKey computes the stored lookup hash of a raw API key: HMAC-SHA256
// keyed with the server-side pepper, hex encoded. Keys are never persisted
// in the clear.
func HashAPIKey(pepper, key string) string {
	mac := hmac.New(sha256.New, []byte(pepper))
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// APIKeyAuth authenticates every request by API key, taken from the
// Authorization bearer token or the X-API-Key header, and stores the
// resolved user ID in the request context.
func APIKeyAuth(keys auth.Repository, pepper string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := bearerToken(r)
			if key == "" {
				key = r.Header.Get("X-API-Key")
			}
			if key == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{
					Code:    http.StatusUnauthorized,
					Message: "missing API key",
				})
				return
			}

			info, err := keys.FindByHash(r.Context(), HashAPIKey(pepper, key))
			if err != nil {
				zctx.From(r.Context()).Debug("api key rejected", zap.Error(err))
				writeJSON(w, http.StatusUnauthorized, errorBody{
					Code:    http.StatusUnauthorized,
					Message: "invalid API key",
				})
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey{}, info.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}
