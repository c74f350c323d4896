package auth

import "context"

// APIKeyInfo holds the identity data for a validated API key. Every key
// belongs to exactly one marketplace user; the checkout API acts on that
// user's behalf.
type APIKeyInfo struct {
	ID      string
	UserID  string
	KeyHash string
	Name    string
}

// Repository provides lookup of active API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
