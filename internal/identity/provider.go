package identity

import (
	"context"
	"errors"
)

// Profile es la forma normalizada de una identidad externa.
type Profile struct {
	Email   string
	Name    string
	Picture *string
}

// Provider define el contrato de un proveedor de identidad externo con
// intercambio de authorization code.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (string, error)
	FetchProfile(ctx context.Context, accessToken string) (Profile, error)
}

var (
	ErrExchangeFailed = errors.New("authorization code exchange failed")
	ErrNoEmail        = errors.New("provider returned no email")
)
