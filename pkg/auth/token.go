// Package auth defines the bearer-token capability consumed by the Graph transport.
//
// Token acquisition (interactive OAuth, client credentials, keypair flows) happens
// outside this module. Callers hand the session something that can produce a token
// on demand; the transport asks for it on every attempt so refreshed tokens are
// picked up between throttling retries.
package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/oauth2"
)

// ErrNoToken is returned when a supplier has no token to offer.
var ErrNoToken = errors.New("no access token available")

// TokenSupplier produces the bearer token attached to outbound requests.
type TokenSupplier interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a pre-fetched access token.
type StaticToken string

// Token implements TokenSupplier.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}

// TokenFunc adapts a plain function to TokenSupplier.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSupplier.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}

type tokenSource struct {
	src oauth2.TokenSource
}

// FromTokenSource wraps an oauth2.TokenSource. Wrap the source in
// oauth2.ReuseTokenSource if it is expensive to call.
func FromTokenSource(src oauth2.TokenSource) TokenSupplier {
	return &tokenSource{src: src}
}

func (t *tokenSource) Token(context.Context) (string, error) {
	if t.src == nil {
		return "", ErrNoToken
	}
	tok, err := t.src.Token()
	if err != nil {
		return "", fmt.Errorf("fetch oauth2 token: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}
	return tok.AccessToken, nil
}
