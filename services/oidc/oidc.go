// Package oidcsvc wraps an OpenID Connect provider for the authorization code flow.
package oidcsvc

import (
	"context"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/user"
)

var (
	ErrMissingIDToken = errors.New("token response has no id_token")
	ErrNonceMismatch  = errors.New("id token nonce mismatch")
)

type Provider struct {
	name     string
	config   oauth2.Config
	verifier *oidc.IDTokenVerifier
}

// New discovers the provider configuration from the issuer.
func New(ctx context.Context, conf *core.Config) (*Provider, error) {
	p, err := oidc.NewProvider(ctx, conf.OIDC.IssuerURL)
	if err != nil {
		return nil, errors.Wrap(err, "discovering oidc provider")
	}
	verifier := p.Verifier(&oidc.Config{ClientID: conf.OIDC.ClientID})
	return newProvider(conf, p.Endpoint(), verifier), nil
}

func newProvider(conf *core.Config, endpoint oauth2.Endpoint, verifier *oidc.IDTokenVerifier) *Provider {
	return &Provider{
		name: conf.OIDC.Provider,
		config: oauth2.Config{
			ClientID:     conf.OIDC.ClientID,
			ClientSecret: conf.OIDC.ClientSecret,
			RedirectURL:  conf.OIDC.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		},
		verifier: verifier,
	}
}

func (p *Provider) Name() string { return p.name }

// AuthCodeURL is where the user agent is sent to log in.
func (p *Provider) AuthCodeURL(state, nonce string) string {
	return p.config.AuthCodeURL(state, oidc.Nonce(nonce))
}

// Exchange trades the authorization code for tokens and returns the verified identity.
func (p *Provider) Exchange(ctx context.Context, code, nonce string) (user.OIDCIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return user.OIDCIdentity{}, errors.Wrap(err, "exchanging authorization code")
	}
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return user.OIDCIdentity{}, ErrMissingIDToken
	}
	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return user.OIDCIdentity{}, errors.Wrap(err, "verifying id token")
	}
	if idToken.Nonce != nonce {
		return user.OIDCIdentity{}, ErrNonceMismatch
	}

	var claims struct {
		Email         string `json:"email"`
		EmailVerified bool   `json:"email_verified"`
		Name          string `json:"name"`
	}
	if err = idToken.Claims(&claims); err != nil {
		return user.OIDCIdentity{}, errors.Wrap(err, "decoding id token claims")
	}
	return user.OIDCIdentity{
		Provider:      p.name,
		Subject:       idToken.Subject,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
		Name:          claims.Name,
	}, nil
}
