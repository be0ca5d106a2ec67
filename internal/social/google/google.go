// Package google resolves Google OAuth access tokens through the OIDC userinfo endpoint.
package google

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"identity-service/backend/internal/social"
	"identity-service/backend/internal/user/domain"
)

// DefaultIssuer is Google's OIDC issuer.
const DefaultIssuer = "https://accounts.google.com"

// Provider maps a Google access token to a social.Profile.
type Provider struct {
	oidc *oidc.Provider
}

// New runs OIDC discovery against issuer (DefaultIssuer when empty).
func New(ctx context.Context, issuer string) (*Provider, error) {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	p, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("google: oidc discovery: %w", err)
	}
	return &Provider{oidc: p}, nil
}

// Method returns GOOGLE.
func (p *Provider) Method() domain.AuthMethod {
	return domain.AuthMethodGoogle
}

// FetchProfile calls userinfo with accessToken as the bearer.
func (p *Provider) FetchProfile(ctx context.Context, accessToken string) (*social.Profile, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	info, err := p.oidc.UserInfo(ctx, ts)
	if err != nil {
		return nil, fmt.Errorf("google userinfo: %w", err)
	}
	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
		Name    string `json:"name"`
		Picture string `json:"picture"`
	}
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("google userinfo claims: %w", err)
	}
	if claims.Subject == "" {
		claims.Subject = info.Subject
	}
	if claims.Email == "" {
		claims.Email = info.Email
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, errors.New("google userinfo missing required claims")
	}
	return &social.Profile{
		Email:      claims.Email,
		Name:       social.NonEmpty(claims.Name),
		ProviderID: claims.Subject,
		Avatar:     social.NonEmpty(claims.Picture),
	}, nil
}
