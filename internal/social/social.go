// Package social resolves a provider access token into a normalized profile. Providers
// return identity facts only; account creation and linking belong to the caller.
package social

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"identity-service/backend/internal/user/domain"
)

// DefaultTimeout bounds a single Resolve call when the registry is built with zero.
const DefaultTimeout = 10 * time.Second

var (
	// ErrUnknownProvider is returned for a method no provider is registered for.
	ErrUnknownProvider = errors.New("social: unknown provider")
	// ErrSocialAuth wraps every provider-side failure.
	ErrSocialAuth = errors.New("social: authentication failed")
)

// Profile is what a provider knows about the token holder.
type Profile struct {
	Email      string
	Name       *string
	ProviderID string
	Avatar     *string
}

// Provider fetches the profile for an access token issued by one identity provider.
type Provider interface {
	Method() domain.AuthMethod
	FetchProfile(ctx context.Context, accessToken string) (*Profile, error)
}

// Registry looks up providers by AuthMethod.
type Registry struct {
	providers map[domain.AuthMethod]Provider
	timeout   time.Duration
}

// NewRegistry registers providers by method. A later provider for the same method replaces
// an earlier one.
func NewRegistry(timeout time.Duration, providers ...Provider) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := make(map[domain.AuthMethod]Provider, len(providers))
	for _, p := range providers {
		if p != nil {
			m[p.Method()] = p
		}
	}
	return &Registry{providers: m, timeout: timeout}
}

// Methods returns the registered methods in sorted order.
func (r *Registry) Methods() []domain.AuthMethod {
	out := make([]domain.AuthMethod, 0, len(r.providers))
	for m := range r.providers {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Resolve fetches and validates the profile for accessToken from the provider for method.
func (r *Registry) Resolve(ctx context.Context, accessToken string, method domain.AuthMethod) (*Profile, error) {
	p, ok := r.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, method)
	}
	if strings.TrimSpace(accessToken) == "" {
		return nil, fmt.Errorf("%w: empty access token", ErrSocialAuth)
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	prof, err := p.FetchProfile(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSocialAuth, method, err)
	}
	if prof == nil || prof.Email == "" {
		return nil, fmt.Errorf("%w: %s: profile has no email", ErrSocialAuth, method)
	}
	if prof.ProviderID == "" {
		return nil, fmt.Errorf("%w: %s: profile has no subject", ErrSocialAuth, method)
	}
	return prof, nil
}

// NonEmpty returns &s, or nil when s is empty.
func NonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
