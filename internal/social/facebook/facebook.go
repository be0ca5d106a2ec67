// Package facebook resolves Facebook user access tokens through the Graph API.
package facebook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"identity-service/backend/internal/social"
	"identity-service/backend/internal/user/domain"
)

const (
	defaultBaseURL = "https://graph.facebook.com"
	defaultTimeout = 10 * time.Second
	profileFields  = "id,name,email,picture"
)

// Client calls GET /me on the Graph API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient returns a client for baseURL (the public Graph API when empty).
func NewClient(baseURL string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// Method returns FACEBOOK.
func (c *Client) Method() domain.AuthMethod {
	return domain.AuthMethodFacebook
}

type meResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Picture struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// FetchProfile exchanges accessToken for the holder's profile. The token travels only in the
// Authorization header and never appears in returned errors.
func (c *Client) FetchProfile(ctx context.Context, accessToken string) (*social.Profile, error) {
	q := url.Values{}
	q.Set("fields", profileFields)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/me?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("facebook: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// Drop the request URL from transport errors.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("facebook: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("facebook: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	var me meResponse
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return nil, fmt.Errorf("facebook: decode profile: %w", err)
	}
	return &social.Profile{
		Email:      me.Email,
		Name:       social.NonEmpty(me.Name),
		ProviderID: me.ID,
		Avatar:     social.NonEmpty(me.Picture.Data.URL),
	}, nil
}
