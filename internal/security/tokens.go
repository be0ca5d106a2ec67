package security

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"identity-service/backend/internal/user/domain"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
)

// SessionClaims holds the JWT claims of a session token: the registered claims plus the
// user profile projection.
type SessionClaims struct {
	jwt.RegisteredClaims
	domain.Profile
}

// TokenProvider issues and validates session JWTs. It signs with RS256/ES256 when built
// from a key pair, or HS256 when built from a shared secret.
type TokenProvider struct {
	privateKey crypto.Signer
	publicKey  crypto.PublicKey
	secret     []byte
	issuer     string
	audience   string
	ttl        time.Duration
}

// NewTokenProvider returns a TokenProvider that signs with the given private key (RS256 or ES256).
// issuer and audience are set on claims and validated on parse.
func NewTokenProvider(privateKey crypto.Signer, publicKey crypto.PublicKey, issuer, audience string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{
		privateKey: privateKey,
		publicKey:  publicKey,
		issuer:     issuer,
		audience:   audience,
		ttl:        ttl,
	}
}

// NewHMACTokenProvider returns a TokenProvider that signs with HS256 and the given secret.
func NewHMACTokenProvider(secret []byte, issuer, audience string, ttl time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		ttl:      ttl,
	}
}

// IssueSession signs a session token for the profile. Returns the token and its expiry.
func (p *TokenProvider) IssueSession(profile *domain.Profile) (token string, expiresAt time.Time, err error) {
	if profile == nil || profile.ID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	jti, err := generateJTI()
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now().UTC()
	expiresAt = now.Add(p.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   profile.ID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Profile: *profile,
	}
	token, err = p.sign(claims)
	return token, expiresAt, err
}

func (p *TokenProvider) sign(claims jwt.Claims) (string, error) {
	if len(p.secret) > 0 {
		return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	}
	if p.privateKey == nil {
		return "", ErrInvalidToken
	}
	var method jwt.SigningMethod
	switch p.privateKey.Public().(type) {
	case *rsa.PublicKey:
		method = jwt.SigningMethodRS256
	case *ecdsa.PublicKey:
		method = jwt.SigningMethodES256
	default:
		return "", ErrInvalidToken
	}
	t := jwt.NewWithClaims(method, claims)
	return t.SignedString(p.privateKey)
}

// ValidateSession parses and validates the session token (signature, exp, iss, aud) and
// returns the embedded profile.
func (p *TokenProvider) ValidateSession(tokenString string) (*domain.Profile, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, p.keyFunc,
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Profile.ID == "" || claims.Profile.ID != claims.Subject {
		return nil, ErrInvalidToken
	}
	profile := claims.Profile
	return &profile, nil
}

func (p *TokenProvider) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(p.secret) > 0 {
			return p.secret, nil
		}
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if p.publicKey != nil && len(p.secret) == 0 {
			return p.publicKey, nil
		}
	}
	return nil, ErrInvalidToken
}

func generateJTI() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
