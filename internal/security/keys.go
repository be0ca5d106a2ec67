package security

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"strings"
	"time"
)

var (
	// ErrInvalidKey is returned when PEM or key type is invalid.
	ErrInvalidKey = errors.New("invalid key")
	// ErrNoSigningKey is returned when neither a key pair nor a shared secret is configured.
	ErrNoSigningKey = errors.New("security: JWT_PRIVATE_KEY/JWT_PUBLIC_KEY or JWT_SECRET must be set")
)

// LoadPEM returns s as PEM bytes when it looks like inline PEM, otherwise reads the file at
// path s. Inline values from env files often carry literal "\n"; those become newlines.
func LoadPEM(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidKey
	}
	if strings.HasPrefix(s, "-----BEGIN") {
		return []byte(strings.ReplaceAll(s, `\n`, "\n")), nil
	}
	return os.ReadFile(s)
}

// ParsePrivateKey parses a PEM-encoded private key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePrivateKey(s string) (crypto.Signer, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, ErrInvalidKey
		}
		return signer, nil
	}
	return nil, ErrInvalidKey
}

// ParsePublicKey parses a PEM-encoded public key (RSA or ECDSA). s may be inline PEM or a file path.
func ParsePublicKey(s string) (crypto.PublicKey, error) {
	block, err := decodePEM(s)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		return x509.ParsePKIXPublicKey(block.Bytes)
	}
	return nil, ErrInvalidKey
}

// LoadTokenProvider builds the session TokenProvider from configuration. A key pair takes
// precedence over a shared secret.
func LoadTokenProvider(privateKey, publicKey, secret, issuer, audience string, ttl time.Duration) (*TokenProvider, error) {
	if strings.TrimSpace(privateKey) != "" || strings.TrimSpace(publicKey) != "" {
		signer, err := ParsePrivateKey(privateKey)
		if err != nil {
			return nil, err
		}
		pub, err := ParsePublicKey(publicKey)
		if err != nil {
			return nil, err
		}
		return NewTokenProvider(signer, pub, issuer, audience, ttl), nil
	}
	if secret == "" {
		return nil, ErrNoSigningKey
	}
	return NewHMACTokenProvider([]byte(secret), issuer, audience, ttl), nil
}

func decodePEM(s string) (*pem.Block, error) {
	pemBytes, err := LoadPEM(s)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, ErrInvalidKey
	}
	return block, nil
}
