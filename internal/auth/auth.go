// Package auth issues and verifies the bearer tokens that guard the tool
// transports and the signed links that open the public shipment portal.
//
// Tokens are Ed25519 (EdDSA) JWTs. Keys are loaded from PEM files or, in
// development, generated at startup.
package auth

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer         = "kaiun"
	audienceAccess = "kaiun"
	audiencePortal = "portal"
)

// DefaultPortalTTL is how long a customer portal link stays valid.
const DefaultPortalTTL = 30 * 24 * time.Hour

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the claims carried by every token. Subject is the client name
// for access tokens and the shipment id for portal tokens.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// Option configures a JWTManager.
type Option func(*JWTManager)

// WithPortal sets the base URL portal links are built on and their lifetime.
func WithPortal(baseURL string, ttl time.Duration) Option {
	return func(m *JWTManager) {
		m.portalBase = strings.TrimRight(baseURL, "/")
		if ttl > 0 {
			m.portalTTL = ttl
		}
	}
}

// WithClock overrides the signing clock.
func WithClock(now func() time.Time) Option {
	return func(m *JWTManager) { m.now = now }
}

// JWTManager signs and verifies tokens.
type JWTManager struct {
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
	expiration time.Duration
	portalBase string
	portalTTL  time.Duration
	now        func() time.Time
}

// NewJWTManager creates a JWTManager from PEM key files. With either path
// empty an ephemeral key pair is generated, so tokens do not survive a
// restart.
func NewJWTManager(privateKeyPath, publicKeyPath string, expiration time.Duration, opts ...Option) (*JWTManager, error) {
	var (
		priv ed25519.PrivateKey
		pub  ed25519.PublicKey
		err  error
	)
	if privateKeyPath == "" || publicKeyPath == "" {
		slog.Warn("auth: no JWT key files configured, generating ephemeral key pair (not for production)")
		pub, priv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("auth: generate key pair: %w", err)
		}
	} else {
		if priv, err = loadPrivateKey(privateKeyPath); err != nil {
			return nil, err
		}
		if pub, err = loadPublicKey(publicKeyPath); err != nil {
			return nil, err
		}
		if !bytes.Equal(priv.Public().(ed25519.PublicKey), pub) {
			return nil, fmt.Errorf("auth: public key does not match private key")
		}
	}
	m := &JWTManager{
		privateKey: priv,
		publicKey:  pub,
		expiration: expiration,
		portalTTL:  DefaultPortalTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

func readPEM(path, what string) ([]byte, error) {
	raw, err := os.ReadFile(path) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("auth: read %s key: %w", what, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("auth: decode %s key PEM", what)
	}
	return block.Bytes, nil
}

func loadPrivateKey(path string) (ed25519.PrivateKey, error) {
	der, err := readPEM(path, "private")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("auth: parse private key: %w", err)
	}
	ed, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("auth: private key is not Ed25519")
	}
	return ed, nil
}

func loadPublicKey(path string) (ed25519.PublicKey, error) {
	der, err := readPEM(path, "public")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	ed, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("auth: public key is not Ed25519")
	}
	return ed, nil
}

func (m *JWTManager) sign(subject, audience, scope string, ttl time.Duration) (string, time.Time, error) {
	now := m.now().UTC()
	exp := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Scope: scope,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(m.privateKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

func (m *JWTManager) verify(tokenStr, audience string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.publicKey, nil
		},
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// IssueToken creates an access token for client.
func (m *JWTManager) IssueToken(client string) (string, time.Time, error) {
	return m.sign(client, audienceAccess, "tools", m.expiration)
}

// ValidateToken verifies an access token. Portal tokens are rejected.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	return m.verify(tokenStr, audienceAccess)
}

// IssuePortalToken creates a read-only token for one shipment.
func (m *JWTManager) IssuePortalToken(shipmentID string) (string, time.Time, error) {
	return m.sign(shipmentID, audiencePortal, "track", m.portalTTL)
}

// PortalShipment verifies a portal token and returns the shipment it opens
// and when the link expires.
func (m *JWTManager) PortalShipment(tokenStr string) (string, time.Time, error) {
	claims, err := m.verify(tokenStr, audiencePortal)
	if err != nil {
		return "", time.Time{}, err
	}
	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return claims.Subject, exp, nil
}

// PortalLink returns the customer-facing tracking URL for shipmentID.
func (m *JWTManager) PortalLink(shipmentID string) (string, time.Time, error) {
	if m.portalBase == "" {
		return "", time.Time{}, fmt.Errorf("auth: portal base URL is not configured")
	}
	token, exp, err := m.IssuePortalToken(shipmentID)
	if err != nil {
		return "", time.Time{}, err
	}
	return m.portalBase + "/" + token, exp, nil
}
