// Package authjwt issues and verifies the access/refresh token pair the
// HTTP interface returns from its login endpoints (spec §6 "HTTP
// interface. Authentication via Bearer JWT; login endpoints return access
// + refresh tokens").
package authjwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/adred-codev/streambroker/internal/ierror"
)

// TokenPair is what a successful HTTP login returns.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

// Issuer signs and verifies JWTs for the HTTP mirror, scoped to one
// process lifetime (the signing key is random per start; restarting the
// broker invalidates every outstanding HTTP session, which is acceptable
// since the binary protocol's PAT/password login is unaffected).
type Issuer struct {
	secret        []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

// New builds an Issuer with the given secret and token lifetimes.
func New(secret []byte, accessTTL, refreshTTL time.Duration) *Issuer {
	return &Issuer{secret: secret, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

type claims struct {
	UserID int  `json:"user_id"`
	Refresh bool `json:"refresh,omitempty"`
	jwt.RegisteredClaims
}

// IssuePair mints an access token and a longer-lived refresh token for
// userID.
func (i *Issuer) IssuePair(userID int) (TokenPair, error) {
	now := time.Now()
	access, err := i.sign(claims{
		UserID:           userID,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(i.accessTTL))},
	})
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := i.sign(claims{
		UserID:           userID,
		Refresh:          true,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(now.Add(i.refreshTTL))},
	})
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(i.accessTTL).Unix(),
	}, nil
}

func (i *Issuer) sign(c claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", ierror.Wrap(ierror.IoError, "sign jwt", err)
	}
	return signed, nil
}

// VerifyAccess validates an access token (not a refresh token) and returns
// its user id.
func (i *Issuer) VerifyAccess(tokenString string) (int, error) {
	c, err := i.parse(tokenString)
	if err != nil {
		return 0, err
	}
	if c.Refresh {
		return 0, ierror.New(ierror.Unauthenticated, "refresh token presented where an access token is required")
	}
	return c.UserID, nil
}

// Refresh validates a refresh token and mints a new pair.
func (i *Issuer) Refresh(tokenString string) (TokenPair, error) {
	c, err := i.parse(tokenString)
	if err != nil {
		return TokenPair{}, err
	}
	if !c.Refresh {
		return TokenPair{}, ierror.New(ierror.Unauthenticated, "access token presented where a refresh token is required")
	}
	return i.IssuePair(c.UserID)
}

func (i *Issuer) parse(tokenString string) (claims, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return claims{}, ierror.New(ierror.Unauthenticated, "invalid or expired token")
	}
	return c, nil
}
