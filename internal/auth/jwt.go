// Package auth validates the CLIENT_HELLO handshake payload.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrBadHandshake  = errors.New("auth: bad handshake")
	ErrInvalidTicket = errors.New("auth: invalid or expired ticket")
)

// Identity is what a successful handshake yields. Name is raw and still needs sanitizing.
type Identity struct {
	Name string
}

type Authenticator interface {
	Authenticate(payload []byte) (Identity, error)
}

// TokenAuthenticator accepts any payload that begins with Token, optionally followed by "|name".
type TokenAuthenticator struct {
	Token string
}

func (a TokenAuthenticator) Authenticate(payload []byte) (Identity, error) {
	s := string(payload)
	if !strings.HasPrefix(s, a.Token) {
		return Identity{}, ErrBadHandshake
	}
	return Identity{Name: nameAfterSeparator(s)}, nil
}

func nameAfterSeparator(s string) string {
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return s[i+1:]
	}
	return ""
}

// Claims is the body of a signed handshake ticket.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// TicketAuthenticator accepts an HS256 ticket, either bare or as "<token>|<ticket>".
// When Fallback is set, payloads that are not tickets are handed to it.
type TicketAuthenticator struct {
	Secret   []byte
	Token    string
	Fallback Authenticator
}

func (a TicketAuthenticator) Authenticate(payload []byte) (Identity, error) {
	raw := string(payload)
	if a.Token != "" && strings.HasPrefix(raw, a.Token+"|") {
		raw = raw[len(a.Token)+1:]
	}
	if !looksLikeTicket(raw) {
		if a.Fallback != nil {
			return a.Fallback.Authenticate(payload)
		}
		return Identity{}, ErrBadHandshake
	}

	claims, err := ParseTicket(a.Secret, raw)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Name: claims.Name}, nil
}

// looksLikeTicket reports whether raw decodes as a JWT, signature unchecked.
func looksLikeTicket(raw string) bool {
	if strings.Count(raw, ".") != 2 {
		return false
	}
	_, _, err := jwt.NewParser().ParseUnverified(raw, &Claims{})
	return err == nil
}

// IssueTicket signs a ticket for name, valid for ttl (no expiry when ttl <= 0).
func IssueTicket(secret []byte, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
			Subject:  name,
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseTicket(secret []byte, ticket string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(ticket, claims, func(token *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTicket, err)
	}
	return claims, nil
}

// New picks the ticket authenticator when a secret is configured and the token one otherwise.
func New(token, secret string) Authenticator {
	base := TokenAuthenticator{Token: token}
	if secret == "" {
		return base
	}
	return TicketAuthenticator{Secret: []byte(secret), Token: token, Fallback: base}
}
