// Package token provides the JWT access tokens issued by the development list
// server's token endpoint.
package token

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer signs and checks access tokens for registered clients.
type Issuer struct {
	// Name is used as the iss claim.
	Name string

	// Secret is the HMAC key.
	Secret []byte

	// TTL is how long tokens are valid for.
	TTL time.Duration

	// Now defaults to time.Now. Set in tests.
	Now func() time.Time
}

// Generate returns a signed token for the given client and the number of
// seconds until it expires.
func (iss Issuer) Generate(clientID string) (string, int, error) {
	now := iss.now()
	ttl := iss.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	claims := &jwt.MapClaims{
		"iss": iss.Name,
		"sub": clientID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(ttl).Unix(),
		"jti": uuid.NewString(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)

	tokStr, err := tok.SignedString(iss.Secret)
	if err != nil {
		return "", 0, err
	}
	return tokStr, int(ttl / time.Second), nil
}

// Validate checks tok and returns the client it was issued to. The client must
// be one for which known returns true.
func (iss Issuer) Validate(tok string, known func(clientID string) bool) (string, error) {
	var clientID string

	_, err := jwt.Parse(tok, func(t *jwt.Token) (interface{}, error) {
		subj, err := t.Claims.GetSubject()
		if err != nil {
			return nil, fmt.Errorf("cannot get subject: %w", err)
		}
		if known != nil && !known(subj) {
			return nil, fmt.Errorf("subject does not exist")
		}
		clientID = subj
		return iss.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(iss.Name),
		jwt.WithLeeway(time.Minute),
		jwt.WithTimeFunc(iss.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", err
	}

	return clientID, nil
}

func (iss Issuer) now() time.Time {
	if iss.Now != nil {
		return iss.Now()
	}
	return time.Now()
}

// Get gets the token from the Authorization header as a bearer token.
func Get(req *http.Request) (string, error) {
	authHeader := strings.TrimSpace(req.Header.Get("Authorization"))

	if authHeader == "" {
		return "", fmt.Errorf("no authorization header present")
	}

	authParts := strings.SplitN(authHeader, " ", 2)
	if len(authParts) != 2 {
		return "", fmt.Errorf("authorization header not in Bearer format")
	}

	scheme := strings.TrimSpace(strings.ToLower(authParts[0]))
	token := strings.TrimSpace(authParts[1])

	if scheme != "bearer" {
		return "", fmt.Errorf("authorization header not in Bearer format")
	}

	return token, nil
}
