package listserver

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const grantClientCredentials = "client_credentials"

// TokenResponse is the body of a successful token request.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// HashSecret returns the bcrypt hash of a client secret, in the form expected
// in Config.Clients.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// epToken issues an access token using the client credentials grant. The
// client ID and secret are read from the form, or from basic auth if the form
// does not have them.
func (s *Server) epToken(req *http.Request) result {
	req.Body = http.MaxBytesReader(nil, req.Body, maxBodySize)
	if err := req.ParseForm(); err != nil {
		return oauthErr(http.StatusBadRequest, "invalid_request", "malformed form body", "parse form: %s", err.Error())
	}

	grant := req.PostForm.Get("grant_type")
	if grant != grantClientCredentials {
		return oauthErr(http.StatusBadRequest, "unsupported_grant_type", "only client_credentials is supported", "grant type %q", grant)
	}

	clientID := req.PostForm.Get("client_id")
	secret := req.PostForm.Get("client_secret")
	if clientID == "" {
		if user, pass, ok := req.BasicAuth(); ok {
			clientID, secret = user, pass
		}
	}

	hash, known := s.clients[clientID]
	if !known {
		return oauthErr(http.StatusUnauthorized, "invalid_client", "client authentication failed", "unknown client %q", clientID)
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return oauthErr(http.StatusUnauthorized, "invalid_client", "client authentication failed", "client %q: bad secret", clientID)
	}

	tok, expiresIn, err := s.issuer.Generate(clientID)
	if err != nil {
		return internalServerError("generate token: %s", err.Error())
	}

	r := ok(TokenResponse{AccessToken: tok, TokenType: "Bearer", ExpiresIn: expiresIn}, "issued token to %q", clientID).
		withHeader("Cache-Control", "no-store")
	r.contentType = "application/json"
	return r
}
