// Package oidctoken implements decoding JWT claim payloads
// without verifying their signature (validation is delegated to IDP
// introspection), and exchanging authorization codes / refresh tokens at
// the token endpoint. Grounded on lxd/auth/bearer/bearer.go
// (golang-jwt/jwt/v5 `jwt.NewParser` usage) for the claims side and on the
// systems/token.rs for the exchange side.
package oidctoken

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/oidcgateway/bff/internal/apierror"
	"github.com/oidcgateway/bff/internal/config"
)

// IDTokenClaims is decoded from id_token to verify the login nonce and log
// the acting username.
type IDTokenClaims struct {
	Nonce             string `json:"nonce"`
	PreferredUsername string `json:"preferred_username"`
}

// AccessTokenClaims is decoded from access_token to drive JIT-refresh
// decisions and logging.
type AccessTokenClaims struct {
	Exp               int64  `json:"exp"`
	Iat               int64  `json:"iat"`
	PreferredUsername string `json:"preferred_username"`
}

// RefreshTokenClaims is decoded from refresh_token to decide whether the
// session is unrecoverable.
type RefreshTokenClaims struct {
	Exp int64 `json:"exp"`
}

// TokenResponse is the token_endpoint's JSON response body.
type TokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	NotBeforePolicy  int64  `json:"not-before-policy"`
	SessionState     string `json:"session_state"`
	Scope            string `json:"scope"`
	IDToken          string `json:"id_token"`
}

// IntrospectionResponse is the introspection_endpoint's JSON response body
// (RFC 7662, only the field this system consults).
type IntrospectionResponse struct {
	Active bool `json:"active"`
}

// Claims decodes a JWT's payload segment into T without verifying its
// signature, matching use of jwt.NewParser().ParseUnverified.
func Claims[T any](token string) (T, error) {
	var zero T

	var claims jwt.MapClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return zero, apierror.Wrap(apierror.New(apierror.BadGateway), "parsing JWT claims")
	}

	raw, err := json.Marshal(claims)
	if err != nil {
		return zero, apierror.Wrap(apierror.New(apierror.BadGateway), "re-encoding JWT claims")
	}

	if err := json.Unmarshal(raw, &zero); err != nil {
		return zero, apierror.Wrap(apierror.New(apierror.BadGateway), "decoding JWT claims")
	}

	return zero, nil
}

// RawPayload returns the raw, undecoded JSON bytes of a JWT's payload
// segment, used by /me to echo the id_token claims verbatim.
func RawPayload(token string) ([]byte, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), "malformed JWT")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), "decoding JWT payload")
	}

	return raw, nil
}

// GrantDetails is the tagged-variant token request body described in
// a two-constructor builder standing in for a sum type.
type GrantDetails interface {
	values() url.Values
}

// AuthorizationCodeGrant exchanges an authorization code for tokens.
type AuthorizationCodeGrant struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
}

func (g AuthorizationCodeGrant) values() url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {g.Code},
		"redirect_uri":  {g.RedirectURI},
		"code_verifier": {g.CodeVerifier},
	}
}

// RefreshTokenGrant exchanges a refresh token for a fresh token set.
type RefreshTokenGrant struct {
	RefreshToken string
}

func (g RefreshTokenGrant) values() url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {g.RefreshToken},
	}
}

// RetrieveToken POSTs grant to tokenEndpoint, authenticated with bridge's
// client credentials, and parses the response as a TokenResponse.
func RetrieveToken(bridge *config.Bridge, client *http.Client, tokenEndpoint string, grant GrantDetails) (*TokenResponse, error) {
	form := grant.values()
	form.Set("client_id", bridge.Client)
	form.Set("client_secret", bridge.Secret)

	resp, err := client.PostForm(tokenEndpoint, form)
	if err != nil {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), "calling token endpoint")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), "reading token endpoint response")
	}

	var tr TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), fmt.Sprintf("token endpoint returned non-JSON body: %s", body))
	}

	if resp.StatusCode/100 != 2 {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), fmt.Sprintf("token endpoint returned status %d", resp.StatusCode))
	}

	return &tr, nil
}

// Introspect POSTs token to introspectionEndpoint as the `token` form field,
// authenticated with bridge's client credentials, and returns whether it is
// active.
func Introspect(bridge *config.Bridge, client *http.Client, introspectionEndpoint, token string) (bool, error) {
	form := url.Values{
		"client_id":     {bridge.Client},
		"client_secret": {bridge.Secret},
		"token":         {token},
	}

	resp, err := client.PostForm(introspectionEndpoint, form)
	if err != nil {
		return false, apierror.New(apierror.BadGateway)
	}
	defer resp.Body.Close()

	var ir IntrospectionResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return false, apierror.Wrap(apierror.New(apierror.BadGateway), "decoding introspection response")
	}

	return ir.Active, nil
}
