// Package session implements the login/callback/logout/introspection state
// machine-§4.7, grounded on the teacher's
// lxd/auth/oidc/oidc.go (Login/Callback/Logout handlers) and reshaped
// around endpoints/mod_login.rs, mod_logout.rs and
// mod_me.rs request flow.
package session

// LoginCookie carries PKCE/nonce/state between /login and /login2. It
// shares the bff-session cookie slot with SessionCookie.
type LoginCookie struct {
	State             string `msgpack:"state"`
	Nonce             string `msgpack:"nonce"`
	BFFRedirectURI    string `msgpack:"bff_redirect_uri"`
	PostLoginRedirect string `msgpack:"post_login_redirect"`
	CodeVerifier      string `msgpack:"code_verifier"`
}

// SessionCookie is the authenticated session, holding the three OIDC
// tokens needed to proxy requests and refresh on expiry.
type SessionCookie struct {
	AccessToken  string `msgpack:"access_token"`
	RefreshToken string `msgpack:"refresh_token"`
	IDToken      string `msgpack:"id_token"`
}
