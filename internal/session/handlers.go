package session

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/oidcgateway/bff/internal/apierror"
	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/cookie"
	"github.com/oidcgateway/bff/internal/cryptoutil"
	"github.com/oidcgateway/bff/internal/logger"
	"github.com/oidcgateway/bff/internal/oidcmeta"
	"github.com/oidcgateway/bff/internal/oidctoken"
)

func resolveBridge(cfg *config.Config, r *http.Request) (*config.Bridge, *apierror.Error) {
	id := mux.Vars(r)["bridge"]

	bridge, ok := cfg.Bridges[id]
	if !ok {
		return nil, apierror.Wrap(apierror.New(apierror.Internal), fmt.Sprintf("unknown bridge %q", id))
	}

	return bridge, nil
}

func requestScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}

	return "http"
}

func redirectWithCookie(w http.ResponseWriter, location string, c *http.Cookie) {
	http.SetCookie(w, c)
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusTemporaryRedirect)
}

// Login implements GET /bridge/{B}/login?redirect=<url>.
func Login(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bridge, aerr := resolveBridge(cfg, r)
		if aerr != nil {
			apierror.Respond(w, aerr, cfg.ExposeErrors)
			return
		}

		state, err := randomString(10)
		if err != nil {
			apierror.Respond(w, apierror.New(apierror.Internal), cfg.ExposeErrors)
			return
		}

		nonce, err := randomString(10)
		if err != nil {
			apierror.Respond(w, apierror.New(apierror.Internal), cfg.ExposeErrors)
			return
		}

		codeVerifier, err := randomString(43)
		if err != nil {
			apierror.Respond(w, apierror.New(apierror.Internal), cfg.ExposeErrors)
			return
		}

		bffRedirectURI := fmt.Sprintf("%s://%s/bridge/%s/login2", requestScheme(r), r.Host, bridge.ID)

		idp, err := oidcmeta.Get(bridge, cfg.HTTPClient)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "starting login"), cfg.ExposeErrors)
			return
		}

		q := url.Values{
			"response_type":         {"code"},
			"scope":                 {bridge.Scope},
			"client_id":             {bridge.Client},
			"state":                 {state},
			"redirect_uri":          {bffRedirectURI},
			"code_challenge":        {cryptoutil.Hash(codeVerifier)},
			"code_challenge_method": {"S256"},
			"nonce":                 {nonce},
		}

		authURL := idp.AuthorizationEndpoint + "?" + q.Encode()

		lc := LoginCookie{
			State:             state,
			Nonce:             nonce,
			BFFRedirectURI:    bffRedirectURI,
			PostLoginRedirect: r.URL.Query().Get("redirect"),
			CodeVerifier:      codeVerifier,
		}

		c, err := cookie.Create(cfg, bridge.ID, lc, http.SameSiteLaxMode)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "baking login cookie"), cfg.ExposeErrors)
			return
		}

		redirectWithCookie(w, authURL, c)
	}
}

// Callback implements GET /bridge/{B}/login2?state=&code=.
func Callback(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bridge, aerr := resolveBridge(cfg, r)
		if aerr != nil {
			apierror.Respond(w, aerr, cfg.ExposeErrors)
			return
		}

		lc, err := cookie.Decode[LoginCookie](r, cfg)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "decoding login cookie"), cfg.ExposeErrors)
			return
		}

		if r.URL.Query().Get("state") != lc.State {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Unauthorized), "state mismatch"), cfg.ExposeErrors)
			return
		}

		idp, err := oidcmeta.Get(bridge, cfg.HTTPClient)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "completing login"), cfg.ExposeErrors)
			return
		}

		tr, err := oidctoken.RetrieveToken(bridge, cfg.HTTPClient, idp.TokenEndpoint, oidctoken.AuthorizationCodeGrant{
			Code:         r.URL.Query().Get("code"),
			RedirectURI:  lc.BFFRedirectURI,
			CodeVerifier: lc.CodeVerifier,
		})
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "exchanging authorization code"), cfg.ExposeErrors)
			return
		}

		idClaims, err := oidctoken.Claims[oidctoken.IDTokenClaims](tr.IDToken)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "decoding id_token"), cfg.ExposeErrors)
			return
		}

		if idClaims.Nonce != lc.Nonce {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Unauthorized), "nonce mismatch"), cfg.ExposeErrors)
			return
		}

		sc := SessionCookie{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
			IDToken:      tr.IDToken,
		}

		c, err := cookie.Create(cfg, bridge.ID, sc, http.SameSiteStrictMode)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "baking session cookie"), cfg.ExposeErrors)
			return
		}

		logger.Info("login", logger.Ctx{"bridge": bridge.ID, "user": idClaims.PreferredUsername})

		redirectWithCookie(w, lc.PostLoginRedirect, c)
	}
}

// Logout implements GET /bridge/{B}/logout?post_logout_redirect_uri=<url?>
//. The Location is built by raw string concatenation with no
// re-encoding of the redirect or id_token, preserving the original source's
// behavior verbatim.
func Logout(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bridge, aerr := resolveBridge(cfg, r)
		if aerr != nil {
			apierror.Respond(w, aerr, cfg.ExposeErrors)
			return
		}

		sc, err := cookie.Decode[SessionCookie](r, cfg)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Unauthorized), "no session"), cfg.ExposeErrors)
			return
		}

		redirect := r.URL.Query().Get("post_logout_redirect_uri")
		if redirect == "" {
			redirect = r.Header.Get("Referer")
		}

		if redirect == "" {
			apierror.Respond(w, apierror.New(apierror.UnknownRedirect), cfg.ExposeErrors)
			return
		}

		idp, err := oidcmeta.Get(bridge, cfg.HTTPClient)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "logging out"), cfg.ExposeErrors)
			return
		}

		username := ""
		if idClaims, err := oidctoken.Claims[oidctoken.IDTokenClaims](sc.IDToken); err == nil {
			username = idClaims.PreferredUsername
		}

		logger.Info("logout", logger.Ctx{"bridge": bridge.ID, "user": username})

		location := idp.EndSessionEndpoint + "?post_logout_redirect_uri=" + redirect + "&id_token_hint=" + sc.IDToken

		redirectWithCookie(w, location, cookie.Clear(bridge.ID))
	}
}

// Me implements GET /bridge/{B}/me.
func Me(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bridge, aerr := resolveBridge(cfg, r)
		if aerr != nil {
			apierror.Respond(w, aerr, cfg.ExposeErrors)
			return
		}

		sc, err := cookie.Decode[SessionCookie](r, cfg)
		if err != nil {
			apierror.Respond(w, apierror.New(apierror.NotLoggedIn), cfg.ExposeErrors)
			return
		}

		username := ""
		if accessClaims, err := oidctoken.Claims[oidctoken.AccessTokenClaims](sc.AccessToken); err == nil {
			username = accessClaims.PreferredUsername
		}

		idp, err := oidcmeta.Get(bridge, cfg.HTTPClient)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "introspecting session"), cfg.ExposeErrors)
			return
		}

		active, err := oidctoken.Introspect(bridge, cfg.HTTPClient, idp.IntrospectionEndpoint, sc.IDToken)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "introspecting session"), cfg.ExposeErrors)
			return
		}

		if !active {
			apierror.Respond(w, apierror.New(apierror.Unauthorized), cfg.ExposeErrors)
			return
		}

		payload, err := oidctoken.RawPayload(sc.IDToken)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "reading id_token claims"), cfg.ExposeErrors)
			return
		}

		logger.Info("me", logger.Ctx{"bridge": bridge.ID, "user": username})

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(payload)
	}
}
