// Package proxy implements the streaming authenticated reverse proxy of
// JIT access-token refresh, bounded-channel body streaming,
// cookie-jar merging, and the aligned per-request log line. Grounded on the
// teacher's SPJDevOps-DevPlane-style gateway proxy shape in spirit (a
// session-aware reverse proxy in front of arbitrary backends) and on the
// endpoints/mod_proxy.rs, rebuilt with net/http directly
// the way lxd/auth/oidc/oidc.go builds its own request plumbing rather
// than delegating to httputil.ReverseProxy (whose single-shot body copy
// cannot express the bounded-channel backpressure this spec requires).
package proxy

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/oidcgateway/bff/internal/apierror"
	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/cookie"
	"github.com/oidcgateway/bff/internal/logger"
	"github.com/oidcgateway/bff/internal/oidcmeta"
	"github.com/oidcgateway/bff/internal/oidctoken"
	"github.com/oidcgateway/bff/internal/session"
)

// Handler implements ANY /bridge/{B}/proxy/{A}/{tail...}.
func Handler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)

		bridge, ok := cfg.Bridges[vars["bridge"]]
		if !ok {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Internal), "unknown bridge"), cfg.ExposeErrors)
			return
		}

		api, ok := bridge.APIs[vars["api"]]
		if !ok {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Internal), "unknown api"), cfg.ExposeErrors)
			return
		}

		sc, err := cookie.Decode[session.SessionCookie](r, cfg)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Unauthorized), "no session"), cfg.ExposeErrors)
			return
		}

		accessClaims, err := oidctoken.Claims[oidctoken.AccessTokenClaims](sc.AccessToken)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(err, "decoding access token"), cfg.ExposeErrors)
			return
		}

		now := time.Now().Unix()
		skew := int64(cfg.ClockSkew.Seconds())

		accessToken := sc.AccessToken
		refreshed := false
		var staged *http.Cookie

		if accessClaims.Exp-now < skew {
			refreshClaims, err := oidctoken.Claims[oidctoken.RefreshTokenClaims](sc.RefreshToken)
			if err != nil {
				apierror.Respond(w, apierror.Wrap(err, "decoding refresh token"), cfg.ExposeErrors)
				return
			}

			if refreshClaims.Exp-now < skew {
				apierror.Respond(w, apierror.Wrap(apierror.New(apierror.NotLoggedIn), "Refresh Token expired"), cfg.ExposeErrors)
				return
			}

			idp, err := oidcmeta.Get(bridge, cfg.HTTPClient)
			if err != nil {
				apierror.Respond(w, apierror.Wrap(err, "refreshing session"), cfg.ExposeErrors)
				return
			}

			tr, err := oidctoken.RetrieveToken(bridge, cfg.HTTPClient, idp.TokenEndpoint, oidctoken.RefreshTokenGrant{RefreshToken: sc.RefreshToken})
			if err != nil {
				apierror.Respond(w, apierror.Wrap(err, "refreshing session"), cfg.ExposeErrors)
				return
			}

			newSC := session.SessionCookie{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, IDToken: tr.IDToken}

			staged, err = cookie.Create(cfg, bridge.ID, newSC, http.SameSiteStrictMode)
			if err != nil {
				apierror.Respond(w, apierror.Wrap(err, "baking refreshed session cookie"), cfg.ExposeErrors)
				return
			}

			accessToken = tr.AccessToken
			refreshed = true
		}

		target, err := url.Parse(api.Backend + strings.TrimPrefix(vars["tail"], "/"))
		if err != nil {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Internal), "building upstream URL"), cfg.ExposeErrors)
			return
		}

		target.RawQuery = r.URL.RawQuery

		body := chunkedBody(r.Context(), r.Body)
		defer body.Close()

		outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), body)
		if err != nil {
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.Internal), "building upstream request"), cfg.ExposeErrors)
			return
		}

		for _, h := range api.Headers {
			if h == "cookie" {
				if forwarded := forwardedCookieHeader(r); forwarded != "" {
					outReq.Header.Set("Cookie", forwarded)
				}

				continue
			}

			if v := r.Header.Get(h); v != "" {
				outReq.Header.Set(h, v)
			}
		}

		outReq.Header.Set("Authorization", "Bearer "+accessToken)

		resp, err := cfg.HTTPClient.Do(outReq)
		if err != nil {
			logProxy(cfg, bridge, api, accessClaims.PreferredUsername, refreshed, r, 0)
			apierror.Respond(w, apierror.Wrap(apierror.New(apierror.BadGateway), "calling upstream"), cfg.ExposeErrors)
			return
		}
		defer resp.Body.Close()

		for k, vv := range resp.Header {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}

		if staged != nil {
			http.SetCookie(w, staged)
		}

		w.WriteHeader(resp.StatusCode)
		streamResponse(w, resp.Body)

		logProxy(cfg, bridge, api, accessClaims.PreferredUsername, refreshed, r, resp.StatusCode)
	}
}

// forwardedCookieHeader rebuilds the Cookie header from all inbound
// cookies except bff-session (spec.md §4.8 step 6, property P6).
func forwardedCookieHeader(r *http.Request) string {
	cookies := r.Cookies()

	pairs := make([]string, 0, len(cookies))
	for _, c := range cookies {
		if c.Name == cookie.Name {
			continue
		}

		pairs = append(pairs, c.Name+"="+c.Value)
	}

	return strings.Join(pairs, "; ")
}

type flusher interface {
	Flush()
}

func streamResponse(w http.ResponseWriter, src io.Reader) {
	buf := make([]byte, chunkSize)
	f, canFlush := w.(flusher)

	for {
		n, err := src.Read(buf)
		if n > 0 {
			_, _ = w.Write(buf[:n])
			if canFlush {
				f.Flush()
			}
		}

		if err != nil {
			return
		}
	}
}

func logProxy(cfg *config.Config, bridge *config.Bridge, api *config.Api, user string, refreshed bool, r *http.Request, status int) {
	marker := "  "
	if refreshed {
		marker = "|r"
	}

	label := fmt.Sprintf("[%s::%s]", bridge.ID, api.ID)
	padded := fmt.Sprintf("%-*s", cfg.LogPadding, label)

	logger.Info(fmt.Sprintf("%s%s (%s) -- %s %s : %d", padded, marker, user, r.Method, r.URL.Path, status), logger.Ctx{
		"bridge": bridge.ID,
		"api":    api.ID,
		"status": status,
	})
}
