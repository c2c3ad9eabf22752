package session

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/cookie"
	"github.com/oidcgateway/bff/internal/oidctoken"
)

func keyOf(b byte) config.Key {
	v := make([]byte, 32)
	for i := range v {
		v[i] = b
	}

	return config.Key{Value: v, Active: true}
}

func newTestRouter(cfg *config.Config) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/bridge/{bridge}/login", Login(cfg)).Methods(http.MethodGet)
	r.HandleFunc("/bridge/{bridge}/login2", Callback(cfg)).Methods(http.MethodGet)
	r.HandleFunc("/bridge/{bridge}/logout", Logout(cfg)).Methods(http.MethodGet)
	r.HandleFunc("/bridge/{bridge}/me", Me(cfg)).Methods(http.MethodGet)

	return r
}

func newFakeIDP(t *testing.T, onToken func(r *http.Request) oidctoken.TokenResponse, active bool) *httptest.Server {
	t.Helper()

	mx := http.NewServeMux()

	mx.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"authorization_endpoint": "/authorize",
			"token_endpoint":         "http://" + r.Host + "/token",
			"end_session_endpoint":   "/end-session",
			"introspection_endpoint": "http://" + r.Host + "/introspect",
		})
	})

	mx.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(onToken(r))
	})

	mx.HandleFunc("/introspect", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]bool{"active": active})
	})

	return httptest.NewServer(mx)
}

func testCfg(idp string) *config.Config {
	bridge := &config.Bridge{
		ID:     "b1",
		IDP:    idp,
		Client: "client-id",
		Secret: "client-secret",
		Scope:  "openid",
		APIs:   map[string]*config.Api{},
	}

	return &config.Config{
		ClockSkew:  30 * 1_000_000_000, // 30s as time.Duration nanoseconds
		Keys:       map[string]config.Key{"k1": keyOf(1)},
		ActiveKeys: []string{"k1"},
		Bridges:    map[string]*config.Bridge{"b1": bridge},
		HTTPClient: http.DefaultClient,
	}
}

func fakeIDToken(t *testing.T, nonce, username string) string {
	t.Helper()
	return fakeJWT(t, map[string]any{"nonce": nonce, "preferred_username": username})
}

func fakeJWT(t *testing.T, payload any) string {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none"}`))
	seg := base64.RawURLEncoding.EncodeToString(body)

	return header + "." + seg + "."
}

// Scenario 1: login happy path.
func TestLoginHappyPath(t *testing.T) {
	idp := newFakeIDP(t, nil, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/login?redirect=/home", nil)
	req.Host = "app.example.com"
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", loc.Path)

	q := loc.Query()
	assert.NotEmpty(t, q.Get("state"))
	assert.NotEmpty(t, q.Get("nonce"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "http://app.example.com/bridge/b1/login2", q.Get("redirect_uri"))

	setCookie := rec.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, cookie.Name+"=")
	assert.Contains(t, setCookie, "Path=/bridge/b1")
	assert.Contains(t, setCookie, "SameSite=Lax")
}

// Scenario 2: callback happy path. P8: state/nonce binding enforced.
func TestCallbackHappyPathAndStateBinding(t *testing.T) {
	var loginNonce string

	idp := newFakeIDP(t, func(r *http.Request) oidctoken.TokenResponse {
		_ = r.ParseForm()
		return oidctoken.TokenResponse{
			AccessToken:  "at",
			RefreshToken: "rt",
			IDToken:      fakeIDToken(t, loginNonce, "alice"),
		}
	}, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	loginReq := httptest.NewRequest(http.MethodGet, "/bridge/b1/login?redirect=/home", nil)
	loginReq.Host = "app.example.com"
	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, loginReq)

	loc, err := url.Parse(loginRec.Header().Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	loginNonce = loc.Query().Get("nonce")

	loginCookie := loginRec.Result().Cookies()[0]

	t.Run("happy path", func(t *testing.T) {
		lc := &http.Cookie{Name: loginCookie.Name, Value: loginCookie.Value}

		req := httptest.NewRequest(http.MethodGet, "/bridge/b1/login2?state="+state+"&code=abc", nil)
		req.AddCookie(lc)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
		assert.Equal(t, "/home", rec.Header().Get("Location"))

		setCookie := rec.Header().Get("Set-Cookie")
		assert.Contains(t, setCookie, "SameSite=Strict")
	})

	t.Run("state mismatch is unauthorized", func(t *testing.T) {
		lc := &http.Cookie{Name: loginCookie.Name, Value: loginCookie.Value}

		req := httptest.NewRequest(http.MethodGet, "/bridge/b1/login2?state=wrong&code=abc", nil)
		req.AddCookie(lc)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCallbackNonceMismatchIsUnauthorized(t *testing.T) {
	idp := newFakeIDP(t, func(r *http.Request) oidctoken.TokenResponse {
		return oidctoken.TokenResponse{
			AccessToken: "at", RefreshToken: "rt",
			IDToken: fakeIDToken(t, "wrong-nonce", "alice"),
		}
	}, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	loginReq := httptest.NewRequest(http.MethodGet, "/bridge/b1/login?redirect=/home", nil)
	loginReq.Host = "app.example.com"
	loginRec := httptest.NewRecorder()
	router.ServeHTTP(loginRec, loginReq)

	loc, _ := url.Parse(loginRec.Header().Get("Location"))
	state := loc.Query().Get("state")
	loginCookie := loginRec.Result().Cookies()[0]

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/login2?state="+state+"&code=abc", nil)
	req.AddCookie(&http.Cookie{Name: loginCookie.Name, Value: loginCookie.Value})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// Scenario 6: logout.
func TestLogout(t *testing.T) {
	idp := newFakeIDP(t, nil, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	sc := SessionCookie{AccessToken: "at", RefreshToken: "rt", IDToken: fakeIDToken(t, "n", "alice")}
	c, err := cookie.Create(cfg, "b1", sc, http.SameSiteStrictMode)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/logout", nil)
	req.Header.Set("Referer", "https://app/")
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.Equal(t, "/end-session?post_logout_redirect_uri=https://app/&id_token_hint="+sc.IDToken, rec.Header().Get("Location"))

	setCookie := rec.Header().Get("Set-Cookie")
	assert.Contains(t, setCookie, cookie.Name+"=")
}

func TestLogoutWithoutRedirectSourceIsUnknownRedirect(t *testing.T) {
	idp := newFakeIDP(t, nil, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	sc := SessionCookie{AccessToken: "at", RefreshToken: "rt", IDToken: fakeIDToken(t, "n", "alice")}
	c, err := cookie.Create(cfg, "b1", sc, http.SameSiteStrictMode)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/logout", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeReturnsIDTokenClaims(t *testing.T) {
	idp := newFakeIDP(t, nil, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	idToken := fakeIDToken(t, "n", "alice")
	sc := SessionCookie{AccessToken: fakeIDToken(t, "n", "alice"), RefreshToken: "rt", IDToken: idToken}
	c, err := cookie.Create(cfg, "b1", sc, http.SameSiteStrictMode)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/me", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "alice", body["preferred_username"])
}

func TestMeWithoutSessionIsNotLoggedIn(t *testing.T) {
	idp := newFakeIDP(t, nil, true)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/me", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeInactiveIntrospectionIsUnauthorized(t *testing.T) {
	idp := newFakeIDP(t, nil, false)
	defer idp.Close()

	cfg := testCfg(idp.URL)
	router := newTestRouter(cfg)

	sc := SessionCookie{AccessToken: fakeIDToken(t, "n", "alice"), RefreshToken: "rt", IDToken: fakeIDToken(t, "n", "alice")}
	c, err := cookie.Create(cfg, "b1", sc, http.SameSiteStrictMode)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/bridge/b1/me", nil)
	req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
