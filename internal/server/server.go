// Package server wires the HTTP surface: gorilla/mux
// dispatch for the bridge/api-scoped routes, permissive CORS, and the
// liveness endpoint. Grounded on lxd/api.go router
// construction (mux.NewRouter/StrictSlash/SkipClean/UseEncodedPath) and on
// the pack's rs/cors usage for permissive cross-origin wiring.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/proxy"
	"github.com/oidcgateway/bff/internal/session"
)

// New builds the complete HTTP handler for cfg.
func New(cfg *config.Config) http.Handler {
	router := mux.NewRouter()
	router.StrictSlash(false)
	router.SkipClean(true)
	router.UseEncodedPath()

	router.HandleFunc("/health", health).Methods(http.MethodGet)

	router.HandleFunc("/bridge/{bridge}/login", session.Login(cfg)).Methods(http.MethodGet)
	router.HandleFunc("/bridge/{bridge}/login2", session.Callback(cfg)).Methods(http.MethodGet)
	router.HandleFunc("/bridge/{bridge}/logout", session.Logout(cfg)).Methods(http.MethodGet)
	router.HandleFunc("/bridge/{bridge}/me", session.Me(cfg)).Methods(http.MethodGet)

	router.PathPrefix("/bridge/{bridge}/proxy/{api}/{tail:.*}").HandlerFunc(proxy.Handler(cfg))

	c := cors.New(cors.Options{
		AllowOriginFunc:  func(string) bool { return true },
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           3600,
	})

	return c.Handler(router)
}

func health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`"up"`))
}
