// Package oidcmeta implements the per-bridge lazy memoized IDP metadata
// cache / §5: read-check, drop read guard, fetch without
// any lock held, take write guard, publish. Grounded on the original
// source's Bridge::get_idp_configuration (components/config.rs) and on the
// teacher's own lazy-verifier-construction pattern in
// lxd/auth/oidc/oidc.go's Verifier.ensureConfig (read-check under RLock,
// release, fetch, then Lock to store).
package oidcmeta

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/oidcgateway/bff/internal/apierror"
	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/logger"
)

// Get returns bridge's cached OpenID configuration, fetching it from
// {bridge.IDP}/.well-known/openid-configuration on first need. Concurrent
// first-time callers may each perform a fetch; all converge on whichever
// result is stored last, and a fetch error is never cached so the next
// caller retries.
func Get(bridge *config.Bridge, client *http.Client) (*config.IdpConfiguration, error) {
	bridge.IdpMu.RLock()
	cached := bridge.IdpConfiguration
	bridge.IdpMu.RUnlock()

	if cached != nil {
		return cached, nil
	}

	fetched, err := fetch(bridge.IDP, client)
	if err != nil {
		return nil, apierror.Wrap(err, "fetching IDP configuration")
	}

	bridge.IdpMu.Lock()
	bridge.IdpConfiguration = fetched
	bridge.IdpMu.Unlock()

	logger.Info("loaded IDP configuration", logger.Ctx{"bridge": bridge.ID})

	return fetched, nil
}

func fetch(idp string, client *http.Client) (*config.IdpConfiguration, error) {
	url := idp + "/.well-known/openid-configuration"

	resp, err := client.Get(url)
	if err != nil {
		return nil, apierror.New(apierror.BadGateway)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), fmt.Sprintf("IDP metadata fetch returned status %d", resp.StatusCode))
	}

	var meta config.IdpConfiguration
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, apierror.Wrap(apierror.New(apierror.BadGateway), "decoding IDP metadata")
	}

	return &meta, nil
}
