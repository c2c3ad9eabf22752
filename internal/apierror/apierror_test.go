package apierror

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, Unauthorized.status())
	assert.Equal(t, http.StatusUnauthorized, NotLoggedIn.status())
	assert.Equal(t, http.StatusUnauthorized, UnknownRedirect.status())
	assert.Equal(t, http.StatusBadGateway, BadGateway.status())
	assert.Equal(t, http.StatusInternalServerError, Internal.status())
}

func TestWrapPreservesInnermostKind(t *testing.T) {
	err := New(Unauthorized)
	wrapped := Wrap(err, "decoding cookie")
	wrapped = Wrap(wrapped, "handling login2")

	assert.Equal(t, Unauthorized, wrapped.Kind())
	assert.Equal(t, http.StatusUnauthorized, wrapped.Status())
}

func TestWrapNonApierrorBecomesInternal(t *testing.T) {
	plain := assert.AnError
	wrapped := Wrap(plain, "reading config file")

	assert.Equal(t, Internal, wrapped.Kind())
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(nil, "anything"))
}

func TestChainOrderOutermostToInnermost(t *testing.T) {
	err := New(Unauthorized)
	err = Wrap(err, "unknown key")
	err = Wrap(err, "decoding session cookie")

	chain := err.chain()
	require.Len(t, chain, 3)
	assert.Equal(t, "decoding session cookie", chain[0])
	assert.Equal(t, "unknown key", chain[1])
	assert.Equal(t, Unauthorized.String(), chain[2])
}

func TestRespondExposeErrorsTrueIncludesChain(t *testing.T) {
	err := Wrap(New(BadGateway), "calling upstream")

	w := httptest.NewRecorder()
	Respond(w, err, true)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"status":502,"error":"calling upstream","details":["BadGateway"]}`, w.Body.String())
}

func TestRespondExposeErrorsFalseHidesDetails(t *testing.T) {
	err := Wrap(New(Unauthorized), "nonce mismatch")

	w := httptest.NewRecorder()
	Respond(w, err, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "{}", w.Body.String())
}
