// Package cookie implements the generic session cookie codec: serialize
// (msgpack) -> compress (brotli) -> authenticated-encrypt (AES-256-GCM,
// internal/cryptoutil) -> base64, prefixed with a plaintext key-id that
// enables rotation. Shaped like lxd/auth/oidc/cookie.go's generic "bake and
// read back a typed cookie" helper sitting on top of a lower-level
// key/crypto package.
package cookie

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"io"
	"math/big"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/oidcgateway/bff/internal/apierror"
	"github.com/oidcgateway/bff/internal/config"
	"github.com/oidcgateway/bff/internal/cryptoutil"
)

// Name is the single cookie name used for both LoginCookie and
// SessionCookie payloads.
const Name = "bff-session"

// aad is the associated data bound into every cookie's AEAD tag.
const aad = Name

// Create serializes value and returns an *http.Cookie scoped to the given
// bridge, ready to be attached to a response via http.SetCookie. One of the
// bridge's config's active keys is chosen uniformly at random to mint it.
func Create[T any](cfg *config.Config, bridgeID string, value T, sameSite http.SameSite) (*http.Cookie, error) {
	keyID, key, err := pickActiveKey(cfg)
	if err != nil {
		return nil, err
	}

	body, err := msgpack.Marshal(value)
	if err != nil {
		return nil, apierror.Wrap(err, "serializing cookie value")
	}

	compressed, err := compress(body)
	if err != nil {
		return nil, apierror.Wrap(err, "compressing cookie value")
	}

	blob, err := cryptoutil.Encrypt(aad, compressed, key)
	if err != nil {
		return nil, apierror.Wrap(err, "encrypting cookie value")
	}

	encoded := base64.URLEncoding.EncodeToString([]byte(keyID)) + "." + base64.URLEncoding.EncodeToString(blob)

	return &http.Cookie{
		Name:     Name,
		Value:    encoded,
		Path:     "/bridge/" + bridgeID,
		HttpOnly: true,
		Secure:   true,
		SameSite: sameSite,
	}, nil
}

// Decode reads and authenticates the bff-session cookie from r, returning
// the deserialized value. Any structural, cryptographic, or decode failure
// collapses to apierror.Unauthorized.
func Decode[T any](r *http.Request, cfg *config.Config) (T, error) {
	var zero T

	c, err := r.Cookie(Name)
	if err != nil {
		return zero, apierror.New(apierror.Unauthorized)
	}

	encKeyID, encBody, found := strings.Cut(c.Value, ".")
	if !found {
		return zero, apierror.Wrap(apierror.New(apierror.Unauthorized), "malformed cookie")
	}

	rawKeyID, err := base64.URLEncoding.DecodeString(encKeyID)
	if err != nil {
		return zero, apierror.New(apierror.Unauthorized)
	}

	blob, err := base64.URLEncoding.DecodeString(encBody)
	if err != nil {
		return zero, apierror.New(apierror.Unauthorized)
	}

	key, ok := cfg.Keys[string(rawKeyID)]
	if !ok {
		return zero, apierror.Wrap(apierror.New(apierror.Unauthorized), "unknown key")
	}

	compressed, err := cryptoutil.Decrypt(aad, blob, key.Value)
	if err != nil {
		return zero, err
	}

	body, err := decompress(compressed)
	if err != nil {
		return zero, apierror.Wrap(apierror.New(apierror.Unauthorized), "decompressing cookie value")
	}

	var value T
	if err := msgpack.Unmarshal(body, &value); err != nil {
		return zero, apierror.Wrap(apierror.New(apierror.Unauthorized), "decoding cookie value")
	}

	return value, nil
}

// Clear returns an *http.Cookie that expires bff-session at the given
// bridge's path.
func Clear(bridgeID string) *http.Cookie {
	return &http.Cookie{
		Name:     Name,
		Value:    "",
		Path:     "/bridge/" + bridgeID,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	}
}

func pickActiveKey(cfg *config.Config) (string, []byte, error) {
	n := len(cfg.ActiveKeys)
	if n == 0 {
		return "", nil, apierror.New(apierror.Internal)
	}

	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return "", nil, apierror.New(apierror.Internal)
	}

	keyID := cfg.ActiveKeys[idx.Int64()]
	return keyID, cfg.Keys[keyID].Value, nil
}

func compress(plain []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := brotli.NewWriterOptions(&buf, brotli.WriterOptions{Quality: 11, LGWin: 22})
	if _, err := w.Write(plain); err != nil {
		return nil, err
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decompress(compressed []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(compressed))
	return io.ReadAll(r)
}
