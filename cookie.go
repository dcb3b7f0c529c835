package sessionstore

import (
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	signatureLength = 43 // RawURLEncoding of a SHA-256 MAC
	signedLength    = idLength + 1 + signatureLength
	sealedLength    = chacha20poly1305.NonceSizeX + idLength + chacha20poly1305.Overhead
)

var cookieEncoding = base64.RawURLEncoding.Strict()

type cookieKey struct {
	sign []byte
	aead cipher.AEAD
}

// CookieCodec turns session ids into cookie values and back, and builds the
// Set-Cookie directives for them.
type CookieCodec struct {
	name     string
	path     string
	domain   string
	secure   *bool
	httpOnly bool
	sameSite http.SameSite
	encrypt  bool
	keys     []cookieKey
}

// NewCookieCodec derives the signing and encryption keys from cfg.Keys.
func NewCookieCodec(cfg Config) (*CookieCodec, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sameSite, _ := parseSameSite(cfg.SameSite)

	c := &CookieCodec{
		name:     cfg.CookieName,
		path:     cfg.CookiePath,
		domain:   cfg.CookieDomain,
		secure:   cfg.Secure,
		httpOnly: true,
		sameSite: sameSite,
		encrypt:  cfg.EncryptCookies,
	}
	if cfg.HttpOnly != nil {
		c.httpOnly = *cfg.HttpOnly
	}

	// Browsers reject SameSite=None cookies without the Secure attribute.
	if c.sameSite == http.SameSiteNoneMode {
		secure := true
		c.secure = &secure
	}

	for _, secret := range cfg.Keys {
		k, err := deriveCookieKey(secret)
		if err != nil {
			return nil, err
		}
		c.keys = append(c.keys, k)
	}
	return c, nil
}

func deriveCookieKey(secret string) (cookieKey, error) {
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("sessionstore cookie v1"))

	sign := make([]byte, 32)
	if _, err := io.ReadFull(kdf, sign); err != nil {
		return cookieKey{}, fmt.Errorf("derive signing key: %w", err)
	}
	enc := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, enc); err != nil {
		return cookieKey{}, fmt.Errorf("derive encryption key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(enc)
	if err != nil {
		return cookieKey{}, err
	}
	return cookieKey{sign: sign, aead: aead}, nil
}

// Name returns the cookie name.
func (c *CookieCodec) Name() string {
	return c.name
}

// Encode produces the cookie value for id.
func (c *CookieCodec) Encode(id string) (string, error) {
	if !isValidID(id) {
		return "", ErrInvalidSessionID
	}
	switch {
	case len(c.keys) == 0:
		return id, nil
	case c.encrypt:
		return c.seal(id)
	default:
		return id + "." + c.signature(c.keys[0].sign, id), nil
	}
}

// Decode verifies a cookie value and returns the session id it carries.
func (c *CookieCodec) Decode(value string) (string, error) {
	if value == "" {
		return "", ErrCookieMissing
	}
	switch {
	case len(c.keys) == 0:
		if !isValidID(value) {
			return "", ErrCookieMalformed
		}
		return value, nil
	case c.encrypt:
		return c.open(value)
	default:
		return c.verify(value)
	}
}

func (c *CookieCodec) signature(key []byte, id string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(c.name))
	mac.Write([]byte{'|'})
	mac.Write([]byte(id))
	return cookieEncoding.EncodeToString(mac.Sum(nil))
}

func (c *CookieCodec) verify(value string) (string, error) {
	if len(value) != signedLength {
		return "", ErrCookieMalformed
	}
	id, sep, sig := value[:idLength], value[idLength], value[idLength+1:]

	// Once the length matches, every failure counts as tampering.
	if sep != '.' {
		return "", ErrCookieTampered
	}
	for _, k := range c.keys {
		expected := c.signature(k.sign, id)
		if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) == 1 {
			if !isValidID(id) {
				return "", ErrCookieMalformed
			}
			return id, nil
		}
	}
	return "", ErrCookieTampered
}

func (c *CookieCodec) seal(id string) (string, error) {
	aead := c.keys[0].aead
	nonce := make([]byte, aead.NonceSize(), sealedLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := aead.Seal(nonce, nonce, []byte(id), []byte(c.name))
	return cookieEncoding.EncodeToString(sealed), nil
}

func (c *CookieCodec) open(value string) (string, error) {
	if len(value) != cookieEncoding.EncodedLen(sealedLength) {
		return "", ErrCookieMalformed
	}
	sealed, err := cookieEncoding.DecodeString(value)
	if err != nil || len(sealed) != sealedLength {
		return "", ErrCookieTampered
	}
	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	for _, k := range c.keys {
		plain, err := k.aead.Open(nil, nonce, ciphertext, []byte(c.name))
		if err != nil {
			continue
		}
		id := string(plain)
		if !isValidID(id) {
			return "", ErrCookieMalformed
		}
		return id, nil
	}
	return "", ErrCookieTampered
}

func (c *CookieCodec) isSecure(r *http.Request) bool {
	if c.secure != nil {
		return *c.secure
	}
	return r != nil && r.TLS != nil
}

// Cookie builds the Set-Cookie directive carrying value until expiresAt.
func (c *CookieCodec) Cookie(value string, expiresAt, now time.Time, r *http.Request) *http.Cookie {
	maxAge := int(expiresAt.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		Domain:   c.domain,
		Expires:  expiresAt,
		MaxAge:   maxAge,
		HttpOnly: c.httpOnly,
		Secure:   c.isSecure(r),
		SameSite: c.sameSite,
	}
}

// RemovalCookie builds the directive that makes the client drop the cookie.
func (c *CookieCodec) RemovalCookie(r *http.Request) *http.Cookie {
	return &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		Domain:   c.domain,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: c.httpOnly,
		Secure:   c.isSecure(r),
		SameSite: c.sameSite,
	}
}
