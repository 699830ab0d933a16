package accounts

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
)

// EnvelopeCodec seals and opens gateway request envelopes: a signed JWT
// carrying the request payload, wrapped in AES-256-GCM unless encryption is
// disabled for local development.
//
// The JWT signature is always verified; its registered claims (expiry,
// issuer) are not. Ticket lifetime is enforced downstream by the service
// that issued the ticket, not by the transport envelope.
type EnvelopeCodec struct {
	signingKey    []byte
	encryptionKey []byte
	encryption    bool
	logger        Logger
}

type envelopeClaims struct {
	jwt.RegisteredClaims
	Data json.RawMessage `json:"data"`
}

// EnvelopeOption customizes codec construction.
type EnvelopeOption func(*EnvelopeCodec)

// WithEnvelopeLogger overrides the logger.
func WithEnvelopeLogger(logger Logger) EnvelopeOption {
	return func(c *EnvelopeCodec) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewEnvelopeCodec builds a codec from gateway configuration. The
// encryption key is folded through SHA-256 so any secret length yields a
// valid AES-256 key.
func NewEnvelopeCodec(cfg Config, opts ...EnvelopeOption) *EnvelopeCodec {
	key := sha256.Sum256([]byte(cfg.GetEncryptionKey()))
	c := &EnvelopeCodec{
		signingKey:    []byte(cfg.GetSigningKey()),
		encryptionKey: key[:],
		encryption:    !cfg.GetEncryptionDisabled(),
		logger:        defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Seal signs the payload and, when encryption is enabled, encrypts the
// compact JWT. Used by gateway clients and tests.
func (c *EnvelopeCodec) Seal(payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to encode envelope payload")
	}

	claims := &envelopeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
		Data: data,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to sign envelope")
	}

	if !c.encryption {
		return signed, nil
	}
	return c.encrypt([]byte(signed))
}

// Open decrypts and verifies an envelope, unmarshaling the payload into
// out. Every failure mode collapses into the same authentication error so
// callers cannot probe the envelope format.
func (c *EnvelopeCodec) Open(raw string, out any) error {
	compact := raw
	if c.encryption {
		plaintext, err := c.decrypt(raw)
		if err != nil {
			c.logger.Warn("envelope decrypt failed: %v", err)
			return ErrAuthenticationFailed
		}
		compact = string(plaintext)
	}

	claims := &envelopeClaims{}
	token, err := jwt.ParseWithClaims(compact, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.signingKey, nil
	}, jwt.WithoutClaimsValidation())

	if err != nil || !token.Valid {
		c.logger.Warn("envelope signature verification failed: %v", err)
		return ErrAuthenticationFailed
	}

	if err := json.Unmarshal(claims.Data, out); err != nil {
		c.logger.Warn("envelope payload decode failed: %v", err)
		return ErrAuthenticationFailed
	}

	return nil
}

func (c *EnvelopeCodec) encrypt(plaintext []byte) (string, error) {
	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to initialize cipher")
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to initialize GCM")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to generate nonce")
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

func (c *EnvelopeCodec) decrypt(raw string) ([]byte, error) {
	sealed, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(c.encryptionKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, fmt.Errorf("envelope too short")
	}

	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}
