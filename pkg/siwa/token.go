package siwa

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"golang.org/x/crypto/hkdf"
)

// Token types carried in the JWS "typ" header. A nonce token can never be
// accepted as a receipt and vice versa.
const (
	TypeNonce   = "siwa-nonce+jws"
	TypeReceipt = "siwa-receipt+jws"
)

var (
	errTokenMalformed = errors.New("token is malformed")
	errTokenSignature = errors.New("token signature is invalid")
	errTokenType      = errors.New("token type mismatch")
)

// deriveKey derives a 256-bit HMAC key for one token purpose from the server secret.
func deriveKey(secret []byte, purpose string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte("siwa/"+purpose))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive %s key: %w", purpose, err)
	}
	return key, nil
}

// tokenCodec signs and opens HS256 compact JWS tokens of one type.
type tokenCodec struct {
	key []byte
	typ string
}

func newTokenCodec(secret []byte, typ string) (*tokenCodec, error) {
	if len(secret) == 0 {
		return nil, ErrServerMisconfigured
	}
	key, err := deriveKey(secret, typ)
	if err != nil {
		return nil, err
	}
	return &tokenCodec{key: key, typ: typ}, nil
}

func (c *tokenCodec) sign(claims interface{}) (string, error) {
	opts := (&jose.SignerOptions{}).WithType(jose.ContentType(c.typ))
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: c.key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("failed to marshal claims: %w", err)
	}

	jwsObj, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}

	token, err := jwsObj.CompactSerialize()
	if err != nil {
		return "", fmt.Errorf("failed to serialize JWS: %w", err)
	}
	return token, nil
}

func (c *tokenCodec) open(token string, claims interface{}) error {
	if err := checkCanonical(token); err != nil {
		return err
	}

	jwsObj, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return fmt.Errorf("%w: %v", errTokenMalformed, err)
	}
	if len(jwsObj.Signatures) != 1 {
		return fmt.Errorf("%w: expected one signature", errTokenMalformed)
	}

	payload, err := jwsObj.Verify(c.key)
	if err != nil {
		return errTokenSignature
	}

	typ, _ := jwsObj.Signatures[0].Header.ExtraHeaders[jose.HeaderType].(string)
	if typ != c.typ {
		return fmt.Errorf("%w: got %q", errTokenType, typ)
	}

	if err := json.Unmarshal(payload, claims); err != nil {
		return fmt.Errorf("%w: %v", errTokenMalformed, err)
	}
	return nil
}

// checkCanonical rejects compact tokens whose segments are not canonical
// unpadded base64url. go-jose decodes leniently, which would let the unused
// trailing bits of a segment change without invalidating the MAC.
func checkCanonical(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("%w: expected 3 segments, got %d", errTokenMalformed, len(parts))
	}
	for _, p := range parts {
		if p == "" || strings.ContainsAny(p, "\r\n") {
			return fmt.Errorf("%w: invalid segment", errTokenMalformed)
		}
		if _, err := base64.RawURLEncoding.Strict().DecodeString(p); err != nil {
			return fmt.Errorf("%w: %v", errTokenMalformed, err)
		}
	}
	return nil
}
