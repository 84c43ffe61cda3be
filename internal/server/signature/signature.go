// Package signature authenticates write-job deliveries. A delivery carries
// an HS256 JWT in the Upstash-Signature header whose "body" claim is the
// base64url SHA-256 of the exact request body. Two keys are accepted so the
// sending side can rotate keys without a synchronized cutover.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the iss claim every delivery token must carry.
const Issuer = "Upstash"

// Claims are the registered claims plus the body digest.
type Claims struct {
	jwt.RegisteredClaims
	Body string `json:"body"`
}

// BodyHash returns the unpadded base64url SHA-256 of body.
func BodyHash(body []byte) string {
	sum := sha256.Sum256(body)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Verifier checks delivery signatures against a current and a next key.
type Verifier struct {
	current []byte
	next    []byte
	leeway  time.Duration
	now     func() time.Time
}

func NewVerifier(currentKey, nextKey string) *Verifier {
	return &Verifier{
		current: []byte(currentKey),
		next:    []byte(nextKey),
		leeway:  time.Second,
		now:     time.Now,
	}
}

// Verify reports whether header is a valid token for body under either key.
// It never returns an error; any failure is false.
func (v *Verifier) Verify(header string, body []byte) bool {
	if header == "" {
		return false
	}
	for _, key := range [][]byte{v.current, v.next} {
		if len(key) > 0 && v.verifyWith(key, header, body) {
			return true
		}
	}
	return false
}

func (v *Verifier) verifyWith(key []byte, tokenString string, body []byte) bool {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || !token.Valid {
		return false
	}

	got := strings.TrimRight(claims.Body, "=")
	return hmac.Equal([]byte(got), []byte(BodyHash(body)))
}

// Signer produces delivery tokens. It is used by channels that do not sign
// on their own (NATS) and by tests.
type Signer struct {
	key      []byte
	validity time.Duration
	now      func() time.Time
}

func NewSigner(key string) *Signer {
	return &Signer{key: []byte(key), validity: 5 * time.Minute, now: time.Now}
}

// WithValidity returns a copy of s issuing tokens valid for d.
func (s *Signer) WithValidity(d time.Duration) *Signer {
	c := *s
	c.validity = d
	return &c
}

// Sign returns a token binding subject (the callback URL) to body.
func (s *Signer) Sign(subject string, body []byte) (string, error) {
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.validity)),
			ID:        uuid.NewString(),
		},
		Body: BodyHash(body),
	})

	return token.SignedString(s.key)
}
