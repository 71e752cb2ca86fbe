package utils // package utils provides helper functions for token creation and hashing

import (
	"crypto/rand"   // secure random number generation
	"crypto/sha256" // SHA‑256 hashing for refresh tokens
	"encoding/hex"  // hex encoding and decoding functions
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating signed tokens
)

// TokenTypeAccess is stamped into every access token so that no other
// signed token can be replayed as one.
const TokenTypeAccess = "access"

// refreshTokenBytes is the amount of entropy in a raw refresh token.
const refreshTokenBytes = 64

// exp is encoded with fractional seconds so that a token expires exactly
// ttl after it was issued.  Microseconds rather than milliseconds: the
// decoder goes through float64, which can land just below a millisecond
// mark and would then truncate a whole millisecond away.
func init() {
	jwt.TimePrecision = time.Microsecond
}

var (
	ErrTokenExpired   = errors.New("token expired")
	ErrTokenMalformed = errors.New("token malformed")
	ErrWrongTokenType = errors.New("wrong token type")
)

// AccessToken represents a signed JWT access token along with its expiry.
// The Token field contains the JWT string.  Exp stores the expiration
// timestamp.  Access tokens are short‑lived and sent in the Authorization
// header when calling protected endpoints.
type AccessToken struct {
	Token string    // the serialized JWT string
	Exp   time.Time // the UTC expiration time
}

type accessClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies HS256 access tokens.  It holds no state
// besides the secret and the clock, so a single value is shared by every
// request.
type TokenCodec struct {
	secret []byte
	now    func() time.Time
}

// NewTokenCodec returns a codec signing with secret.  A nil clock defaults
// to time.Now.
func NewTokenCodec(secret string, now func() time.Time) *TokenCodec {
	if now == nil {
		now = time.Now
	}
	return &TokenCodec{secret: []byte(secret), now: now}
}

// IssueAccess builds and signs an access token for userID that expires
// ttl from now.  The JWT carries sub, type, iat and exp.
func (c *TokenCodec) IssueAccess(userID uint64, ttl time.Duration) (AccessToken, error) {
	now := c.now().UTC()
	exp := now.Add(ttl)
	claims := accessClaims{
		Type: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return AccessToken{}, err
	}
	// exp is reported at the precision it was encoded with
	return AccessToken{Token: signed, Exp: claims.ExpiresAt.Time.UTC()}, nil
}

// VerifyAccess checks the signature, expiry and type of raw and returns the
// user id it was issued for.  The error is one of ErrTokenExpired,
// ErrTokenMalformed or ErrWrongTokenType.
func (c *TokenCodec) VerifyAccess(raw string) (uint64, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	)
	var claims accessClaims
	_, err := parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrTokenMalformed
	}
	if claims.Type != TokenTypeAccess {
		return 0, ErrWrongTokenType
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrTokenMalformed
	}
	return id, nil
}

// NewRefreshToken returns a cryptographically secure random opaque token.
// It is not signed and cannot be decoded; only HashRefreshRaw of it is
// persisted.
func NewRefreshToken() (string, error) {
	return randomHex(refreshTokenBytes) // 64 bytes -> 128 hex chars
}

// HashRefreshRaw returns the SHA‑256 hash of the raw refresh token as a hex
// string.  Storing only the hash in the database prevents attackers from
// using stolen database entries to refresh sessions.
func HashRefreshRaw(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// randomHex returns a hex‑encoded string generated from n bytes of
// cryptographically secure random data.
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
