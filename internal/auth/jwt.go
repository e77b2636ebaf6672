package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/work-manager-team/Work-Management-sub001/internal/cache"
)

var (
	// ErrInvalidToken covers a missing, malformed or badly signed token and
	// tokens without a usable subject.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token's exp claim has passed.
	ErrExpiredToken = errors.New("token expired")
)

// Claims are the JWT claims issued by the REST API. The user is taken from
// UserID when present, otherwise from the registered subject.
type Claims struct {
	UserID *int64 `json:"userId,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Options configure a Verifier.
type Options struct {
	Secret   []byte
	Issuer   string
	Audience string
	// CacheTTL bounds how long a successful verification is memoised.
	// Zero disables the cache.
	CacheTTL time.Duration
}

// Verifier checks HS256 bearer tokens against a shared secret.
type Verifier struct {
	opts   Options
	parser *jwt.Parser
	cache  cache.Cache[string, int64]
}

const maxCachedTokens = 10000

// NewVerifier builds a Verifier.
func NewVerifier(opts Options) *Verifier {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(opts.Audience))
	}

	v := &Verifier{
		opts:   opts,
		parser: jwt.NewParser(parserOpts...),
	}
	if opts.CacheTTL > 0 {
		v.cache = cache.NewTTL[string, int64](maxCachedTokens)
	}
	return v
}

// Verify validates the token and returns the user it was issued for.
func (v *Verifier) Verify(token string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrInvalidToken
	}
	if v.cache != nil {
		if userID, ok := v.cache.Get(token); ok {
			return userID, nil
		}
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return v.opts.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrExpiredToken
		}
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := subject(claims)
	if err != nil {
		return 0, err
	}

	if v.cache != nil && claims.ExpiresAt != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl > v.opts.CacheTTL {
			ttl = v.opts.CacheTTL
		}
		v.cache.Set(token, userID, ttl)
	}
	return userID, nil
}

func subject(claims *Claims) (int64, error) {
	if claims.UserID != nil {
		if *claims.UserID <= 0 {
			return 0, fmt.Errorf("%w: non-positive userId claim", ErrInvalidToken)
		}
		return *claims.UserID, nil
	}
	if claims.Subject == "" {
		return 0, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: subject %q is not a user id", ErrInvalidToken, claims.Subject)
	}
	return id, nil
}

// TokenFromRequest extracts a bearer token from a handshake request.
// Browsers cannot set headers on WebSocket upgrades, so the token and
// access_token query parameters are accepted as well.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	q := r.URL.Query()
	if t := q.Get("token"); t != "" {
		return t
	}
	return q.Get("access_token")
}

// Signer issues tokens the Verifier accepts. The REST API owns issuance in
// production; this is used by tests and cmd/devtoken.
type Signer struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// Sign returns an HS256 token for userID that expires after ttl.
func (s Signer) Sign(userID int64, ttl time.Duration) (string, error) {
	issuedAt := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		NotBefore: jwt.NewNumericDate(issuedAt.Add(-time.Minute)),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(ttl)),
		Issuer:    s.Issuer,
	}
	if s.Audience != "" {
		claims.Audience = jwt.ClaimStrings{s.Audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}
