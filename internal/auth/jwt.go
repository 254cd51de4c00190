// Package auth issues and validates the bearer tokens that identify feed users.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Issuer is stamped on every token and required on validation.
const Issuer = "tripfeed"

// Token type constants for the typ claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

// Token expiration durations.
const (
	AccessTokenExpiry  = 15 * time.Minute
	RefreshTokenExpiry = 7 * 24 * time.Hour
)

// DefaultLeeway is the clock skew tolerated during validation.
const DefaultLeeway = 30 * time.Second

var (
	// ErrInvalidToken is returned when token validation fails.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("token has expired")
	// ErrEmptyUserID is returned when a token is requested for an empty user.
	ErrEmptyUserID = errors.New("userID cannot be empty")
	// ErrWrongTokenType is returned when a refresh token is presented as a bearer.
	ErrWrongTokenType = errors.New("wrong token type")
)

// Claims are the JWT claims carried by tripfeed tokens. Subject is the user ID.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// Options configures a JWTService.
type Options struct {
	Secret string
	// PreviousSecret still validates tokens during a secret rotation.
	PreviousSecret string
	// Leeway of zero uses DefaultLeeway; a negative value disables it.
	Leeway time.Duration
}

// JWTService signs tokens with the current secret and validates them against
// the current or previous one.
type JWTService struct {
	secrets [][]byte
	leeway  time.Duration
	now     func() time.Time
}

// NewJWTService creates a JWTService.
func NewJWTService(opts Options) *JWTService {
	s := &JWTService{
		secrets: [][]byte{[]byte(opts.Secret)},
		leeway:  opts.Leeway,
		now:     time.Now,
	}
	if opts.PreviousSecret != "" {
		s.secrets = append(s.secrets, []byte(opts.PreviousSecret))
	}
	switch {
	case s.leeway == 0:
		s.leeway = DefaultLeeway
	case s.leeway < 0:
		s.leeway = 0
	}
	return s
}

// GenerateAccessToken creates a short-lived bearer token for userID.
func (s *JWTService) GenerateAccessToken(userID string) (string, error) {
	return s.sign(userID, TokenTypeAccess, AccessTokenExpiry)
}

// GenerateRefreshToken creates a long-lived refresh token for userID.
func (s *JWTService) GenerateRefreshToken(userID string) (string, error) {
	return s.sign(userID, TokenTypeRefresh, RefreshTokenExpiry)
}

func (s *JWTService) sign(userID, typ string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", ErrEmptyUserID
	}
	now := s.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secrets[0])
}

// ValidateToken parses and validates a token, returning its claims.
func (s *JWTService) ValidateToken(tokenString string) (*Claims, error) {
	var lastErr error
	for _, secret := range s.secrets {
		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, ErrInvalidToken
			}
			return secret, nil
		},
			jwt.WithLeeway(s.leeway),
			jwt.WithIssuer(Issuer),
			jwt.WithTimeFunc(s.now),
		)
		if err == nil {
			if claims, ok := token.Claims.(*Claims); ok && token.Valid && claims.Subject != "" {
				return claims, nil
			}
			return nil, ErrInvalidToken
		}
		lastErr = err
		// An expired token would be expired under every secret.
		if errors.Is(err, jwt.ErrTokenExpired) {
			break
		}
	}

	if errors.Is(lastErr, jwt.ErrTokenExpired) {
		return nil, ErrExpiredToken
	}
	return nil, ErrInvalidToken
}

// Authenticate validates a bearer token and returns its user ID.
func (s *JWTService) Authenticate(tokenString string) (string, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	if claims.Type != TokenTypeAccess {
		return "", ErrWrongTokenType
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
