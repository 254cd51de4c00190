package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 44-character base64 string, as produced by `openssl rand -base64 32`
const testSecret = "wJ6Qk8Qn1v9Qw1Zb2l8Qk9J3p6Qk8Qn1v9Qw1Zb2l8Qk="

func signClaims(t *testing.T, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func TestGenerateAndAuthenticate(t *testing.T) {
	svc := NewJWTService(Options{Secret: testSecret})

	tests := []struct {
		name    string
		userID  string
		wantErr error
	}{
		{"valid user", "user-123", nil},
		{"empty user", "", ErrEmptyUserID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := svc.GenerateAccessToken(tt.userID)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GenerateAccessToken() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			userID, err := svc.Authenticate(token)
			if err != nil {
				t.Fatalf("Authenticate() error = %v", err)
			}
			if userID != tt.userID {
				t.Errorf("Authenticate() = %q, want %q", userID, tt.userID)
			}
		})
	}
}

func TestTokenClaims(t *testing.T) {
	svc := NewJWTService(Options{Secret: testSecret})

	tests := []struct {
		name   string
		gen    func(string) (string, error)
		typ    string
		expiry time.Duration
	}{
		{"access", svc.GenerateAccessToken, TokenTypeAccess, AccessTokenExpiry},
		{"refresh", svc.GenerateRefreshToken, TokenTypeRefresh, RefreshTokenExpiry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := time.Now().Add(-time.Second)
			token, err := tt.gen("user-456")
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			after := time.Now().Add(time.Second)

			claims, err := svc.ValidateToken(token)
			if err != nil {
				t.Fatalf("ValidateToken() error = %v", err)
			}
			if claims.Subject != "user-456" || claims.Issuer != Issuer || claims.Type != tt.typ {
				t.Errorf("claims = %+v", claims)
			}
			if claims.IssuedAt == nil || claims.IssuedAt.Before(before) || claims.IssuedAt.After(after) {
				t.Errorf("IssuedAt = %v, want between %v and %v", claims.IssuedAt, before, after)
			}
			if claims.ExpiresAt == nil || !claims.ExpiresAt.Time.Equal(claims.IssuedAt.Add(tt.expiry)) {
				t.Errorf("ExpiresAt = %v, want IssuedAt+%s", claims.ExpiresAt, tt.expiry)
			}
		})
	}
}

func TestAuthenticate_RejectsRefreshToken(t *testing.T) {
	svc := NewJWTService(Options{Secret: testSecret})
	token, err := svc.GenerateRefreshToken("user-1")
	if err != nil {
		t.Fatalf("GenerateRefreshToken() error = %v", err)
	}
	if _, err := svc.Authenticate(token); !errors.Is(err, ErrWrongTokenType) {
		t.Errorf("Authenticate() error = %v, want %v", err, ErrWrongTokenType)
	}
}

func TestValidateToken_Failures(t *testing.T) {
	svc := NewJWTService(Options{Secret: testSecret, Leeway: -1})
	now := time.Now()

	valid, err := svc.GenerateAccessToken("user-123")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	parts := strings.Split(valid, ".")

	tests := []struct {
		name  string
		token string
		want  error
	}{
		{
			name: "expired",
			token: signClaims(t, testSecret, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    Issuer,
					Subject:   "user-expired",
					IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
					ExpiresAt: jwt.NewNumericDate(now.Add(-time.Hour)),
				},
				Type: TokenTypeAccess,
			}),
			want: ErrExpiredToken,
		},
		{
			name:  "tampered signature",
			token: parts[0] + "." + parts[1] + ".tamperedsignature",
			want:  ErrInvalidToken,
		},
		{
			name: "foreign issuer",
			token: signClaims(t, testSecret, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    "someone-else",
					Subject:   "user-123",
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				Type: TokenTypeAccess,
			}),
			want: ErrInvalidToken,
		},
		{
			name: "missing subject",
			token: signClaims(t, testSecret, Claims{
				RegisteredClaims: jwt.RegisteredClaims{
					Issuer:    Issuer,
					ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
				},
				Type: TokenTypeAccess,
			}),
			want: ErrInvalidToken,
		},
		{
			name:  "wrong secret",
			token: signClaims(t, "another-secret", Claims{RegisteredClaims: jwt.RegisteredClaims{Issuer: Issuer, Subject: "u"}}),
			want:  ErrInvalidToken,
		},
		{name: "garbage", token: "not-a-token", want: ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.ValidateToken(tt.token); !errors.Is(err, tt.want) {
				t.Errorf("ValidateToken() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLeewayValidation(t *testing.T) {
	now := time.Now()
	token := signClaims(t, testSecret, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   "user-leeway",
			IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
			ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
		},
		Type: TokenTypeAccess,
	})

	if _, err := NewJWTService(Options{Secret: testSecret}).ValidateToken(token); err != nil {
		t.Errorf("default leeway: error = %v, want nil", err)
	}
	if _, err := NewJWTService(Options{Secret: testSecret, Leeway: -1}).ValidateToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("no leeway: error = %v, want %v", err, ErrExpiredToken)
	}
}

func TestKeyRotation(t *testing.T) {
	const current = "current-secret-key-12345678"
	const previous = "previous-secret-key-87654321"
	rotating := NewJWTService(Options{Secret: current, PreviousSecret: previous})

	oldToken, err := NewJWTService(Options{Secret: previous}).GenerateAccessToken("user-456")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if userID, err := rotating.Authenticate(oldToken); err != nil || userID != "user-456" {
		t.Errorf("old token: %q, %v", userID, err)
	}

	newToken, err := rotating.GenerateAccessToken("user-789")
	if err != nil {
		t.Fatalf("GenerateAccessToken() error = %v", err)
	}
	if _, err := NewJWTService(Options{Secret: current}).ValidateToken(newToken); err != nil {
		t.Errorf("new token must be signed with the current secret: %v", err)
	}
	if _, err := NewJWTService(Options{Secret: previous}).ValidateToken(newToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("previous-only validation error = %v, want %v", err, ErrInvalidToken)
	}

	strangerToken, _ := NewJWTService(Options{Secret: "wrong-secret-key-99999999"}).GenerateAccessToken("user-x")
	if _, err := rotating.ValidateToken(strangerToken); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("stranger token error = %v, want %v", err, ErrInvalidToken)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", true},
		{"bearer   abc", "abc", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"Bearer ", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := BearerToken(tt.header)
		if got != tt.want || ok != tt.ok {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}
