package middleware

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/onnwee/tripfeed/internal/auth"
)

// Authenticator resolves a bearer token to a user ID.
type Authenticator interface {
	Authenticate(token string) (string, error)
}

// Auth is a middleware that resolves the Authorization bearer token into a
// user ID on the request context. With required=false a request without a
// token passes through as anonymous; a token that is present but invalid is
// rejected either way.
func Auth(a Authenticator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				if required {
					writeError(w, r, http.StatusUnauthorized, "auth_failed", "Authentication required")
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			token, ok := auth.BearerToken(header)
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "auth_failed", "Malformed Authorization header")
				return
			}
			userID, err := a.Authenticate(token)
			if err != nil {
				msg := "Invalid token"
				if errors.Is(err, auth.ErrExpiredToken) {
					msg = "Token has expired"
				}
				writeError(w, r, http.StatusUnauthorized, "auth_failed", msg)
				return
			}

			ctx := SetUserID(r.Context(), userID)
			UpdateResponseContext(w, ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError writes the API error envelope from inside middleware, which
// cannot depend on the api package.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	UpdateResponseContext(w, SetErrorCode(r.Context(), code))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body, _ := json.Marshal(errorBody{Error: errorDetail{Code: code, Message: message}})
	_, _ = w.Write(body)
}
