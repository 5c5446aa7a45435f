package middleware

import (
	"net/http"
	"strings"
	"time"

	internaljwt "support-inbox-backend/internal/jwt"
)

func ValidateJWTMiddleware(role internaljwt.Role) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get("Authorization")
			if tokenString == "" {
				// Websocket clients cannot set headers from a browser, so
				// the token may also arrive as a query parameter.
				tokenString = r.URL.Query().Get("token")
			} else {
				tokenString = strings.TrimPrefix(tokenString, "Bearer ")
			}

			if tokenString == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := internaljwt.ParseToken(tokenString, role)
			if err != nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			expires, _ := claims["exp"].(float64)
			if expires != 0 && time.Now().Unix() > int64(expires) {
				http.Error(w, "Token expired", http.StatusUnauthorized)
				return
			}

			next(w, r)
		}
	}
}

var ValidateAgentJWT = ValidateJWTMiddleware(internaljwt.RoleAgent)
