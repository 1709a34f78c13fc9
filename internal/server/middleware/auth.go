package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/iudanet/decksync/internal/server/handlers"
)

// bearerToken извлекает токен из заголовка "Authorization: Bearer <token>"
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}

	return strings.TrimSpace(token), true
}

// AuthMiddleware создает middleware для проверки JWT токена
// user_id из токена становится principal запроса
func AuthMiddleware(logger *slog.Logger, jwtConfig handlers.JWTConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				logger.Warn("Missing Authorization header", "path", r.URL.Path)
				writeJSONError(w, "missing token", http.StatusUnauthorized)
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				// Сам заголовок не логируем: в нем может быть секрет
				logger.Warn("Invalid Authorization header format", "path", r.URL.Path)
				writeJSONError(w, "invalid token format", http.StatusUnauthorized)
				return
			}

			claims, err := handlers.ValidateAccessToken(jwtConfig, tokenString)
			if err != nil {
				logger.Warn("Invalid access token", "error", err)
				writeJSONError(w, "invalid token", http.StatusUnauthorized)
				return
			}

			logger.Debug("User authenticated", "user_id", claims.UserID)

			next.ServeHTTP(w, r.WithContext(handlers.WithUserID(r.Context(), claims.UserID)))
		})
	}
}
