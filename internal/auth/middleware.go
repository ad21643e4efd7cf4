package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxUserID    = "auth_user_id"
	ctxAuthToken = "auth_token"
)

// Middleware resolves the caller from the Authorization header, falling
// back to the auth cookie, and rejects the request when neither carries a
// valid token.
func (s *Service) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader(s.headerName))
		if token == "" {
			if fromCookie, err := c.Cookie(s.cookieName); err == nil {
				token = fromCookie
			}
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized - Please sign in"})
			return
		}
		userID, err := s.ValidateToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(ctxUserID, userID)
		c.Set(ctxAuthToken, token)
		c.Next()
	}
}

// UserIDFromContext returns the user id the middleware resolved.
func UserIDFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(ctxUserID)
	if !ok {
		return "", false
	}
	userID, ok := val.(string)
	return userID, ok
}

// AuthTokenFromContext returns the token the middleware accepted.
func AuthTokenFromContext(c *gin.Context) (string, bool) {
	val, ok := c.Get(ctxAuthToken)
	if !ok {
		return "", false
	}
	token, ok := val.(string)
	return token, ok
}

// bearerToken strips the Bearer scheme from an Authorization header value,
// returning "" when the header uses a different scheme or is empty.
func bearerToken(header string) string {
	const scheme = "bearer "
	if len(header) > len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
		return strings.TrimSpace(header[len(scheme):])
	}
	return ""
}
