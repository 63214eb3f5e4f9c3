package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/thereayou/convoy/pkg/auth"
)

const (
	UserIDKey      = "userID"
	DisplayNameKey = "displayName"
	TokenKey       = "token"
)

// AuthMiddleware проверяет JWT токен из заголовка Authorization
func AuthMiddleware(jwtManager *auth.JWTManager, blacklist *auth.Blacklist, log *logrus.Entry) gin.HandlerFunc {
	return authenticate(jwtManager, blacklist, log, func(c *gin.Context) string {
		token, err := auth.ExtractTokenFromHeader(c.Request)
		if err != nil {
			return ""
		}
		return token
	})
}

// WSAuthMiddleware специальный middleware для WebSocket: браузер не может передать заголовок, поэтому токен допускается в query
func WSAuthMiddleware(jwtManager *auth.JWTManager, blacklist *auth.Blacklist, log *logrus.Entry) gin.HandlerFunc {
	return authenticate(jwtManager, blacklist, log, func(c *gin.Context) string {
		if token := c.Query("token"); token != "" {
			return token
		}
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
		return ""
	})
}

func authenticate(jwtManager *auth.JWTManager, blacklist *auth.Blacklist, log *logrus.Entry, extract func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extract(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid token"})
			return
		}

		revoked, err := blacklist.IsRevoked(c.Request.Context(), token)
		if err != nil {
			log.WithError(err).Warn("Auth middleware: blacklist lookup failed")
		}
		if revoked {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is blacklisted"})
			return
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			log.WithError(err).Debug("Auth middleware: invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		userID, err := uuid.Parse(claims.Subject)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid user id"})
			return
		}

		c.Set(UserIDKey, userID)
		c.Set(DisplayNameKey, claims.Name)
		c.Set(TokenKey, token)
		c.Next()
	}
}
