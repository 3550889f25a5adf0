package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	authorizationHeader = "Authorization"

	UserIDKey   = "userID"
	UserNameKey = "userName"
	RoleKey     = "role"
)

// AuthMiddleware verifies the bearer token and stores the caller's identity in
// the gin context. Browsers cannot set headers on websocket upgrades, so a
// token query parameter is accepted as well.
func AuthMiddleware(jwtSecret string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			log.Warn("auth middleware: missing or malformed auth header")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid auth header format",
			})
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		}, jwt.WithExpirationRequired())
		if err != nil {
			log.Warn("auth middleware: failed to parse token", slog.Any("error", err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token",
			})
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok || !token.Valid {
			log.Warn("auth middleware: token is not valid or claims are corrupted")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "token is not valid",
			})
			return
		}

		userID, err := claims.GetSubject()
		if err != nil || userID == "" {
			log.Warn("auth middleware: 'sub' claim is missing or not a string")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token payload",
			})
			return
		}

		userName, ok := claims["name"].(string)
		if !ok {
			log.Warn("auth middleware: 'name' claim is missing or not a string")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token payload",
			})
			return
		}

		role, _ := claims["role"].(string)

		c.Set(UserIDKey, userID)
		c.Set(UserNameKey, userName)
		c.Set(RoleKey, role)
		c.Next()
	}
}

// RequireRole rejects callers whose token does not carry role. It must run
// after AuthMiddleware.
func RequireRole(role string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(RoleKey) != role {
			log.Warn("access denied", "userID", c.GetString(UserIDKey), "required_role", role)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "forbidden",
			})
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader(authorizationHeader)
	if header == "" {
		token := c.Query("token")
		return token, token != ""
	}

	headerParts := strings.Split(header, " ")
	if len(headerParts) != 2 || headerParts[0] != "Bearer" || headerParts[1] == "" {
		return "", false
	}
	return headerParts[1], true
}
