package middleware

import (
	"errors"
	"strings"

	"github.com/GuoMonth/trading-view/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// abortWithCode stops the chain and writes an error envelope
func abortWithCode(c *gin.Context, code model.Code, message string) {
	c.AbortWithStatusJSON(code.HTTPStatus(), model.FailureWithMessage[any](code, message))
}

// AuthMiddleware authenticates bearer access tokens signed with secret
func AuthMiddleware(secret string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWithCode(c, model.CodeUnauthorized, "Authorization header required")
			return
		}

		headerParts := strings.Split(authHeader, " ")
		if len(headerParts) != 2 || headerParts[0] != "Bearer" {
			abortWithCode(c, model.CodeUnauthorized, "Invalid authorization format")
			return
		}

		userID, err := ValidateToken(headerParts[1], secret)
		if err != nil {
			logger.Debug("token validation failed", zap.Error(err))
			abortWithCode(c, model.CodeUnauthorized, "Invalid or expired token")
			return
		}

		c.Set("userID", userID)
		c.Next()
	}
}

// ValidateToken checks an HMAC signed access token and returns its subject
func ValidateToken(tokenString, secret string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}

	if !token.Valid {
		return 0, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid claims")
	}

	tokenType, ok := claims["type"].(string)
	if !ok || tokenType != "access" {
		return 0, errors.New("invalid token type")
	}

	userIDFloat, ok := claims["sub"].(float64)
	if !ok {
		return 0, errors.New("invalid user ID in token")
	}

	return int(userIDFloat), nil
}

// ServiceAuthMiddleware authenticates service-to-service calls against a bcrypt hash of the shared key
func ServiceAuthMiddleware(keyHash string, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		serviceKey := c.GetHeader("X-Service-Key")
		if serviceKey == "" {
			abortWithCode(c, model.CodeUnauthorized, "Service key required")
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(keyHash), []byte(serviceKey)); err != nil {
			logger.Warn("Invalid service key", zap.String("client_ip", c.ClientIP()))
			abortWithCode(c, model.CodeUnauthorized, "Invalid service key")
			return
		}

		c.Next()
	}
}
