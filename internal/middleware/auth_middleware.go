package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/captioncrafter/entitlement-service/internal/config"
	"github.com/captioncrafter/entitlement-service/pkg/logger"
	"github.com/captioncrafter/entitlement-service/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextUserIDKey ключ для хранения ID пользователя в контексте Gin.
	ContextUserIDKey ContextKey = "userID"
	authHeaderPrefix            = "Bearer "
)

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

type TokenClaims struct {
	UserEmail string `json:"email"`
	Scope     string `json:"scope"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	cfg       *config.Config
	log       *logger.Logger
	validator TokenValidator
}

func NewJWTMiddleware(cfg *config.Config, log *logger.Logger, validator TokenValidator) *JWTMiddleware {
	return &JWTMiddleware{
		cfg:       cfg,
		log:       log,
		validator: validator,
	}
}

func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if len(requiredScopes) > 0 && !m.hasRequiredScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "Insufficient token permissions")
			return
		}

		// Subject токена - числовой ID пользователя
		userID, err := strconv.ParseInt(claims.Subject, 10, 64)
		if err != nil || userID <= 0 {
			m.handleAuthError(c, "User ID (sub) missing or invalid in token")
			return
		}

		c.Set(string(ContextUserIDKey), userID)
		m.log.Debugw("User authenticated via HTTP", "userID", userID)
		c.Next()
	}
}

func (m *JWTMiddleware) hasRequiredScope(tokenScope string, requiredScopes []string) bool {
	if len(requiredScopes) == 0 {
		return true
	}
	for _, scope := range requiredScopes {
		if tokenScope == scope {
			return true
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: http.StatusUnauthorized,
	}, http.StatusUnauthorized)
	c.Abort()
}

// DefaultTokenValidator - реализация валидатора по умолчанию.
type DefaultTokenValidator struct {
	Secret []byte
}

func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, errors.New("malformed token")
		} else if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, errors.New("invalid token signature")
		} else if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, errors.New("token expired")
		} else {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
