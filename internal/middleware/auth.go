// Package middleware provides HTTP middleware for the public API.
package middleware

import (
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"

	"github.com/servimap/servimap/internal/app/domain/user"
	apperrors "github.com/servimap/servimap/internal/errors"
	"github.com/servimap/servimap/internal/httputil"
	"github.com/servimap/servimap/pkg/logger"
)

// TokenIssuer is the iss claim stamped on and required from API tokens.
const TokenIssuer = "servimap"

const signingKeyInfo = "servimap-jwt-signing-v1"

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// DeriveSigningKey expands the master key into the HS256 signing key.
func DeriveSigningKey(masterKey []byte) ([]byte, error) {
	if len(masterKey) < 16 {
		return nil, fmt.Errorf("master key must be at least 16 bytes, got %d", len(masterKey))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(signingKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("derive signing key: %w", err)
	}
	return key, nil
}

// IssueToken signs a token for userID with the given role and lifetime.
func IssueToken(signingKey []byte, userID string, role user.Role, ttl time.Duration) (string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", apperrors.RequiredError("user_id")
	}
	if !role.Valid() {
		return "", apperrors.NewValidationError("role", "unknown role")
	}
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TokenIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	signingKey []byte
	logger     *logger.Logger
	skipPaths  map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(signingKey []byte, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		signingKey: signingKey,
		logger:     log,
		skipPaths:  skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.validateToken(tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logger.WithUser(r.Context(), claims.UserID, claims.Role)
		m.logger.WithContext(ctx).Debug("Authentication successful")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken reads the token from the Authorization header. Browsers cannot
// set headers on websocket upgrades, so an access_token query parameter is
// accepted for those.
func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			if token := r.URL.Query().Get("access_token"); token != "" {
				return token, nil
			}
		}
		return "", apperrors.Unauthorized("Missing Authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperrors.Unauthorized("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperrors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.signingKey, nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, apperrors.InvalidToken(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "invalid claims")
	}
	if claims.UserID == "" {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "missing user_id")
	}
	if claims.Role != "" && !user.Role(claims.Role).Valid() {
		return nil, apperrors.InvalidToken(nil).WithDetails("reason", "unknown role")
	}
	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := apperrors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = apperrors.Internal("Authentication failed", err)
	}
	httputil.WriteError(w, serviceErr)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

// RequireRole rejects requests whose token role is not one of roles.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[string(role)] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if logger.UserID(r.Context()) == "" {
				httputil.WriteError(w, apperrors.Unauthorized(""))
				return
			}
			if !allowed[logger.Role(r.Context())] {
				httputil.WriteError(w, apperrors.Forbidden("role not permitted"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
