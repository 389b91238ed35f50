// internal/middleware/jwt.go
package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gig-chat/internal/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// Token expiration time, same as the identity subsystem - 30 days
const tokenExpiration = 30 * 24 * time.Hour

// Claims represents the JWT claims shared with the identity subsystem.
// Tokens carry the user id in "id"; "sub" is accepted as a fallback.
type Claims struct {
	UserID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

// AuthenticatedUserID returns the user id, preferring "id" over "sub".
func (c *Claims) AuthenticatedUserID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

// Authenticator signs and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	logger zerolog.Logger
}

func NewAuthenticator(secret, issuer string, logger zerolog.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger.With().Str("component", "auth").Logger(),
	}
}

// GenerateToken creates a new JWT token for the given user ID. Tokens are
// normally minted by the identity subsystem; this serves tests and the
// simulator.
func (a *Authenticator) GenerateToken(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    a.issuer,
			Subject:   userID,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// ValidateToken verifies signature, expiry and, when configured, the issuer.
// Every failure is an ErrInvalidToken AppError.
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, utils.NewAppError(utils.ErrInvalidToken, "token expired", err)
		}
		return nil, utils.NewAppError(utils.ErrInvalidToken, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AuthenticatedUserID() == "" {
		return nil, utils.NewAppError(utils.ErrInvalidToken, "invalid token", nil)
	}
	return claims, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, then
// from the "token" query parameter used by websocket clients.
func TokenFromRequest(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// Authenticate returns the user id carried by the request's token.
func (a *Authenticator) Authenticate(r *http.Request) (string, error) {
	tokenString := TokenFromRequest(r)
	if tokenString == "" {
		return "", utils.NewUnauthorizedError("authorization token required")
	}
	claims, err := a.ValidateToken(tokenString)
	if err != nil {
		return "", err
	}
	return claims.AuthenticatedUserID(), nil
}

// RequireAuth is a middleware that rejects requests without a valid token
// and stores the user id in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.Authenticate(r)
		if err != nil {
			a.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("rejected unauthenticated request")
			WriteError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(SetUserIDInContext(r.Context(), userID)))
	})
}

// Define a custom context key type to avoid collisions
type contextKey string

// UserIDKey is the key used to store the user ID in the context
const UserIDKey contextKey = "user_id"

// SetUserIDInContext saves the user ID in the request context
func SetUserIDInContext(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserIDFromContext retrieves the user ID from the context
func GetUserIDFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}
