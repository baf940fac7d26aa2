package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Context key for user data
type contextKey string

const userContextKey contextKey = "user"

const joinAudience = "interview-join"

// JWTClaims represents the claims in an owner's access token
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// JoinClaims admit a respondent to one interview.
type JoinClaims struct {
	jwt.RegisteredClaims
	InterviewID string `json:"interview_id"`
}

// AuthUser represents the authenticated user in request context
type AuthUser struct {
	ID    string
	Email string
}

var errJoinTokenMismatch = errors.New("join token is for a different interview")

func (r *Router) keyFunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}
	return []byte(r.cfg.JWTSecret), nil
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, `{"error": "missing authorization header"}`, http.StatusUnauthorized)
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			http.Error(w, `{"error": "invalid authorization format"}`, http.StatusUnauthorized)
			return
		}

		parser := jwt.NewParser(jwt.WithExpirationRequired())
		token, err := parser.ParseWithClaims(parts[1], &JWTClaims{}, r.keyFunc)
		if err != nil || !token.Valid {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok || claims.UserID == "" {
			http.Error(w, `{"error": "invalid token claims"}`, http.StatusUnauthorized)
			return
		}
		// Join tokens carry an audience and must not open the owner API.
		if len(claims.Audience) > 0 {
			http.Error(w, `{"error": "invalid token"}`, http.StatusUnauthorized)
			return
		}

		user := &AuthUser{ID: claims.UserID, Email: claims.Email}
		ctx := context.WithValue(req.Context(), userContextKey, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// withAdmin is middleware that requires admin authentication.
func (r *Router) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		authUser := getAuthUser(req.Context())
		if authUser == nil {
			http.Error(w, `{"error": "not authenticated"}`, http.StatusUnauthorized)
			return
		}

		if !slices.Contains(r.cfg.AdminUserIDs, authUser.ID) {
			http.Error(w, `{"error": "admin access required"}`, http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, req)
	})
}

// getAuthUser extracts the authenticated user from context
func getAuthUser(ctx context.Context) *AuthUser {
	user, _ := ctx.Value(userContextKey).(*AuthUser)
	return user
}

// IssueOwnerToken creates an owner access token signed with secret.
func IssueOwnerToken(secret string, expiry time.Duration, userID, email string) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, errors.New("JWT secret is not configured")
	}
	expiresAt := time.Now().Add(expiry)

	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}

	return tokenString, expiresAt, nil
}

// generateJoinToken creates a token that lets a respondent open one interview's session socket.
func (r *Router) generateJoinToken(interviewID string) (string, time.Time, error) {
	expiresAt := time.Now().Add(r.cfg.JoinTokenExpiry)

	claims := JoinClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   interviewID,
			Audience:  jwt.ClaimStrings{joinAudience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		InterviewID: interviewID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// verifyJoinToken checks a join token against the interview being opened.
func (r *Router) verifyJoinToken(tokenString, interviewID string) error {
	parser := jwt.NewParser(jwt.WithExpirationRequired(), jwt.WithAudience(joinAudience))
	token, err := parser.ParseWithClaims(tokenString, &JoinClaims{}, r.keyFunc)
	if err != nil {
		return err
	}
	claims, ok := token.Claims.(*JoinClaims)
	if !ok || !token.Valid {
		return errors.New("invalid join token claims")
	}
	if claims.InterviewID != interviewID {
		return errJoinTokenMismatch
	}
	return nil
}
