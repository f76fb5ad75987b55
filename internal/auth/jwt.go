package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/nebari-dev/labgate/internal/audit"
	"github.com/nebari-dev/labgate/internal/models"
	"github.com/nebari-dev/labgate/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const issuer = "labgate"

// Authenticator issues and validates HS256 tokens for users stored in the database.
type Authenticator struct {
	store     *store.Store
	jwtSecret []byte
	ttl       time.Duration
	audit     *audit.Recorder
	now       func() time.Time
}

// NewAuthenticator creates an authenticator signing tokens valid for ttl.
func NewAuthenticator(st *store.Store, jwtSecret string, ttl time.Duration, rec *audit.Recorder) *Authenticator {
	return &Authenticator{
		store:     st,
		jwtSecret: []byte(jwtSecret),
		ttl:       ttl,
		audit:     rec,
		now:       time.Now,
	}
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks if a password matches the hash
func VerifyPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Claims represents JWT claims
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Login authenticates a user by email and password and returns a signed token.
// Unknown emails, wrong passwords and inactive users all yield ErrInvalidCredentials.
func (a *Authenticator) Login(ctx context.Context, email, password string) (*LoginResponse, error) {
	user, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Login attempt with unknown email", "email", email)
			a.recordFailure(ctx, email, "unknown_email")
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("database error: %w", err)
	}

	if !user.IsActive || !VerifyPassword(user.PasswordHash, password) {
		slog.Warn("Login attempt with incorrect password or inactive user", "email", email)
		a.recordFailure(ctx, email, "bad_password")
		return nil, ErrInvalidCredentials
	}

	token, err := a.generateToken(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	id := user.ID
	a.audit.Record(ctx, audit.Event{
		ActorUserID: &id,
		ActorRole:   user.Role,
		Action:      audit.ActionLogin,
		Entity:      audit.EntityUser,
		EntityID:    user.ID.String(),
	})
	slog.Info("User logged in successfully", "user_id", user.ID, "role", user.Role)
	return &LoginResponse{Token: token, User: user}, nil
}

func (a *Authenticator) recordFailure(ctx context.Context, email, reason string) {
	a.audit.Record(ctx, audit.Event{
		Action:   audit.ActionLoginFailed,
		Entity:   audit.EntityUser,
		EntityID: strings.ToLower(strings.TrimSpace(email)),
		Meta:     map[string]interface{}{"reason": reason},
	})
}

// generateToken creates a JWT token for a user
func (a *Authenticator) generateToken(user *models.User) (string, error) {
	now := a.now()
	claims := Claims{
		UserID: user.ID.String(),
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// validateToken validates a JWT token and returns claims
func (a *Authenticator) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrUnauthorized
}

// Middleware returns a Gin middleware for authentication.
// It checks the Bearer token header first, then the jwt cookie.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		var tokenString string

		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
				return
			}
			tokenString = parts[1]
		} else if cookie, err := c.Cookie(CookieName); err == nil {
			tokenString = cookie
		}

		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		user, err := a.validateAndLoadUser(c.Request.Context(), tokenString)
		if err != nil {
			slog.Warn("Invalid token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(UserContextKey, user)
		c.Next()
	}
}

// validateAndLoadUser validates a token and loads the user, so role changes
// and deactivation take effect before the token expires.
func (a *Authenticator) validateAndLoadUser(ctx context.Context, tokenString string) (*models.User, error) {
	claims, err := a.validateToken(tokenString)
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, fmt.Errorf("invalid user ID in token: %w", err)
	}

	user, err := a.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("user not found: %w", err)
	}
	if !user.IsActive {
		return nil, errors.New("user is inactive")
	}
	return user, nil
}
