package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/monsc/zouxianba-api/internal/models"
	"github.com/monsc/zouxianba-api/internal/utils"
)

// Locals keys populated by IdentityGate.
const (
	LocalUserID   = "user_id"
	LocalIdentity = "identity"
)

var (
	// ErrMissingToken is returned when no credential was presented.
	ErrMissingToken = errors.New("missing access token")
	// ErrInvalidToken covers bad signatures, expired tokens and unusable claims.
	ErrInvalidToken = errors.New("invalid access token")
)

// Identity is the authenticated principal behind a request or connection.
type Identity struct {
	UserID      string
	DisplayName string
	Role        string
}

// ParseIdentity verifies an HMAC signed token and extracts the principal.
// Tokens must carry an exp claim and a subject of at most 64 bytes under sub, user_id or id.
func ParseIdentity(secret, tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Identity{}, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !token.Valid {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID := userIDFromClaims(claims)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: subject missing", ErrInvalidToken)
	}
	if len(userID) > models.MaxUserIDLength {
		return Identity{}, fmt.Errorf("%w: subject longer than %d bytes", ErrInvalidToken, models.MaxUserIDLength)
	}

	return Identity{
		UserID:      userID,
		DisplayName: stringClaim(claims, "name", "username"),
		Role:        strings.ToLower(stringClaim(claims, "role")),
	}, nil
}

// BearerToken returns the credential from the Authorization header, falling back to the
// access_token query parameter which browser websocket clients use.
func BearerToken(c *fiber.Ctx) string {
	authorization := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	const bearer = "bearer "
	if len(authorization) > len(bearer) && strings.ToLower(authorization[:len(bearer)]) == bearer {
		return strings.TrimSpace(authorization[len(bearer):])
	}
	return strings.TrimSpace(c.Query("access_token"))
}

// IdentityGate rejects unauthenticated requests with 401 before any handler or websocket
// upgrade runs. Paths listed in bypass are served anonymously.
func IdentityGate(secret string, bypass ...string) fiber.Handler {
	open := make(map[string]struct{}, len(bypass))
	for _, path := range bypass {
		open[path] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := open[c.Path()]; ok {
			return c.Next()
		}

		identity, err := ParseIdentity(secret, BearerToken(c))
		if err != nil {
			return utils.SendErrorCode(c, fiber.StatusUnauthorized, "authentication_failed", "authentication required")
		}

		c.Locals(LocalUserID, identity.UserID)
		c.Locals(LocalIdentity, identity)
		return c.Next()
	}
}

// AsIdentity unwraps the value IdentityGate stored under LocalIdentity.
func AsIdentity(value interface{}) (Identity, bool) {
	identity, ok := value.(Identity)
	return identity, ok && identity.UserID != ""
}

func userIDFromClaims(claims jwt.MapClaims) string {
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case float64:
			if v >= 0 && v == float64(int64(v)) {
				return strconv.FormatInt(int64(v), 10)
			}
		}
	}
	return ""
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if value, ok := claims[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}
