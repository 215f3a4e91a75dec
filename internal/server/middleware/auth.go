package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const (
	PermissionWrite  = "kb.write"
	PermissionIngest = "kb.ingest"
	PermissionQuery  = "kb.query"
)

var allPermissions = []string{
	PermissionWrite,
	PermissionIngest,
	PermissionQuery,
}

// NewKeyfunc verifies tokens against the JWKS published at authURL, or
// against the shared HMAC secret when no URL is configured.
func NewKeyfunc(authURL, secret string) (jwt.Keyfunc, error) {
	if authURL != "" {
		k, err := keyfunc.NewDefault([]string{strings.TrimSuffix(authURL, "/") + "/jwks"})
		if err != nil {
			return nil, fmt.Errorf("failed to load jwks keys: %w", err)
		}
		return k.Keyfunc, nil
	}
	if secret == "" {
		return nil, errors.New("either AUTH_URL or AUTH_SECRET must be set")
	}
	return HMACKeyfunc([]byte(secret)), nil
}

func HMACKeyfunc(secret []byte) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return secret, nil
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
}

func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		authHeader := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			return unauthorized(c)
		}

		ac := c.(*AppContext)
		app := ac.App

		// Master API Key bypass
		if app.MasterAPIKey != "" && token == app.MasterAPIKey {
			ac.User = &AppUser{
				Subject:     "master",
				Role:        "admin",
				Permissions: allPermissions,
			}
			return next(c)
		}

		if app.Key == nil {
			return unauthorized(c)
		}
		parsed, err := jwt.Parse(token, app.Key)
		if err != nil || !parsed.Valid {
			return unauthorized(c)
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return unauthorized(c)
		}

		subject, _ := claims.GetSubject()
		if subject == "" {
			if id, ok := claims["id"].(string); ok {
				subject = id
			}
		}

		role := "user"
		if roleClaim, ok := claims["role"].(string); ok {
			role = roleClaim
		}

		var permissions []string
		if permsClaim, ok := claims["permissions"].([]any); ok {
			for _, p := range permsClaim {
				if pStr, ok := p.(string); ok {
					permissions = append(permissions, pStr)
				}
			}
		}

		if role == "admin" {
			permissions = allPermissions
		}

		ac.User = &AppUser{
			Subject:     subject,
			Role:        role,
			Permissions: permissions,
		}

		return next(c)
	}
}
