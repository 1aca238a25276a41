// Package auth resolves bearer tokens to usernames. The primary path is
// Keycloak token introspection; a development fallback verifies the JWT
// locally with a shared secret when no introspection endpoint is configured.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrInactiveToken means the identity provider rejected the token.
var ErrInactiveToken = errors.New("token is not active")

// Context keys set by the middleware.
const (
	userContextKey  = "user"
	tokenContextKey = "access_token"
)

// Introspector resolves access tokens through a Keycloak introspection
// endpoint.
type Introspector struct {
	endpoint     string
	clientID     string
	clientSecret string
	http         *http.Client
	log          *zap.SugaredLogger
}

// NewIntrospector builds an introspection client. An empty endpoint yields a
// nil introspector, which switches the middleware to offline verification.
func NewIntrospector(endpoint, clientID, clientSecret string, log *zap.SugaredLogger) *Introspector {
	if endpoint == "" {
		return nil
	}
	return &Introspector{
		endpoint:     strings.TrimSuffix(endpoint, "/") + "/introspect",
		clientID:     clientID,
		clientSecret: clientSecret,
		http:         &http.Client{Timeout: 10 * time.Second},
		log:          log,
	}
}

// Username resolves the token to the preferred username, or ErrInactiveToken
// when the provider reports the token inactive.
func (i *Introspector) Username(ctx context.Context, token string) (string, error) {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to build introspection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(i.clientID, i.clientSecret)

	resp, err := i.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("introspection request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("introspection returned HTTP %d: %s", resp.StatusCode, body)
	}

	var info struct {
		Active            bool   `json:"active"`
		PreferredUsername string `json:"preferred_username"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("malformed introspection response: %w", err)
	}
	if !info.Active || info.PreferredUsername == "" {
		return "", ErrInactiveToken
	}
	return info.PreferredUsername, nil
}

// Middleware authenticates requests with a bearer token and stores the
// username in the gin context.
func Middleware(intro *Introspector, devSecret string, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")

		var (
			username string
			err      error
		)
		if intro != nil {
			username, err = intro.Username(c.Request.Context(), token)
		} else {
			username, err = offlineUsername(token, devSecret)
		}
		if err != nil {
			log.Debugw("rejected token", "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(userContextKey, username)
		c.Set(tokenContextKey, token)
		c.Next()
	}
}

// Username returns the authenticated username stored by the middleware.
func Username(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// Token returns the raw bearer token, forwarded to the secrets vault.
func Token(c *gin.Context) string {
	return c.GetString(tokenContextKey)
}

func offlineUsername(token, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("no introspection endpoint and no dev secret configured")
	}
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInactiveToken
	}
	if name, ok := claims["preferred_username"].(string); ok && name != "" {
		return name, nil
	}
	return "", ErrInactiveToken
}
