// Package api exposes a small read-only/admin HTTP surface over live hedging-engine
// state: liveness, a per-instrument snapshot, and recent alerts. It never accepts
// trading instructions — the engine's own tick loop is the only order-placement path.
package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const subjectContextKey = "AdminSubject"

// adminClaims is the bearer-token payload checked on every protected route; a bare
// subject is enough since there is no multi-user account system in this engine.
type adminClaims struct {
	Subject string `json:"sub"`
	jwt.RegisteredClaims
}

// IssueAdminToken mints a bearer token for operator tooling; the admin surface itself
// never issues tokens over HTTP (no login endpoint), since the only credential is the
// shared ADMIN_JWT_SECRET configured alongside the exchange credentials.
func IssueAdminToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := adminClaims{
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func parseAdminToken(tokenStr, secret string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &adminClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*adminClaims)
	if !ok || !token.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	return claims.Subject, nil
}

// AuthMiddleware enforces a bearer JWT signed with secret on every route it wraps.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed bearer token"})
			return
		}

		subject, err := parseAdminToken(parts[1], secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		c.Set(subjectContextKey, subject)
		c.Next()
	}
}
