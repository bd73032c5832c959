package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yungbote/catalog-sync-backend/internal/http/response"
	"github.com/yungbote/catalog-sync-backend/internal/platform/logger"
)

// TriggerAuth gates the operator and internal routes with a shared secret.
// A bearer token is accepted when it equals the secret or is an HS256 JWT
// signed with it. An empty secret leaves the routes open.
type TriggerAuth struct {
	log    *logger.Logger
	secret string
}

func NewTriggerAuth(log *logger.Logger, secret string) *TriggerAuth {
	return &TriggerAuth{log: log.With("middleware", "TriggerAuth"), secret: strings.TrimSpace(secret)}
}

func (a *TriggerAuth) Enabled() bool { return a != nil && a.secret != "" }

func (a *TriggerAuth) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}
		token := bearerToken(c)
		if token == "" {
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing bearer token"))
			c.Abort()
			return
		}
		if err := a.verify(token); err != nil {
			a.log.Warn("Trigger token rejected", "path", c.FullPath(), "error", err)
			response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("invalid token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func (a *TriggerAuth) verify(token string) error {
	if subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1 {
		return nil
	}
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte(a.secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return errors.New("token not valid")
	}
	return nil
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
