package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/web2api/models"
)

const apiKeyHeader = "X-API-Key"

// Auth guards routes with a static API-key allowlist. Clients present
// a key either as an X-API-Key header or as an Authorization bearer
// token. An empty allowlist disables the check entirely.
func Auth(keys []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k != "" {
			allowed[k] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return func(c *gin.Context) { c.Next() }
	}

	return func(c *gin.Context) {
		key := requestKey(c)
		if key == "" {
			abortJSON(c, http.StatusUnauthorized, models.ErrCodeUnauthorized,
				"missing API key: send X-API-Key or Authorization: Bearer <key>")
			return
		}
		if _, ok := allowed[key]; !ok {
			abortJSON(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "invalid API key")
			return
		}
		// Downstream middleware keys rate limits off the identity.
		c.Set("api_key", key)
		c.Next()
	}
}

// requestKey prefers the dedicated header over the Authorization
// scheme so proxies that rewrite Authorization cannot shadow it.
func requestKey(c *gin.Context) string {
	if k := c.GetHeader(apiKeyHeader); k != "" {
		return k
	}
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func abortJSON(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": models.ErrorDetail{Code: code, Message: message},
	})
}
