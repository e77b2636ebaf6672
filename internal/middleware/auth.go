package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the shared key the REST API presents on trigger calls.
const APIKeyHeader = "X-Gateway-Key"

// RequireAPIKey rejects requests whose X-Gateway-Key header does not match
// key. An empty key disables the check.
func RequireAPIKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		got := c.GetHeader(APIKeyHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing gateway key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
