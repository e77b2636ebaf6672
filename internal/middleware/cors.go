package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/work-manager-team/Work-Management-sub001/internal/config"
)

// OriginPolicy decides which browser origins may talk to the gateway.
type OriginPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
}

// NewOriginPolicy builds a policy from normalized origins; "*" allows all.
func NewOriginPolicy(origins []string) OriginPolicy {
	p := OriginPolicy{allowed: make(map[string]struct{}, len(origins))}
	for _, o := range config.NormalizeOrigins(origins) {
		if o == "*" {
			p.allowAll = true
			continue
		}
		p.allowed[o] = struct{}{}
	}
	return p
}

// Allowed reports whether origin may connect. An empty origin comes from a
// non-browser client and is allowed.
func (p OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.allowAll {
		return true
	}
	normalized, ok := config.NormalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = p.allowed[normalized]
	return ok
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}

// CORS answers preflight requests and sets CORS headers for allowed origins.
func CORS(p OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && p.Allowed(origin) {
			h := c.Writer.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+APIKeyHeader)
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		}

		if c.Request.Method == http.MethodOptions {
			if origin != "" && !p.Allowed(origin) {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
