package middleware

import (
	"net/http"
	"net/url"
	"strings"

	"PPresence/tools/apiresp"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
)

// OriginAllowed: 空列表放行所有；支持 "*.example.com"
func OriginAllowed(allowed []string, origin string) bool {
	if len(allowed) == 0 || origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		switch {
		case a == "*":
			return true
		case strings.HasPrefix(a, "*."):
			if strings.HasSuffix(host, a[1:]) {
				return true
			}
		case a == host || a == strings.ToLower(origin):
			return true
		}
	}
	return false
}

// Origin rejects websocket handshakes from origins outside the allow list.
func Origin(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet && c.Request.URL.Path == "/ws" {
			if !OriginAllowed(allowed, c.GetHeader("Origin")) {
				apiresp.Fail(c, errs.ErrNoPermission.WrapMsg("origin not allowed", "origin", c.GetHeader("Origin")))
				return
			}
		}
		c.Next()
	}
}
