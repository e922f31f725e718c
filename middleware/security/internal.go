package security

import (
	"crypto/subtle"

	"PPresence/tools/apiresp"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
)

const HeaderInternalKey = "X-Internal-Key"

// Internal guards service-to-service endpoints with a shared key.
// An empty key rejects everything.
func Internal(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderInternalKey)
		if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			apiresp.Fail(c, errs.ErrNoPermission.WrapMsg("bad internal key"))
			return
		}
		c.Next()
	}
}
