package security

import (
	"strings"

	"PPresence/tools/apiresp"
	"PPresence/tools/errs"
	jwtlib "PPresence/tools/security"

	"github.com/gin-gonic/gin"
)

// context key
const (
	PPCtxUserIDKey = "pp_user_id" // int64
	PPCtxClaimsKey = "pp_claims"  // *jwtlib.JWTClaims
)

type Options struct {
	JWT jwtlib.Options
	// 读取哪个请求头，默认 "authorization"，也兼容 Authorization: Bearer xxx
	HeaderToken string
	// 允许 ?token= （websocket 握手用）
	AllowQuery bool
	// 非空时要求 token 带此 scope
	Scope string
}

func DefaultOptions(secret []byte) *Options {
	return &Options{
		JWT:         jwtlib.DefaultOptions(secret),
		HeaderToken: "authorization",
	}
}

func (o Options) WithScope(scope string) *Options {
	o.Scope = scope
	return &o
}

// ExtractToken reads the raw token from the request.
func ExtractToken(c *gin.Context, opts *Options) string {
	token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		token = strings.TrimSpace(token[len("bearer "):])
	}
	if token == "" {
		if authz := strings.TrimSpace(c.GetHeader("Authorization")); strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if token == "" && opts.AllowQuery {
		token = c.Query("token")
	}
	return token
}

func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := jwtlib.Verify(opts.JWT, ExtractToken(c, opts))
		if err != nil {
			apiresp.Fail(c, err)
			return
		}
		uid, err := claims.UserID()
		if err != nil {
			apiresp.Fail(c, err)
			return
		}
		if opts.Scope != "" && !claims.HasScope(opts.Scope) {
			apiresp.Fail(c, errs.ErrNoPermission.WrapMsg("missing scope", "scope", opts.Scope))
			return
		}
		c.Set(PPCtxUserIDKey, uid)
		c.Set(PPCtxClaimsKey, claims)
		c.Next()
	}
}

// UserID returns the authenticated user, if any.
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(PPCtxUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
