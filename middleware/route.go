package middleware

import (
	midsec "PPresence/middleware/security"

	"github.com/gin-gonic/gin"
)

// 配置选项
type RouteOpt struct {
	IsAuth   bool
	Scope    string // IsAuth 时额外要求的 scope
	Internal bool   // 服务间调用，校验共享 key
}

// Router 封装 GET/POST，按 RouteOpt 挂鉴权中间件
type Router struct {
	r           gin.IRoutes
	auth        *midsec.Options
	internalKey string
}

func NewRouter(r gin.IRoutes, auth *midsec.Options, internalKey string) *Router {
	return &Router{r: r, auth: auth, internalKey: internalKey}
}

func (rt *Router) chain(handler gin.HandlerFunc, opt RouteOpt) []gin.HandlerFunc {
	hs := make([]gin.HandlerFunc, 0, 3)
	if opt.Internal {
		hs = append(hs, midsec.Internal(rt.internalKey))
	}
	if opt.IsAuth && rt.auth != nil {
		a := rt.auth
		if opt.Scope != "" {
			a = rt.auth.WithScope(opt.Scope)
		}
		hs = append(hs, midsec.Middleware(a))
	}
	return append(hs, handler)
}

// 封装 POST
func (rt *Router) POST(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.POST(path, rt.chain(handler, opt)...)
}

// 封装 GET
func (rt *Router) GET(path string, handler gin.HandlerFunc, opt RouteOpt) {
	rt.r.GET(path, rt.chain(handler, opt)...)
}
