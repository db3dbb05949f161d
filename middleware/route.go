package middleware

import (
	"github.com/gin-gonic/gin"

	midsec "IMProject/middleware/security"
)

// 路由配置选项
type RouteOpt struct {
	IsAuth bool
}

var authMw gin.HandlerFunc

// UseAuth 注入鉴权中间件（main 里配置一次）
func UseAuth(opts *midsec.Options) {
	authMw = midsec.Middleware(opts)
}

// 封装 POST
func POST(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth && authMw != nil {
		r.POST(path, authMw, handler)
	} else {
		r.POST(path, handler)
	}
}

// 封装 GET
func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.IsAuth && authMw != nil {
		r.GET(path, authMw, handler)
	} else {
		r.GET(path, handler)
	}
}
