package security

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"IMProject/tools/errs"
	sec "IMProject/tools/security"
)

// —— context key ——
// 后续 handler 统一用这个 key 读取已鉴权的用户
const CtxUserIDKey = "authUserId"

type Options struct {
	JWT sec.Options
	// 读取哪个请求头；默认 Authorization: Bearer xxx
	HeaderToken string
}

func DefaultOptions(jwtOpts sec.Options) *Options {
	return &Options{JWT: jwtOpts, HeaderToken: "Authorization"}
}

// Middleware Bearer JWT 校验；通过后把 userID 放进 gin context。
func Middleware(opts *Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(c.GetHeader(opts.HeaderToken))
		if strings.HasPrefix(strings.ToLower(token), "bearer ") {
			token = strings.TrimSpace(token[len("bearer "):])
		}
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrNotAuthorized)
			return
		}
		userID, err := sec.Verify(opts.JWT, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrTokenExpired)
			return
		}
		c.Set(CtxUserIDKey, userID)
		c.Next()
	}
}

// UserID 读取鉴权里写入的用户
func UserID(c *gin.Context) string {
	v, _ := c.Get(CtxUserIDKey)
	s, _ := v.(string)
	return s
}
