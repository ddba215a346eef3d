package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/cocaine/cocaine-framework-go/internal/transport/http/util/response"
	"github.com/sirupsen/logrus"
)

type contextKey struct{}

// Middleware 校验 Bearer 令牌，/status 与 /metrics 不需要认证
// WebSocket 客户端可以通过 access_token 查询参数传递令牌
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/status" || path == "/metrics" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		tokenString := r.URL.Query().Get("access_token")
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				response.Unauthorized("invalid authorization header format").WriteJSON(w)
				return
			}
			tokenString = parts[1]
		}
		if tokenString == "" {
			response.Unauthorized("authorization header required").WriteJSON(w)
			return
		}

		claims, err := a.ValidateToken(tokenString)
		if err != nil {
			logrus.Debugf("Token validation failed: %v", err)
			response.Unauthorized("invalid or expired token").WriteJSON(w)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, claims)))
	})
}

// ClaimsFromContext 返回请求携带的 claims，未认证时为 nil
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(contextKey{}).(*Claims)
	return claims
}
