package api

import (
	"crypto/subtle"
	"net/http"
)

const apiKeyHeader = "X-API-Key"

// APIKeyAuth requires the X-API-Key header to match key. A missing header is
// 401; a wrong key, or a server without a configured key, is 403.
func APIKeyAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(apiKeyHeader)
			if got == "" {
				writeError(w, http.StatusUnauthorized, "未提供 API 密钥。请在请求头中包含 X-API-Key。")
				return
			}
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeError(w, http.StatusForbidden, "API 密钥无效。")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
