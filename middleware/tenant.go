package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/applyflow/applyflow/utils"
)

type contextKey string

const tenantIDKey contextKey = "tenant_id"

// TenantMiddleware resolves the caller's API key to a tenant id. Tenant
// management itself lives in another service; this only maps keys handed to
// the process at startup.
type TenantMiddleware struct {
	keys map[string]string
}

func CreateTenantMiddleware(keys map[string]string) *TenantMiddleware {
	return &TenantMiddleware{keys: keys}
}

func (tm *TenantMiddleware) TenantContextMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			writeAuthError(w, utils.ErrTenantKeyRequired)
			return
		}

		tenantID, ok := tm.keys[apiKey]
		if !ok {
			writeAuthError(w, utils.ErrTenantKeyInvalid)
			return
		}

		ctx := context.WithValue(r.Context(), tenantIDKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantID returns the tenant resolved for the request, if any.
func TenantID(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(tenantIDKey).(string)
	return tenantID, ok
}

// WithTenantID is for tests and internal callers that bypass the HTTP layer.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantIDKey, tenantID)
}

func isPublicPath(path string) bool {
	if path == "/health" {
		return true
	}
	// Inbound receivers authenticate with provider signatures, not API keys.
	return strings.HasPrefix(path, "/webhooks/inbound/")
}

func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeAuthError(w http.ResponseWriter, err *utils.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	w.Write([]byte(`{"error":"` + err.Message + `"}`))
}
