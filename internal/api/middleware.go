package api

import (
	"context"
	"net/http"

	"github.com/pulsepost/delivery-engine/internal/pkg/httputil"
)

type contextKey string

const tenantKey contextKey = "tenant_id"

// TenantMiddleware requires an X-Tenant-ID header on every request and
// stashes it in the request context. Tenant resolution itself happens
// upstream; by the time a request reaches this service the header is
// authoritative.
func TenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get("X-Tenant-ID")
		if tenantID == "" {
			httputil.BadRequest(w, "X-Tenant-ID header is required")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// TenantID returns the tenant stashed by TenantMiddleware.
func TenantID(r *http.Request) string {
	tenantID, _ := r.Context().Value(tenantKey).(string)
	return tenantID
}
