package middleware

import (
	"context"
	"net/http"
	"strconv"
)

// TenantHeader carries the caller's tenant. Authentication happens upstream of this service.
const TenantHeader = "X-Tenant-ID"

type tenantKey struct{}

// Tenant rejects requests without a positive tenant id and stores it in the request context
func Tenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := strconv.Atoi(r.Header.Get(TenantHeader))
		if err != nil || tenantID <= 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"code":"MISSING_TENANT","message":"X-Tenant-ID header must be a positive integer"}}`))
			return
		}
		next.ServeHTTP(w, r.WithContext(WithTenant(r.Context(), tenantID)))
	})
}

// WithTenant returns ctx carrying tenantID
func WithTenant(ctx context.Context, tenantID int) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantID returns the tenant stored by Tenant
func TenantID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(tenantKey{}).(int)
	return id, ok
}
