// Package middleware contains HTTP middleware for the controller.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"agentplane/internal/auth"
	"agentplane/internal/store"
	"agentplane/pkg/apperr"
)

// orgKey is the context key for the authenticated organization.
type orgKey struct{}

// AuthMiddleware authenticates the request by its Bearer API key and puts
// the owning organization on the context. Every tenant-facing operation
// downstream is scoped by that organization.
func AuthMiddleware(orgs store.OrganizationStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "missing authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(header, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}

			org, err := orgs.GetOrganizationByAPIKeyHash(r.Context(), auth.HashKey(parts[1]))
			if err != nil {
				if apperr.IsNotFound(err) {
					http.Error(w, "invalid api key", http.StatusUnauthorized)
					return
				}
				http.Error(w, "authentication unavailable", http.StatusInternalServerError)
				return
			}
			if org == nil {
				http.Error(w, "invalid api key", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), orgKey{}, org)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OrgFromContext extracts the authenticated organization from the context.
func OrgFromContext(ctx context.Context) (*store.Organization, bool) {
	org, ok := ctx.Value(orgKey{}).(*store.Organization)
	return org, ok
}

// WithOrg returns a context carrying the organization. Test helper for
// handlers exercised without the middleware.
func WithOrg(ctx context.Context, org *store.Organization) context.Context {
	return context.WithValue(ctx, orgKey{}, org)
}
