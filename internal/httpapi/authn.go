package httpapi

import (
	"net/http"

	"tokengate.org/internal/audit"
	"tokengate.org/internal/auth"
)

// withAuth runs the guard for one route. The route's public flag is fixed
// when the router is built, before any request is seen.
func (a *API) withAuth(meta auth.RouteMeta) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.guard.Authorize(r.Context(), meta, r.Header)
			if err != nil {
				_ = audit.Denied(r.Context(), meta.Name, err)
				unauthorized(w, r)
				return
			}
			ctx := r.Context()
			if principal.Authenticated() {
				ctx = auth.ContextWithPrincipal(ctx, principal)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// unauthorized is the single response for every denial kind.
func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="`+serviceName+`"`)
	writeError(w, r, http.StatusUnauthorized, "unauthorized")
}
