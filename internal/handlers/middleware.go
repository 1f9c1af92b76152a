package handlers

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/akagifreeez/relay-gateway/internal/services"
)

type contextKey string

const admissionContextKey contextKey = "admission"

// ExtractCredential returns the presented credential using an ordered list
// of extraction strategies: X-Api-Key header first, then a bearer-style
// Authorization header. The first present value wins.
func ExtractCredential(r *http.Request) string {
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return key
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// ClientIP derives the caller address from proxy headers, falling back to
// the transport peer. Never taken from the request body.
func ClientIP(r *http.Request) string {
	ip := ""
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
	} else if real := r.Header.Get("X-Real-Ip"); real != "" {
		ip = real
	} else {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err == nil {
			ip = host
		} else {
			ip = r.RemoteAddr
		}
	}

	ip = strings.TrimPrefix(ip, "::ffff:")
	if ip == "" {
		return "127.0.0.1"
	}
	return ip
}

// AuthMiddleware resolves the presented credential without consuming quota
// and stores the admission in the request context. Quota is only consumed by
// dispatch admission, which runs its own authorization.
func AuthMiddleware(validator *services.Validator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			admission, err := validator.Resolve(r.Context(), ExtractCredential(r))
			if err != nil {
				respondError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), admissionContextKey, admission)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMaster rejects callers whose resolved credential is not the master.
// Must run inside AuthMiddleware.
func RequireMaster(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		admission, ok := AdmissionFromContext(r.Context())
		if !ok || !admission.Credential.IsMaster {
			respondError(w, services.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdmissionFromContext retrieves the admission stored by AuthMiddleware.
func AdmissionFromContext(ctx context.Context) (*services.Admission, bool) {
	admission, ok := ctx.Value(admissionContextKey).(*services.Admission)
	return admission, ok
}
