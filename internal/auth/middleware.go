package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type contextKey string

const therapistKey contextKey = "therapist_id"

func WithTherapist(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, therapistKey, id)
}

func TherapistID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(therapistKey).(int64)
	return id, ok && id > 0
}

// Middleware rejects requests without a valid bearer token and puts the
// therapist id on the request context.
func Middleware(i *Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				unauthorized(w, "Not authenticated")
				return
			}

			scheme, token, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(token) == "" {
				unauthorized(w, "Invalid authorization header")
				return
			}

			id, err := i.Verify(strings.TrimSpace(token))
			if err != nil {
				msg := "Could not validate credentials"
				if err == ErrTokenExpired {
					msg = "Token has expired"
				}
				unauthorized(w, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithTherapist(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
