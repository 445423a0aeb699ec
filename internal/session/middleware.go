package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
)

type contextKey struct{}

// Middleware reads the Shopper-Session header and logs the shopper in on the
// first request of a new session. Requests without the header pass through
// under whatever session is already active.
func Middleware(tracker *Tracker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isExemptPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get(Header)
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			s, err := ParseHeader(header)
			if err != nil {
				logger.Warn("invalid Shopper-Session header",
					slog.String("error", err.Error()))
				writeSessionError(w, "INVALID_SESSION", err.Error())
				return
			}

			// Merge runs inline so this request already sees the merged cart.
			tracker.Login(r.Context(), s)

			ctx := context.WithValue(r.Context(), contextKey{}, s)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext returns the session parsed by Middleware for this request.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(contextKey{}).(Session)
	return s, ok
}

func isExemptPath(path string) bool {
	return path == "/health" || path == "/healthz"
}

func writeSessionError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)

	resp := struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{}
	resp.Error.Code = code
	resp.Error.Message = message

	json.NewEncoder(w).Encode(resp)
}
