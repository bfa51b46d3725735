package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// HeaderRequestID carries the caller's request id; it is echoed on the
// response so a generation can be correlated across client, service and
// backend logs.
const HeaderRequestID = "X-Request-ID"

// generatedIDPrefix marks ids this service minted itself, as opposed to ids
// the caller supplied with the request.
const generatedIDPrefix = "req_"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
)

// RequestID attaches an identifier to every inbound request. A caller-sent
// header wins; otherwise a prefixed uuid is generated so downstream
// envelopes never go out without a correlatable id.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if rid == "" {
			rid = generatedIDPrefix + uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		w.Header().Set(HeaderRequestID, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// IsGeneratedID reports whether an id was minted by this service rather
// than supplied by the caller.
func IsGeneratedID(id string) bool {
	return strings.HasPrefix(id, generatedIDPrefix)
}
