package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/jghoshh/duet/backend/server/respond"
	"github.com/sirupsen/logrus"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

const traceIDKey contextKey = "trace_id"

// TraceID returns the trace id of the request, or "".
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// Trace assigns every request a trace id, reusing the one the client sent if any.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(TraceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), traceIDKey, traceID)))
	})
}

// Recovery turns a panic in a handler into a 500 response.
func Recovery(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(logrus.Fields{
						"panic":    err,
						"path":     r.URL.Path,
						"trace_id": TraceID(r.Context()),
					}).Error("panic recovered")
					respond.Message(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
