package audit

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

// EventTypeRequest marks events written by AuditMiddleware, as opposed to
// the domain events the managers write.
const EventTypeRequest = "api.request"

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// AuditMiddleware records one audit event per mutating API request after the
// handler completes. The request's correlation ID is placed on the context so
// the domain events written by the handler share it.
func AuditMiddleware(store *versioning.AuditStore, cfg *AuditConfig, logger *zap.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("audit")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			if !isManagementEndpoint(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()
			ctx := r.Context()

			requestID := middleware.GetReqID(ctx)
			correlationID := r.Header.Get("X-Correlation-ID")
			if correlationID == "" {
				correlationID = requestID
			}
			if correlationID == "" {
				correlationID = uuid.New().String()
			}
			ctx = versioning.WithCorrelationID(ctx, correlationID)

			capture := &responseCapture{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(capture, r.WithContext(ctx))

			statusCode := capture.statusCode
			outcome := outcomeFromStatus(statusCode)
			if outcome == "denied" && !cfg.LogDenied {
				return
			}

			actor := authz.Anonymous
			var groups []string
			if id, ok := authz.IdentityFromContext(ctx); ok {
				actor = id.User
				groups = id.Groups
			}

			event := &versioning.AuditEventRecord{
				ID:            uuid.New().String(),
				CorrelationID: correlationID,
				EventType:     EventTypeRequest,
				Actor:         actor,
				RequestID:     requestID,
				ResourceType:  extractResourceType(r.URL.Path),
				ResourceID:    extractResourceID(r.URL.Path),
				Action:        extractActionVerb(r.Method, r.URL.Path),
				Outcome:       outcome,
				StatusCode:    statusCode,
				CreatedAt:     startTime,
				EventMetadata: versioning.JSONAny{
					"method":   r.Method,
					"path":     r.URL.Path,
					"duration": time.Since(startTime).String(),
					"groups":   groups,
				},
			}

			// Best-effort write: don't fail the request if audit write fails.
			if err := store.Append(event); err != nil {
				logger.Error("failed to write audit event", zap.Error(err), zap.String("requestId", requestID))
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusForbidden:
		return "denied"
	default:
		return "failure"
	}
}
