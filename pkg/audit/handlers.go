package audit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/llmeval/qa-registry/pkg/versioning"
)

// ListEventsHandler handles GET /api/audit/v1/events
// Query params: actor, eventType, resourceType, resourceId, action, pageSize, pageToken
func ListEventsHandler(store *versioning.AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := versioning.AuditListFilter{
			Actor:        q.Get("actor"),
			EventType:    q.Get("eventType"),
			ResourceType: q.Get("resourceType"),
			ResourceID:   q.Get("resourceId"),
			Action:       q.Get("action"),
		}

		pageSize := 20
		if ps := q.Get("pageSize"); ps != "" {
			v, err := strconv.Atoi(ps)
			if err != nil || v <= 0 {
				writeError(w, http.StatusBadRequest, "pageSize must be a positive integer")
				return
			}
			pageSize = v
		}
		pageToken := q.Get("pageToken")
		if pageToken != "" {
			if _, err := time.Parse(time.RFC3339Nano, pageToken); err != nil {
				writeError(w, http.StatusBadRequest, "invalid pageToken")
				return
			}
		}

		records, nextToken, total, err := store.ListFiltered(filter, pageSize, pageToken)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to list audit events: %v", err))
			return
		}

		events := make([]auditEventResponse, len(records))
		for i, rec := range records {
			events[i] = recordToResponse(rec)
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":        events,
			"nextPageToken": nextToken,
			"totalSize":     total,
		})
	}
}

// GetEventHandler handles GET /api/audit/v1/events/{eventId}
func GetEventHandler(store *versioning.AuditStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "eventId")
		if eventID == "" {
			writeError(w, http.StatusBadRequest, "missing event ID")
			return
		}

		record, err := store.GetByID(eventID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get audit event: %v", err))
			return
		}
		if record == nil {
			writeError(w, http.StatusNotFound, fmt.Sprintf("audit event %q not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, recordToResponse(*record))
	}
}

// auditEventResponse is the API response for an audit event.
type auditEventResponse struct {
	ID            string         `json:"id"`
	CorrelationID string         `json:"correlationId,omitempty"`
	EventType     string         `json:"eventType"`
	Actor         string         `json:"actor"`
	RequestID     string         `json:"requestId,omitempty"`
	ResourceType  string         `json:"resourceType,omitempty"`
	ResourceID    string         `json:"resourceId,omitempty"`
	Action        string         `json:"action,omitempty"`
	Outcome       string         `json:"outcome"`
	StatusCode    int            `json:"statusCode,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	OldValue      map[string]any `json:"oldValue,omitempty"`
	NewValue      map[string]any `json:"newValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"createdAt"`
}

func recordToResponse(rec versioning.AuditEventRecord) auditEventResponse {
	return auditEventResponse{
		ID:            rec.ID,
		CorrelationID: rec.CorrelationID,
		EventType:     rec.EventType,
		Actor:         rec.Actor,
		RequestID:     rec.RequestID,
		ResourceType:  rec.ResourceType,
		ResourceID:    rec.ResourceID,
		Action:        rec.Action,
		Outcome:       rec.Outcome,
		StatusCode:    rec.StatusCode,
		Reason:        rec.Reason,
		OldValue:      map[string]any(rec.OldValue),
		NewValue:      map[string]any(rec.NewValue),
		Metadata:      map[string]any(rec.EventMetadata),
		CreatedAt:     rec.CreatedAt.Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
