package versioning

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/cache"
)

// maxBodyBytes bounds request bodies; question bodies are the largest payload.
const maxBodyBytes = 1 << 20

// Handlers serves the question, version and dataset endpoints.
type Handlers struct {
	versions  *VersionManager
	datasets  *DatasetManager
	diff      *DiffEngine
	actors    ActorResolver
	cache     *cache.CacheManager
	validator *RequestValidator
	logger    *zap.Logger
}

// HandlerDeps are the collaborators of Handlers. Actors and Cache are optional.
type HandlerDeps struct {
	Versions *VersionManager
	Datasets *DatasetManager
	Diff     *DiffEngine
	Actors   ActorResolver
	Cache    *cache.CacheManager
	Logger   *zap.Logger
}

// NewHandlers creates Handlers from deps.
func NewHandlers(deps HandlerDeps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		versions:  deps.Versions,
		datasets:  deps.Datasets,
		diff:      deps.Diff,
		actors:    deps.Actors,
		cache:     deps.Cache,
		validator: NewRequestValidator(),
		logger:    logger.Named("http"),
	}
}

// QuestionResponse is the JSON form of a question.
type QuestionResponse struct {
	ID             uint      `json:"id"`
	Question       string    `json:"question"`
	CategoryID     *uint     `json:"categoryId"`
	QuestionType   string    `json:"questionType"`
	Difficulty     string    `json:"difficulty,omitempty"`
	Status         string    `json:"status"`
	CurrentVersion int       `json:"currentVersion"`
	CreatedBy      string    `json:"createdBy"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// VersionResponse is the JSON form of a version record.
type VersionResponse struct {
	VersionID     uint      `json:"versionId"`
	QuestionID    uint      `json:"questionId"`
	VersionNumber int       `json:"versionNumber"`
	VersionName   string    `json:"versionName"`
	QuestionBody  string    `json:"questionBody"`
	CategoryID    *uint     `json:"categoryId"`
	QuestionType  string    `json:"questionType"`
	Difficulty    string    `json:"difficulty,omitempty"`
	ChangeReason  string    `json:"changeReason"`
	ChangedBy     string    `json:"changedBy"`
	ChangedByName string    `json:"changedByName"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateVersionResponse is returned by version-creating endpoints.
type CreateVersionResponse struct {
	VersionID   uint            `json:"versionId"`
	VersionInfo VersionResponse `json:"versionInfo"`
}

// QuestionStatsResponse is the JSON form of QuestionVersionStats.
type QuestionStatsResponse struct {
	QuestionID    uint             `json:"questionId"`
	VersionCount  int64            `json:"versionCount"`
	LatestVersion *VersionResponse `json:"latestVersion"`
}

// PagedResponse is the list envelope. CurrentPage starts at 1.
type PagedResponse[T any] struct {
	Total       int64 `json:"total"`
	Pages       int   `json:"pages"`
	CurrentPage int   `json:"currentPage"`
	PageSize    int   `json:"pageSize"`
	Content     []T   `json:"content"`
}

func newPagedResponse[S, T any](p Page[S], convert func(S) T) PagedResponse[T] {
	content := make([]T, 0, len(p.Items))
	for _, item := range p.Items {
		content = append(content, convert(item))
	}
	return PagedResponse[T]{
		Total:       p.Total,
		Pages:       p.Pages(),
		CurrentPage: p.Page,
		PageSize:    p.PageSize,
		Content:     content,
	}
}

func questionResponse(q *QuestionRecord) QuestionResponse {
	return QuestionResponse{
		ID:             q.ID,
		Question:       q.Question,
		CategoryID:     q.CategoryID,
		QuestionType:   string(q.QuestionType),
		Difficulty:     string(q.Difficulty),
		Status:         string(q.Status),
		CurrentVersion: q.CurrentVersion,
		CreatedBy:      q.CreatedBy,
		CreatedAt:      q.CreatedAt,
		UpdatedAt:      q.UpdatedAt,
	}
}

func (h *Handlers) versionResponse(r *http.Request, v *QuestionVersionRecord) VersionResponse {
	name := v.ChangedBy
	if h.actors != nil {
		name = h.actors.DisplayName(r.Context(), v.ChangedBy)
	}
	return VersionResponse{
		VersionID:     v.ID,
		QuestionID:    v.QuestionID,
		VersionNumber: v.VersionNumber,
		VersionName:   v.Label(),
		QuestionBody:  v.Question,
		CategoryID:    v.CategoryID,
		QuestionType:  string(v.QuestionType),
		Difficulty:    string(v.Difficulty),
		ChangeReason:  v.ChangeReason,
		ChangedBy:     v.ChangedBy,
		ChangedByName: name,
		CreatedAt:     v.CreatedAt,
	}
}

func (h *Handlers) versionList(r *http.Request, records []QuestionVersionRecord) []VersionResponse {
	out := make([]VersionResponse, 0, len(records))
	for i := range records {
		out = append(out, h.versionResponse(r, &records[i]))
	}
	return out
}

// CreateQuestion handles POST /questions.
func (h *Handlers) CreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req CreateQuestionRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	q, err := h.versions.CreateQuestion(r.Context(), QuestionInput{
		Question:     req.Question,
		CategoryID:   req.CategoryID,
		QuestionType: QuestionType(req.QuestionType),
		Difficulty:   Difficulty(req.Difficulty),
		CreatedBy:    resolveActor(r, req.CreatedBy),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, questionResponse(q))
}

// GetQuestion handles GET /questions/{questionId}.
func (h *Handlers) GetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "questionId")
	if !ok {
		return
	}
	q, err := h.versions.GetQuestion(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, questionResponse(q))
}

// CreateVersion handles POST /questions/{questionId}/versions.
func (h *Handlers) CreateVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "questionId")
	if !ok {
		return
	}
	var req CreateVersionRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	record, err := h.versions.CreateVersion(r.Context(), id, VersionInput{
		Question:     req.QuestionBody,
		ChangeReason: req.ChangeReason,
		ChangedBy:    resolveActor(r, req.ChangedBy),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateVersionResponse{VersionID: record.ID, VersionInfo: h.versionResponse(r, record)})
}

// ListVersions handles GET /questions/{questionId}/versions?page&size.
func (h *Handlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "questionId")
	if !ok {
		return
	}
	page, size, ok := h.pageParams(w, r)
	if !ok {
		return
	}
	if _, err := h.versions.GetQuestion(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	result, err := h.versions.GetHistoryPage(r.Context(), id, page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPagedResponse(result, func(v QuestionVersionRecord) VersionResponse {
		return h.versionResponse(r, &v)
	}))
}

// GetLatestVersion handles GET /questions/{questionId}/versions/latest.
func (h *Handlers) GetLatestVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "questionId")
	if !ok {
		return
	}
	record, err := h.versions.GetLatest(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.versionResponse(r, record))
}

// GetQuestionStats handles GET /questions/{questionId}/versions/stats.
func (h *Handlers) GetQuestionStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "questionId")
	if !ok {
		return
	}
	stats, err := h.versions.QuestionStats(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := QuestionStatsResponse{QuestionID: stats.QuestionID, VersionCount: stats.VersionCount}
	if stats.LatestVersion != nil {
		latest := h.versionResponse(r, stats.LatestVersion)
		resp.LatestVersion = &latest
	}
	writeJSON(w, http.StatusOK, resp)
}

// Rollback handles POST /questions/{questionId}/versions/{targetVersionId}/rollback.
func (h *Handlers) Rollback(w http.ResponseWriter, r *http.Request) {
	questionID, ok := h.uintParam(w, r, "questionId")
	if !ok {
		return
	}
	targetID, ok := h.uintParam(w, r, "targetVersionId")
	if !ok {
		return
	}
	var req RollbackRequest
	if !h.decodeAndValidate(w, r, &req, true) {
		return
	}
	record, err := h.versions.Rollback(r.Context(), questionID, targetID, req.ChangeReason, resolveActor(r, req.ChangedBy))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateVersionResponse{VersionID: record.ID, VersionInfo: h.versionResponse(r, record)})
}

// GetVersion handles GET /versions/{versionId}. The record is cached; the
// changer's display name is resolved on every read.
func (h *Handlers) GetVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "versionId")
	if !ok {
		return
	}
	record, hit, err := h.loadVersion(r, id)
	if h.cache != nil {
		status := "MISS"
		if hit {
			status = "HIT"
		}
		w.Header().Set(cache.StatusHeader, status)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.versionResponse(r, record))
}

func (h *Handlers) loadVersion(r *http.Request, id uint) (*QuestionVersionRecord, bool, error) {
	if data, ok := h.cache.Version(id); ok {
		var record QuestionVersionRecord
		if err := json.Unmarshal(data, &record); err == nil {
			return &record, true, nil
		}
		h.cache.InvalidateVersion(id)
	}
	record, err := h.versions.GetVersion(r.Context(), id)
	if err != nil {
		return nil, false, err
	}
	if data, err := json.Marshal(record); err == nil {
		h.cache.StoreVersion(id, data)
	}
	return record, false, nil
}

// DeleteVersion handles DELETE /versions/{versionId}.
func (h *Handlers) DeleteVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "versionId")
	if !ok {
		return
	}
	if err := h.versions.DeleteVersion(r.Context(), id, resolveActor(r, "")); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.cache.InvalidateVersion(id)
	w.WriteHeader(http.StatusNoContent)
}

// CompareVersions handles GET /versions/compare?fromVersionId&toVersionId.
func (h *Handlers) CompareVersions(w http.ResponseWriter, r *http.Request) {
	from, ok := h.uintQuery(w, r, "fromVersionId")
	if !ok {
		return
	}
	to, ok := h.uintQuery(w, r, "toVersionId")
	if !ok {
		return
	}
	cmp, err := h.diff.Compare(r.Context(), from, to)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmp)
}

// GetStatistics handles GET /versions/statistics.
func (h *Handlers) GetStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.versions.Statistics(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ListChanges handles GET /versions/changes?startTime&endTime.
func (h *Handlers) ListChanges(w http.ResponseWriter, r *http.Request) {
	start, ok := h.timeQuery(w, r, "startTime")
	if !ok {
		return
	}
	end, ok := h.timeQuery(w, r, "endTime")
	if !ok {
		return
	}
	records, err := h.versions.ListChangesBetween(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.versionList(r, records))
}

// ListByActor handles GET /versions/by-actor?actor.
func (h *Handlers) ListByActor(w http.ResponseWriter, r *http.Request) {
	records, err := h.versions.ListByActor(r.Context(), strings.TrimSpace(r.URL.Query().Get("actor")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.versionList(r, records))
}

// resolveActor picks the author of a change: an explicit value from the
// body, else the request identity, else the system actor.
func resolveActor(r *http.Request, explicit string) string {
	if a := strings.TrimSpace(explicit); a != "" {
		return a
	}
	if id, ok := authz.IdentityFromContext(r.Context()); ok && !id.IsAnonymous() {
		return id.User
	}
	return SystemActor
}

// decodeAndValidate reads a JSON body into dst. With allowEmpty an absent
// body leaves dst at its zero value.
func (h *Handlers) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return false
		}
	}
	if err := h.validator.Validate(dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *Handlers) uintParam(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	return parseID(w, name, chi.URLParam(r, name))
}

func (h *Handlers) uintQuery(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return 0, false
	}
	return parseID(w, name, raw)
}

func parseID(w http.ResponseWriter, name, raw string) (uint, bool) {
	n, err := strconv.ParseUint(raw, 10, 0)
	if err != nil || n == 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", name, raw))
		return 0, false
	}
	return uint(n), true
}

func (h *Handlers) timeQuery(w http.ResponseWriter, r *http.Request, name string) (time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		writeError(w, http.StatusBadRequest, name+" is required")
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: expected RFC3339", name))
		return time.Time{}, false
	}
	return t, true
}

// pageParams reads the 1-based page and size query parameters. Absent
// values fall back to the defaults.
func (h *Handlers) pageParams(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	q := r.URL.Query()
	page, size := 1, defaultPageSize
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return 0, 0, false
		}
		page = n
	}
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "size must be a positive integer")
			return 0, 0, false
		}
		size = n
	}
	return page, size, true
}

// StatusFromError maps an error kind to an HTTP status code.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrStorage):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFromError(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
