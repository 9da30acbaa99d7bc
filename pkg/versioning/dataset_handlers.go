package versioning

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DatasetResponse is the JSON form of a dataset version.
type DatasetResponse struct {
	ID            uint       `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	IsPublished   bool       `json:"isPublished"`
	ReleaseDate   *time.Time `json:"releaseDate"`
	QuestionCount int        `json:"questionCount"`
	CreatedBy     string     `json:"createdBy"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	IsLatest      bool       `json:"isLatest"`
}

func datasetResponse(d *DatasetVersionRecord, isLatest bool) DatasetResponse {
	return DatasetResponse{
		ID:            d.ID,
		Name:          d.Name,
		Description:   d.Description,
		IsPublished:   d.IsPublished,
		ReleaseDate:   d.ReleaseDate,
		QuestionCount: d.QuestionCount,
		CreatedBy:     d.CreatedBy,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		IsLatest:      isLatest,
	}
}

func summaryResponse(s *DatasetSummary) DatasetResponse {
	return datasetResponse(&s.DatasetVersionRecord, s.IsLatest)
}

// CreateDataset handles POST /dataset-versions.
func (h *Handlers) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var req CreateDatasetRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	record, err := h.datasets.Create(r.Context(), CreateDatasetInput{
		Name:          req.Name,
		Description:   req.Description,
		QuestionIDs:   req.QuestionIDs,
		BaseVersionID: req.BaseVersionID,
		CreatedBy:     resolveActor(r, req.CreatedBy),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, datasetResponse(record, true))
}

// ListDatasets handles GET /dataset-versions?page&size&isPublished&keyword.
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	page, size, ok := h.pageParams(w, r)
	if !ok {
		return
	}
	filter := DatasetFilter{Keyword: r.URL.Query().Get("keyword")}
	if raw := r.URL.Query().Get("isPublished"); raw != "" {
		published, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "isPublished must be true or false")
			return
		}
		filter.Published = &published
	}
	result, err := h.datasets.List(r.Context(), filter, page, size)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPagedResponse(result, func(s DatasetSummary) DatasetResponse {
		return summaryResponse(&s)
	}))
}

// GetLatestDataset handles GET /dataset-versions/latest.
func (h *Handlers) GetLatestDataset(w http.ResponseWriter, r *http.Request) {
	record, err := h.datasets.GetLatest(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetResponse(record, true))
}

// GetLatestPublishedDataset handles GET /dataset-versions/latest-published.
func (h *Handlers) GetLatestPublishedDataset(w http.ResponseWriter, r *http.Request) {
	record, err := h.datasets.GetLatestPublished(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	summary, err := h.datasets.Describe(r.Context(), record.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(summary))
}

// NameCheckResponse reports whether a dataset version name is taken.
type NameCheckResponse struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
}

// CheckDatasetName handles GET /dataset-versions/check-name?name.
func (h *Handlers) CheckDatasetName(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	exists, err := h.datasets.NameExists(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NameCheckResponse{Name: strings.TrimSpace(name), Exists: exists})
}

// GetDataset handles GET /dataset-versions/{datasetId}.
func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "datasetId")
	if !ok {
		return
	}
	summary, err := h.datasets.Describe(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(summary))
}

// UpdateDataset handles PATCH /dataset-versions/{datasetId}.
func (h *Handlers) UpdateDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "datasetId")
	if !ok {
		return
	}
	var req UpdateDatasetRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	record, err := h.datasets.Update(r.Context(), id, UpdateDatasetInput{
		Name:        req.Name,
		Description: req.Description,
	}, resolveActor(r, req.ChangedBy))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(record))
}

// DeleteDataset handles DELETE /dataset-versions/{datasetId}.
func (h *Handlers) DeleteDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "datasetId")
	if !ok {
		return
	}
	if err := h.datasets.Delete(r.Context(), id, resolveActor(r, "")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// PublishDataset handles POST /dataset-versions/{datasetId}/publish.
func (h *Handlers) PublishDataset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "datasetId")
	if !ok {
		return
	}
	record, err := h.datasets.Publish(r.Context(), id, resolveActor(r, ""))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(record))
}

// ListDatasetQuestions handles GET /dataset-versions/{datasetId}/questions.
func (h *Handlers) ListDatasetQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.uintParam(w, r, "datasetId")
	if !ok {
		return
	}
	questions, err := h.datasets.ListQuestions(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]QuestionResponse, 0, len(questions))
	for i := range questions {
		out = append(out, questionResponse(&questions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// AddDatasetQuestions handles POST /dataset-versions/{datasetId}/questions.
func (h *Handlers) AddDatasetQuestions(w http.ResponseWriter, r *http.Request) {
	h.changeMembership(w, r, h.datasets.AddQuestions)
}

// RemoveDatasetQuestions handles DELETE /dataset-versions/{datasetId}/questions.
func (h *Handlers) RemoveDatasetQuestions(w http.ResponseWriter, r *http.Request) {
	h.changeMembership(w, r, h.datasets.RemoveQuestions)
}

type membershipFunc func(ctx context.Context, id uint, questionIDs []uint, actor string) (*DatasetSummary, error)

func (h *Handlers) changeMembership(w http.ResponseWriter, r *http.Request, apply membershipFunc) {
	id, ok := h.uintParam(w, r, "datasetId")
	if !ok {
		return
	}
	var req MembershipRequest
	if !h.decodeAndValidate(w, r, &req, false) {
		return
	}
	record, err := apply(r.Context(), id, req.QuestionIDs, resolveActor(r, req.ChangedBy))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse(record))
}
