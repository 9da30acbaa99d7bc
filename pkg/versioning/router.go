package versioning

import "github.com/go-chi/chi/v5"

// Router creates a chi.Router serving the registry API. Mount it under /api/v1.
func Router(h *Handlers) chi.Router {
	r := chi.NewRouter()
	r.Use(h.cache.WriteInvalidation())

	r.Route("/questions", func(r chi.Router) {
		r.Post("/", h.CreateQuestion)
		r.Route("/{questionId}", func(r chi.Router) {
			r.Get("/", h.GetQuestion)
			r.Route("/versions", func(r chi.Router) {
				r.Get("/", h.ListVersions)
				r.Post("/", h.CreateVersion)
				r.Get("/latest", h.GetLatestVersion)
				r.Get("/stats", h.GetQuestionStats)
				r.Post("/{targetVersionId}/rollback", h.Rollback)
			})
		})
	})

	r.Route("/versions", func(r chi.Router) {
		r.Get("/compare", h.CompareVersions)
		r.With(h.cache.StatsMiddleware()).Get("/statistics", h.GetStatistics)
		r.Get("/changes", h.ListChanges)
		r.Get("/by-actor", h.ListByActor)
		r.Get("/{versionId}", h.GetVersion)
		r.Delete("/{versionId}", h.DeleteVersion)
	})

	r.Route("/dataset-versions", func(r chi.Router) {
		r.Get("/", h.ListDatasets)
		r.Post("/", h.CreateDataset)
		r.Get("/latest", h.GetLatestDataset)
		r.Get("/latest-published", h.GetLatestPublishedDataset)
		r.Get("/check-name", h.CheckDatasetName)
		r.Route("/{datasetId}", func(r chi.Router) {
			r.Get("/", h.GetDataset)
			r.Patch("/", h.UpdateDataset)
			r.Delete("/", h.DeleteDataset)
			r.Post("/publish", h.PublishDataset)
			r.Get("/questions", h.ListDatasetQuestions)
			r.Post("/questions", h.AddDatasetQuestions)
			r.Delete("/questions", h.RemoveDatasetQuestions)
		})
	})

	return r
}
