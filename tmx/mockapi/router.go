package mockapi

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes returns a chi.Router serving the backend API.
func (b *Backend) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", b.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/scan", b.handleSubmitScan)
		r.Get("/scan/{scanID}", b.handleScanStatus)
		r.Get("/scans", b.handleListScans)
		r.Get("/stats", b.handleStats)

		r.Get("/findings", b.handleFindings)
		r.Post("/findings/{findingID}/review", b.handleReview)
		r.Get("/remediation/{findingID}", b.handleRemediation)

		r.Get("/threats", b.handleThreats)

		r.Get("/report/{scanID}", b.handleReport)
		r.Post("/export/{scanID}", b.handleExport)

		r.Post("/upload", b.handleUpload)
		r.Get("/demo-apps", b.handleDemoApps)
	})
	return r
}
