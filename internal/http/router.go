package http

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"contextware/internal/handlers"
	"contextware/internal/service"
	"contextware/internal/syncer"
	"contextware/internal/vectorstore"
)

// Deps holds dependencies for the HTTP router.
type Deps struct {
	DB            *sql.DB
	Registry      *vectorstore.Registry
	VectorService *service.VectorService
	SubmitService *service.SubmitService
	SyncEngine    *syncer.Engine
}

// NewRouter creates a new HTTP router with the provided dependencies.
func NewRouter(deps *Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(LoggerMiddleware)
	r.Use(CORS)

	vectorsHandler := handlers.NewVectorsHandler(deps.VectorService)
	submitHandler := handlers.NewSubmitHandler(deps.SubmitService)
	documentsHandler := handlers.NewDocumentsHandler(deps.SyncEngine)
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Registry)

	r.Route("/api", func(r chi.Router) {
		r.Route("/vectors", func(r chi.Router) {
			r.Post("/list", vectorsHandler.List)
			r.Post("/add", vectorsHandler.Add)
			r.Post("/add_from_remote", vectorsHandler.AddFromRemote)
			r.Post("/ref", vectorsHandler.Ref)
			r.Post("/update", vectorsHandler.Update)
			r.Post("/sync", vectorsHandler.Sync)
			r.Post("/delete", vectorsHandler.Delete)
			r.Post("/remote_list", vectorsHandler.RemoteList)
		})
		r.Method(http.MethodPost, "/submit", submitHandler)
		r.Route("/documents", func(r chi.Router) {
			r.Post("/saved", documentsHandler.Saved)
			r.Post("/deleted", documentsHandler.Deleted)
		})
	})

	r.Method(http.MethodGet, "/health", healthHandler)

	return r
}
