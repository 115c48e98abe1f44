package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/maneesh/qrshare/internal/chunker"
	"github.com/maneesh/qrshare/internal/logging"
	"github.com/maneesh/qrshare/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Deps are the collaborators behind the HTTP surface
type Deps struct {
	Store      storage.MetadataStore
	Blobs      storage.BlobStore
	Cache      storage.UploadCache
	Feed       storage.ChangeFeed
	Chunker    *chunker.Chunker
	MaxUpload  int64
	SessionTTL time.Duration
	Logger     logging.Logger
}

// NewRouter wires every backend route
func NewRouter(d Deps) *mux.Router {
	if d.Cache == nil {
		d.Cache = storage.NoCache{}
	}

	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	rest := mux.NewRouter()
	NewRestHandler(d.Store, d.Feed, d.Logger, d.SessionTTL).Register(rest)
	router.PathPrefix("/rest/v1/").Handler(otelhttp.NewHandler(rest, "rest",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))

	upload := NewUploadHandler(d.Store, d.Blobs, d.Cache, d.Feed, d.Chunker, d.MaxUpload, d.Logger)
	download := NewDownloadHandler(d.Store, d.Blobs, d.Cache, d.Logger)
	router.Handle("/functions/v1/upload-file", otelhttp.NewHandler(upload, "POST /functions/v1/upload-file")).Methods(http.MethodPost)
	router.Handle("/functions/v1/download-file", otelhttp.NewHandler(download, "GET /functions/v1/download-file")).Methods(http.MethodGet)

	router.Handle("/realtime/v1/{table}", NewRealtimeHandler(d.Feed, d.Logger)).Methods(http.MethodGet)

	return router
}
