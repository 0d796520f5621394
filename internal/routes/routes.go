package routes

import (
	"net/http"

	"CapIot.occupancy/internal/controller"
	"CapIot.occupancy/internal/utils"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// SetupAgentRouter defines the device agent routes.
func SetupAgentRouter(ingest *controller.IngestController) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/update", ingest.HandleUpdate).Methods(http.MethodPost)
	router.HandleFunc("/state", ingest.HandleState).Methods(http.MethodGet)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	return router
}

// SetupCollectorRouter defines the collector routes. requireAuth guards the
// device administration endpoints.
func SetupCollectorRouter(collector *controller.CollectorController, requireAuth func(http.Handler) http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/upload", collector.HandleUpload).Methods(http.MethodPost)
	router.HandleFunc("/health", handleHealth).Methods(http.MethodGet)

	devices := router.PathPrefix("/devices/{deviceId}").Subrouter()
	devices.Use(mux.MiddlewareFunc(requireAuth))
	devices.HandleFunc("/status", collector.HandleStatus).Methods(http.MethodGet)
	devices.HandleFunc("/unblock", collector.HandleUnblock).Methods(http.MethodPost)

	return router
}

// WithCORS wraps a handler with the CORS policy for the given origins.
func WithCORS(handler http.Handler, allowedOrigins []string) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	return c.Handler(handler)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	utils.RespondWithText(w, http.StatusOK, "OK")
}
