package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"captiond/internal/manager"
	"captiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	// Load makes (device, quant) resident and returns the state it left.
	Load(ctx context.Context, device, quant string) (types.HealthResponse, error)
	// Caption loads (device, quant) if needed and generates, holding the
	// model for the whole call.
	Caption(ctx context.Context, device, quant string, req manager.GenerationRequest) (manager.GenerationResult, error)
	Unload()
	Teardown() error
	Status() types.HealthResponse
	GPUStatus() types.GPUStatusResponse
	RecentEvents() types.EventsResponse
	Ready() bool
}

func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	r.Use(middleware.Compress(5, "application/json"))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			MaxAge:         300,
		}))
	}

	h := &handlers{svc: svc}
	r.Post("/predict", h.predict)
	r.Post("/load", h.load)
	r.Post("/unload", h.unload)
	r.Post("/teardown", h.teardown)
	r.Get("/health", h.health)
	r.Get("/gpu", h.gpu)
	r.Get("/events", h.events)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("not loaded"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)
	return r
}

type handlers struct {
	svc Service
}

// load godoc
// @Summary Load a model configuration
// @Description Makes (device, quant) resident. A matching resident model is reused.
// @Tags model
// @Accept json,x-www-form-urlencoded,mpfd
// @Produce json
// @Param body body types.LoadRequest false "device and quant"
// @Success 200 {object} types.LoadResponse
// @Failure 400 {object} types.LoadResponse
// @Failure 500 {object} types.LoadResponse
// @Router /load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	p, perr := readParams(w, r)
	if perr != nil {
		writeJSONError(w, perr.status, perr.code, perr.msg)
		return
	}
	device := stringParam(p.get("device"), defaults.Device)
	quant := stringParam(p.get("quant"), defaults.Quant)

	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	st, err := h.svc.Load(ctx, device, quant)
	if err != nil {
		status, code := loadErrorStatus(err)
		if lg := reqLogger(r, LevelError); lg != nil {
			lg.Error().Err(err).Str("device", device).Str("quant", quant).Str("code", code).Msg("load failed")
		}
		requestErrorsTotal.WithLabelValues(code).Inc()
		writeJSON(w, status, types.LoadResponse{Status: "error", Message: err.Error(), Loaded: false, Config: st.Config, Code: code})
		return
	}
	writeJSON(w, http.StatusOK, types.LoadResponse{Status: "ok", Message: "ok", Loaded: st.Loaded, Config: st.Config})
}

// unload godoc
// @Summary Unload the model
// @Description Drops model and processor and releases cached accelerator memory. Idempotent.
// @Tags model
// @Produce json
// @Success 200 {object} types.UnloadResponse
// @Router /unload [post]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	h.svc.Unload()
	writeJSON(w, http.StatusOK, types.UnloadResponse{OK: true, Message: "Model + processor unloaded"})
}

// teardown godoc
// @Summary Unload and release the accelerator context
// @Tags model
// @Produce json
// @Success 200 {object} types.UnloadResponse
// @Failure 500 {object} types.ErrorResponse
// @Router /teardown [post]
func (h *handlers) teardown(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Teardown(); err != nil {
		writeJSONError(w, http.StatusInternalServerError, CodeTeardownFailed, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.UnloadResponse{OK: true, Message: "Model unloaded and accelerator context released"})
}

// health godoc
// @Summary Model status
// @Tags status
// @Produce json
// @Success 200 {object} types.HealthResponse
// @Router /health [get]
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// gpu godoc
// @Summary Accelerator telemetry
// @Tags status
// @Produce json
// @Success 200 {object} types.GPUStatusResponse
// @Router /gpu [get]
func (h *handlers) gpu(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GPUStatus())
}

// events godoc
// @Summary Recent model lifecycle events
// @Tags status
// @Produce json
// @Success 200 {object} types.EventsResponse
// @Router /events [get]
func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.RecentEvents())
}
