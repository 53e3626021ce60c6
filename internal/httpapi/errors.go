package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"captiond/internal/manager"
	"captiond/pkg/types"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeBadImage           = "BAD_IMAGE"
	CodeBadPath            = "BAD_PATH"
	CodeBadRequest         = "BAD_REQUEST"
	CodeBadDevice          = "BAD_DEVICE"
	CodeBadQuant           = "BAD_QUANT"
	CodeLoadFailed         = "LOAD_FAILED"
	CodeGPULoadFailed      = "GPU_LOAD_FAILED"
	CodeStrictViolation    = "NF4_STRICT_VIOLATION"
	CodeNotLoaded          = "NOT_LOADED"
	CodeOutOfMemory        = "CUDA_OOM"
	CodeInferFailed        = "INFER_FAILED"
	CodeTeardownFailed     = "TEARDOWN_FAILED"
	CodeUnsupportedContent = "UNSUPPORTED_MEDIA_TYPE"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// loadErrorStatus maps a model load failure to a status and code.
func loadErrorStatus(err error) (int, string) {
	switch manager.KindOf(err) {
	case manager.KindUnknownDevice:
		return http.StatusBadRequest, CodeBadDevice
	case manager.KindUnknownQuant:
		return http.StatusBadRequest, CodeBadQuant
	case manager.KindStrictViolation:
		return http.StatusInternalServerError, CodeStrictViolation
	}
	if manager.IsAcceleratorLoadError(err) {
		return http.StatusInternalServerError, CodeGPULoadFailed
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), CodeLoadFailed
	}
	return http.StatusInternalServerError, CodeLoadFailed
}

// inferErrorStatus maps an Infer failure to a status, code and message.
func inferErrorStatus(err error) (int, string, string) {
	switch manager.KindOf(err) {
	case manager.KindNotLoaded:
		return http.StatusConflict, CodeNotLoaded, err.Error()
	case manager.KindOutOfMemory:
		return http.StatusInternalServerError, CodeOutOfMemory, "Out of VRAM during generation"
	}
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), CodeInferFailed, err.Error()
	}
	return http.StatusInternalServerError, CodeInferFailed, err.Error()
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	requestErrorsTotal.WithLabelValues(code).Inc()
	writeJSON(w, status, types.ErrorResponse{Code: code, Message: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
