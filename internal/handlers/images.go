// Package handlers exposes the image pipeline over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tendant/simple-image-cache/internal/facade"
	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// ImageHandler handles upload and lookup requests.
type ImageHandler struct {
	orchestrator   *facade.Orchestrator
	maxUploadBytes int64
}

// NewImageHandler creates an ImageHandler.
func NewImageHandler(orchestrator *facade.Orchestrator, maxUploadBytes int64) *ImageHandler {
	return &ImageHandler{
		orchestrator:   orchestrator,
		maxUploadBytes: maxUploadBytes,
	}
}

// Register mounts the image endpoints on the router.
func (h *ImageHandler) Register(r chi.Router) {
	r.Post("/v1/images", h.HandleUpload)
	r.Get("/v1/images/{hash}/{sig}", h.HandleLookup)
}

// HandleUpload handles POST /v1/images: a multipart upload with a "file"
// part and x/y/w/h/quality/format fields. Responds 200 with the ready
// payload or 202 with a processing placeholder.
func (h *ImageHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		http.Error(w, fmt.Sprintf("Invalid multipart request: %v", err), http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	params, err := parseCropParams(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	mode := imagecache.Mode(r.FormValue("mode"))

	result, err := h.orchestrator.Submit(r.Context(), data, params, mode)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == imagecache.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

// HandleLookup handles GET /v1/images/{hash}/{sig}.
func (h *ImageHandler) HandleLookup(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")
	sig := chi.URLParam(r, "sig")
	if hash == "" || sig == "" {
		http.Error(w, "hash and sig are required", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.Lookup(r.Context(), hash, sig)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.Status == imagecache.StatusProcessing {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func parseCropParams(r *http.Request) (imagecache.CropParams, error) {
	var params imagecache.CropParams
	var err error

	if params.X, err = formInt(r, "x", 0); err != nil {
		return params, err
	}
	if params.Y, err = formInt(r, "y", 0); err != nil {
		return params, err
	}
	if params.W, err = formInt(r, "w", 0); err != nil {
		return params, err
	}
	if params.H, err = formInt(r, "h", 0); err != nil {
		return params, err
	}
	if params.Quality, err = formInt(r, "quality", 0); err != nil {
		return params, err
	}

	format := r.FormValue("format")
	if format != "" && format != "webp" && format != "jpeg" && format != "jpg" {
		return params, fmt.Errorf("format must be webp, jpeg or jpg")
	}
	params.Format = format

	return params, nil
}

func formInt(r *http.Request, name string, fallback int) (int, error) {
	v := r.FormValue(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imagecache.ErrInvalidCrop), errors.Is(err, imagecache.ErrUnsupportedImage):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, imagecache.ErrLockBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, imagecache.ErrStoreUnavailable):
		log.Printf("Store unavailable: %v", err)
		http.Error(w, "backing store unavailable", http.StatusServiceUnavailable)
	default:
		log.Printf("Request failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
