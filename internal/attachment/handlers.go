// internal/attachment/handlers.go
// HTTP handlers for file uploads

package attachment

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/skillsphere/messaging-service/internal/common/utils"
	"github.com/skillsphere/messaging-service/internal/identity"
)

// Handler exposes upload endpoints
type Handler struct {
	service *Service
	maxSize int64
}

// NewHandler creates the attachment handler
func NewHandler(service *Service, maxSize int64) *Handler {
	return &Handler{service: service, maxSize: maxSize}
}

// Upload handles POST /api/v1/chat/attachments with a multipart "file" field
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	ident, ok := identity.FromContext(r.Context())
	if !ok {
		utils.ErrorResponse(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+4096)
	if err := r.ParseMultipartForm(h.maxSize); err != nil {
		utils.ErrorResponse(w, "Invalid multipart request", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		utils.ErrorResponse(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		utils.ErrorResponse(w, "Failed to read file", http.StatusBadRequest)
		return
	}

	url, err := h.service.Upload(r.Context(), data, header.Filename, ident.InternalID)
	if err != nil {
		switch {
		case errors.Is(err, ErrEmptyFile):
			utils.ErrorResponse(w, "File is empty", http.StatusBadRequest)
		case errors.Is(err, ErrInvalidFileType):
			utils.ErrorResponse(w, "File type not allowed", http.StatusBadRequest)
		case errors.Is(err, ErrFileTooLarge):
			utils.ErrorResponse(w, "File exceeds the maximum allowed size", http.StatusBadRequest)
		default:
			log.Printf("attachment upload failed for user %d: %v", ident.InternalID, err)
			utils.ErrorResponse(w, "Failed to store file", http.StatusInternalServerError)
		}
		return
	}

	utils.SuccessResponse(w, map[string]interface{}{
		"url":       url,
		"file_name": header.Filename,
		"file_size": len(data),
	}, http.StatusCreated)
}

// RegisterRoutes mounts the attachment endpoints
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/attachments", h.Upload).Methods("POST")
}
