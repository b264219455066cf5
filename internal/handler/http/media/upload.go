// Package media uploads image, file and video payloads to the gateway so
// message bodies can reference them by media id.
package media

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/handler/http/respond"
)

const maxUploadBytes = 20 << 20

// Uploader is *gateway.Client.
type Uploader interface {
	UploadMedia(ctx context.Context, appID string, kind entity.MessageKind, filename string, data []byte) (string, error)
}

type UploadResponse struct {
	MediaID string `json:"media_id"`
	Kind    string `json:"kind"`
}

// UploadHandler accepts multipart/form-data with fields app_id and kind and
// the payload in the "media" part.
type UploadHandler struct{ Gateway Uploader }

func (h UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respond.FromError(w, &entity.ValidationError{Field: "media", Message: "invalid multipart form: " + err.Error()})
		return
	}
	appID := r.FormValue("app_id")
	if appID == "" {
		respond.FromError(w, &entity.ValidationError{Field: "app_id", Message: "is required"})
		return
	}
	kind, err := entity.ParseMessageKind(r.FormValue("kind"))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	if !kind.NeedsMedia() {
		respond.FromError(w, &entity.ValidationError{Field: "kind", Message: "must be image, file or video"})
		return
	}

	file, header, err := r.FormFile("media")
	if err != nil {
		respond.FromError(w, &entity.ValidationError{Field: "media", Message: "is required"})
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		respond.FromError(w, &entity.ValidationError{Field: "media", Message: err.Error()})
		return
	}
	if len(data) == 0 {
		respond.FromError(w, &entity.ValidationError{Field: "media", Message: "must not be empty"})
		return
	}

	id, err := h.Gateway.UploadMedia(r.Context(), appID, kind, header.Filename, data)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusCreated, UploadResponse{MediaID: id, Kind: string(kind)})
}

func Register(r chi.Router, gw Uploader) {
	r.Method(http.MethodPost, "/media", UploadHandler{gw})
}
