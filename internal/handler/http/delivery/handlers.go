package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/handler/http/requestid"
	"notify-pipeline/internal/handler/http/respond"
	"notify-pipeline/internal/usecase/dispatch"
	recallUC "notify-pipeline/internal/usecase/recall"
)

// Dispatcher is *dispatch.Service.
type Dispatcher interface {
	Dispatch(ctx context.Context, in dispatch.DispatchInput) (*dispatch.DispatchResult, error)
}

// Recaller is *recall.Coordinator.
type Recaller interface {
	Recall(ctx context.Context, in recallUC.Input) (*recallUC.Outcome, error)
}

// Callbacks records collaborator status updates. The delivery log
// repository implements it.
type Callbacks interface {
	ApplyReceipt(ctx context.Context, deliveryID string, receivedAt, readAt *time.Time) (bool, error)
	MarkDone(ctx context.Context, deliveryID string) (bool, error)
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &entity.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

type DispatchHandler struct{ Svc Dispatcher }

func (h DispatchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := decode(r, &req); err != nil {
		respond.FromError(w, err)
		return
	}
	in, err := req.toInput(requestid.FromContext(r.Context()))
	if err != nil {
		respond.FromError(w, err)
		return
	}
	res, err := h.Svc.Dispatch(r.Context(), in)
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, dispatchResponse(res))
}

type RecallHandler struct{ Svc Recaller }

func (h RecallHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req RecallRequest
	if err := decode(r, &req); err != nil {
		respond.FromError(w, err)
		return
	}
	out, err := h.Svc.Recall(r.Context(), recallUC.Input{TaskID: req.TaskID, DeliveryID: req.DeliveryID})
	if err != nil {
		respond.FromError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, recallResponse(out))
}

type ReceiptHandler struct{ Repo Callbacks }

func (h ReceiptHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	var req ReceiptRequest
	if err := decode(r, &req); err != nil {
		respond.FromError(w, err)
		return
	}
	if req.ReceivedAt == nil && req.ReadAt == nil {
		respond.FromError(w, &entity.ValidationError{Field: "received_at", Message: "received_at or read_at is required"})
		return
	}
	ok, err := h.Repo.ApplyReceipt(r.Context(), deliveryID, req.ReceivedAt, req.ReadAt)
	writeCallback(w, deliveryID, ok, err)
}

type DoneHandler struct{ Repo Callbacks }

func (h DoneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryID")
	ok, err := h.Repo.MarkDone(r.Context(), deliveryID)
	writeCallback(w, deliveryID, ok, err)
}

func writeCallback(w http.ResponseWriter, deliveryID string, ok bool, err error) {
	switch {
	case err != nil:
		respond.FromError(w, err)
	case !ok:
		respond.FromError(w, &entity.NotFoundError{Resource: "delivery", Key: deliveryID})
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
