package delivery

import (
	"time"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/usecase/dispatch"
	recallUC "notify-pipeline/internal/usecase/recall"
)

type BodyDTO struct {
	AppID     string `json:"app_id"`
	Source    string `json:"source"`
	Kind      string `json:"kind"`
	Title     string `json:"title"`
	MediaRef  string `json:"media_ref"`
	Text      string `json:"text"`
	URL       string `json:"url"`
	URL2      string `json:"url2"`
	SurveyRef string `json:"survey_ref"`
}

func (b *BodyDTO) toEntity() (*entity.MessageBody, error) {
	kind, err := entity.ParseMessageKind(b.Kind)
	if err != nil {
		return nil, err
	}
	return &entity.MessageBody{
		AppID:     b.AppID,
		Source:    b.Source,
		Kind:      kind,
		Title:     b.Title,
		MediaRef:  b.MediaRef,
		Text:      b.Text,
		URL:       b.URL,
		URL2:      b.URL2,
		SurveyRef: b.SurveyRef,
	}, nil
}

// DispatchRequest carries either an inline body or the id of a stored one.
// BulkFile is a base64 CSV import.
type DispatchRequest struct {
	Body       *BodyDTO `json:"body"`
	BodyID     int64    `json:"body_id"`
	Recipients []string `json:"recipients"`
	OrgUnits   []string `json:"org_units"`
	BulkFile   []byte   `json:"bulk_file"`
}

func (req *DispatchRequest) toInput(requestID string) (dispatch.DispatchInput, error) {
	in := dispatch.DispatchInput{
		BodyID: req.BodyID,
		Recipients: entity.RecipientSpec{
			Identifiers: req.Recipients,
			OrgUnits:    req.OrgUnits,
			BulkFile:    req.BulkFile,
		},
		RequestID: requestID,
	}
	if req.Body != nil && req.BodyID > 0 {
		return in, &entity.ValidationError{Field: "body", Message: "body and body_id are mutually exclusive"}
	}
	if req.Body != nil {
		b, err := req.Body.toEntity()
		if err != nil {
			return in, err
		}
		in.Body = b
	}
	return in, nil
}

type DispatchResponse struct {
	RequestID     string `json:"request_id"`
	BodyID        int64  `json:"body_id"`
	Recipients    int    `json:"recipients"`
	Created       int    `json:"created"`
	Suppressed    int    `json:"suppressed"`
	Shards        int    `json:"shards"`
	EnqueueFailed int    `json:"enqueue_failed"`
}

func dispatchResponse(res *dispatch.DispatchResult) DispatchResponse {
	return DispatchResponse{
		RequestID:     res.RequestID,
		BodyID:        res.BodyID,
		Recipients:    res.Recipients,
		Created:       res.Created,
		Suppressed:    res.Suppressed,
		Shards:        res.Shards,
		EnqueueFailed: res.EnqueueFailed,
	}
}

type RecallRequest struct {
	TaskID     string `json:"task_id"`
	DeliveryID string `json:"delivery_id"`
}

type RecallGroupDTO struct {
	AppID    string `json:"app_id"`
	BodyID   int64  `json:"body_id"`
	TaskID   string `json:"task_id"`
	Status   string `json:"status"`
	Affected int    `json:"affected"`
	Error    string `json:"error,omitempty"`
}

type RecallResponse struct {
	RecalledAt   time.Time        `json:"recalled_at"`
	Affected     int              `json:"affected"`
	TaskSiblings int              `json:"task_siblings,omitempty"`
	Groups       []RecallGroupDTO `json:"groups"`
}

func recallResponse(out *recallUC.Outcome) RecallResponse {
	resp := RecallResponse{
		RecalledAt:   out.RecalledAt,
		Affected:     out.Affected(),
		TaskSiblings: out.TaskSiblings,
		Groups:       make([]RecallGroupDTO, 0, len(out.Groups)),
	}
	for _, g := range out.Groups {
		resp.Groups = append(resp.Groups, RecallGroupDTO{
			AppID:    g.Key.AppID,
			BodyID:   g.Key.BodyID,
			TaskID:   g.Key.TaskID,
			Status:   string(g.Status),
			Affected: g.Affected,
			Error:    g.Error,
		})
	}
	return resp
}

// ReceiptRequest timestamps come from the collaborator that observed them.
type ReceiptRequest struct {
	ReceivedAt *time.Time `json:"received_at"`
	ReadAt     *time.Time `json:"read_at"`
}
