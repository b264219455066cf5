package entity

import (
	"fmt"
	"time"
)

// MessageKind is the gateway message type of a body.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindMarkdown MessageKind = "markdown"
	KindImage    MessageKind = "image"
	KindFile     MessageKind = "file"
	KindVideo    MessageKind = "video"
	KindTextCard MessageKind = "textcard"
	KindNews     MessageKind = "news"
)

// ParseMessageKind returns the kind for s or a ValidationError for unknown kinds.
func ParseMessageKind(s string) (MessageKind, error) {
	switch k := MessageKind(s); k {
	case KindText, KindMarkdown, KindImage, KindFile, KindVideo, KindTextCard, KindNews:
		return k, nil
	default:
		return "", &ValidationError{Field: "kind", Message: fmt.Sprintf("unknown message kind %q", s)}
	}
}

// NeedsMedia reports whether the kind carries an uploaded media reference.
func (k MessageKind) NeedsMedia() bool {
	return k == KindImage || k == KindFile || k == KindVideo
}

// MessageBody is the content-addressed payload of a notification.
// Rows are unique per Fingerprint and are not modified after creation
// except for BackfillDisplay of empty display fields.
type MessageBody struct {
	ID          int64
	AppID       string
	Source      string
	Kind        MessageKind
	Title       string
	MediaRef    string
	Text        string
	URL         string
	URL2        string
	SurveyRef   string
	Fingerprint string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

const (
	maxTitleLength = 128
	maxTextLength  = 2048
)

// Validate checks the kind-specific required fields.
func (b *MessageBody) Validate() error {
	if b.AppID == "" {
		return &ValidationError{Field: "app_id", Message: "is required"}
	}
	if _, err := ParseMessageKind(string(b.Kind)); err != nil {
		return err
	}
	if len(b.Title) > maxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("must not exceed %d characters", maxTitleLength)}
	}
	if len(b.Text) > maxTextLength {
		return &ValidationError{Field: "text", Message: fmt.Sprintf("must not exceed %d characters", maxTextLength)}
	}

	switch b.Kind {
	case KindText, KindMarkdown:
		if b.Text == "" {
			return &ValidationError{Field: "text", Message: "is required for " + string(b.Kind)}
		}
	case KindImage, KindFile, KindVideo:
		if b.MediaRef == "" {
			return &ValidationError{Field: "media_ref", Message: "is required for " + string(b.Kind)}
		}
	case KindTextCard, KindNews:
		if b.Title == "" {
			return &ValidationError{Field: "title", Message: "is required for " + string(b.Kind)}
		}
		if b.URL == "" {
			return &ValidationError{Field: "url", Message: "is required for " + string(b.Kind)}
		}
	}

	for field, u := range map[string]string{"url": b.URL, "url2": b.URL2} {
		if u == "" {
			continue
		}
		if err := ValidateJumpURL(u); err != nil {
			return &ValidationError{Field: field, Message: err.Error()}
		}
	}
	return nil
}

// SurveyLinked reports whether recipients can complete an external survey from this body.
func (b *MessageBody) SurveyLinked() bool {
	return b.SurveyRef != ""
}
