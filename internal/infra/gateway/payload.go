package gateway

import (
	"fmt"

	"notify-pipeline/internal/domain/entity"
)

const (
	maxCardDescription = 512
	cardButtonText     = "Details"
	truncationSuffix   = "..."
)

// Message is a kind-specific send payload. Type is the gateway msgtype and
// Content is serialised under that key.
type Message struct {
	Type    string
	Content any
}

type textContent struct {
	Content string `json:"content"`
}

type mediaContent struct {
	MediaID     string `json:"media_id"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type textCardContent struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ButtonText  string `json:"btntxt"`
}

type newsArticle struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	PicURL      string `json:"picurl,omitempty"`
}

type newsContent struct {
	Articles []newsArticle `json:"articles"`
}

// BuildMessage converts a stored body into the gateway wire shape.
// The secondary URL becomes a second news article, or a trailing link on
// text messages.
func BuildMessage(b *entity.MessageBody) (Message, error) {
	if b == nil {
		return Message{}, fmt.Errorf("build message: nil body")
	}
	if err := b.Validate(); err != nil {
		return Message{}, fmt.Errorf("build message: %w", err)
	}

	switch b.Kind {
	case entity.KindText:
		content := b.Text
		for _, u := range []string{b.URL, b.URL2} {
			if u != "" {
				content += "\n" + u
			}
		}
		return Message{Type: "text", Content: textContent{Content: content}}, nil

	case entity.KindMarkdown:
		return Message{Type: "markdown", Content: textContent{Content: b.Text}}, nil

	case entity.KindImage, entity.KindFile:
		return Message{Type: string(b.Kind), Content: mediaContent{MediaID: b.MediaRef}}, nil

	case entity.KindVideo:
		return Message{Type: "video", Content: mediaContent{
			MediaID: b.MediaRef, Title: b.Title, Description: b.Text,
		}}, nil

	case entity.KindTextCard:
		return Message{Type: "textcard", Content: textCardContent{
			Title:       b.Title,
			Description: truncate(b.Text, maxCardDescription),
			URL:         b.URL,
			ButtonText:  cardButtonText,
		}}, nil

	case entity.KindNews:
		articles := []newsArticle{{
			Title: b.Title, Description: b.Text, URL: b.URL, PicURL: b.MediaRef,
		}}
		if b.URL2 != "" {
			articles = append(articles, newsArticle{Title: b.Title, URL: b.URL2})
		}
		return Message{Type: "news", Content: newsContent{Articles: articles}}, nil
	}
	return Message{}, fmt.Errorf("build message: unsupported kind %q", b.Kind)
}

// truncate cuts text to maxRunes runes, appending a suffix when cut.
func truncate(text string, maxRunes int) string {
	r := []rune(text)
	if len(r) <= maxRunes {
		return text
	}
	keep := maxRunes - len(truncationSuffix)
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + truncationSuffix
}
