package gateway

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-pipeline/internal/domain/entity"
)

func TestBuildMessage(t *testing.T) {
	tests := []struct {
		name     string
		body     entity.MessageBody
		wantType string
		want     any
	}{
		{
			name:     "text with links",
			body:     entity.MessageBody{AppID: "hr", Kind: entity.KindText, Text: "hello", URL: "https://a.example.com", URL2: "https://b.example.com"},
			wantType: "text",
			want:     textContent{Content: "hello\nhttps://a.example.com\nhttps://b.example.com"},
		},
		{
			name:     "markdown",
			body:     entity.MessageBody{AppID: "hr", Kind: entity.KindMarkdown, Text: "**hi**"},
			wantType: "markdown",
			want:     textContent{Content: "**hi**"},
		},
		{
			name:     "image",
			body:     entity.MessageBody{AppID: "hr", Kind: entity.KindImage, MediaRef: "m1"},
			wantType: "image",
			want:     mediaContent{MediaID: "m1"},
		},
		{
			name:     "video",
			body:     entity.MessageBody{AppID: "hr", Kind: entity.KindVideo, MediaRef: "m2", Title: "Safety", Text: "watch"},
			wantType: "video",
			want:     mediaContent{MediaID: "m2", Title: "Safety", Description: "watch"},
		},
		{
			name:     "textcard",
			body:     entity.MessageBody{AppID: "hr", Kind: entity.KindTextCard, Title: "Survey", Text: "2 minutes", URL: "https://s.example.com/1"},
			wantType: "textcard",
			want:     textCardContent{Title: "Survey", Description: "2 minutes", URL: "https://s.example.com/1", ButtonText: "Details"},
		},
		{
			name:     "news with secondary url",
			body:     entity.MessageBody{AppID: "hr", Kind: entity.KindNews, Title: "Win", URL: "https://a.example.com", URL2: "https://b.example.com", MediaRef: "https://img"},
			wantType: "news",
			want: newsContent{Articles: []newsArticle{
				{Title: "Win", URL: "https://a.example.com", PicURL: "https://img"},
				{Title: "Win", URL: "https://b.example.com"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := BuildMessage(&tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, msg.Type)
			assert.Equal(t, tt.want, msg.Content)
		})
	}
}

func TestBuildMessage_Invalid(t *testing.T) {
	_, err := BuildMessage(&entity.MessageBody{AppID: "hr", Kind: entity.KindImage})
	assert.True(t, entity.IsValidation(err))

	_, err = BuildMessage(nil)
	assert.Error(t, err)
}

func TestBuildMessage_TruncatesCardDescription(t *testing.T) {
	body := &entity.MessageBody{
		AppID: "hr", Kind: entity.KindTextCard, Title: "t", URL: "https://x.example.com",
		Text: strings.Repeat("界", 600),
	}
	msg, err := BuildMessage(body)
	require.NoError(t, err)

	desc := msg.Content.(textCardContent).Description
	assert.Equal(t, maxCardDescription, len([]rune(desc)))
	assert.True(t, strings.HasSuffix(desc, truncationSuffix))
}
