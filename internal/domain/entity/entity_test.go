package entity

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "kind", Message: "unknown message kind \"fax\""}

	assert.Equal(t, "validation error on field 'kind': unknown message kind \"fax\"", err.Error())
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.True(t, IsValidation(err))
}

func TestNotFoundError_Unwrap(t *testing.T) {
	err := &NotFoundError{Resource: "app", Key: "hr-portal"}

	assert.Equal(t, `app "hr-portal" not found`, err.Error())
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsValidation(err))
}

func TestParseMessageKind(t *testing.T) {
	for _, k := range []string{"text", "markdown", "image", "file", "video", "textcard", "news"} {
		got, err := ParseMessageKind(k)
		require.NoError(t, err)
		assert.Equal(t, MessageKind(k), got)
	}

	_, err := ParseMessageKind("fax")
	assert.True(t, IsValidation(err))
}

func TestMessageBody_Validate(t *testing.T) {
	tests := []struct {
		name    string
		body    MessageBody
		wantErr string
	}{
		{
			name: "valid text",
			body: MessageBody{AppID: "app", Kind: KindText, Text: "hello"},
		},
		{
			name:    "missing app",
			body:    MessageBody{Kind: KindText, Text: "hello"},
			wantErr: "app_id",
		},
		{
			name:    "unknown kind",
			body:    MessageBody{AppID: "app", Kind: "fax"},
			wantErr: "kind",
		},
		{
			name:    "text without text",
			body:    MessageBody{AppID: "app", Kind: KindText},
			wantErr: "text",
		},
		{
			name:    "image without media",
			body:    MessageBody{AppID: "app", Kind: KindImage},
			wantErr: "media_ref",
		},
		{
			name:    "textcard without url",
			body:    MessageBody{AppID: "app", Kind: KindTextCard, Title: "Survey"},
			wantErr: "url",
		},
		{
			name: "valid textcard",
			body: MessageBody{AppID: "app", Kind: KindTextCard, Title: "Survey", URL: "https://example.com/s/1"},
		},
		{
			name:    "bad secondary url",
			body:    MessageBody{AppID: "app", Kind: KindText, Text: "x", URL2: "ftp://example.com"},
			wantErr: "url2",
		},
		{
			name:    "title too long",
			body:    MessageBody{AppID: "app", Kind: KindText, Text: "x", Title: strings.Repeat("t", 129)},
			wantErr: "title",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.body.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "want ValidationError, got %v", err)
			assert.Equal(t, tt.wantErr, ve.Field)
		})
	}
}

func TestDeliveryLog_Status(t *testing.T) {
	ok, ko := true, false

	pending := DeliveryLog{}
	assert.True(t, pending.Pending())
	assert.False(t, pending.Failed())

	sent := DeliveryLog{Success: &ok}
	assert.True(t, sent.Succeeded())

	failed := DeliveryLog{Success: &ko}
	assert.True(t, failed.Failed())
	assert.False(t, failed.Succeeded())
}

func TestTruncateErrorText(t *testing.T) {
	assert.Equal(t, "short", TruncateErrorText("short"))

	long := strings.Repeat("a", MaxErrorTextLength+10)
	assert.Len(t, TruncateErrorText(long), MaxErrorTextLength)

	// multi-byte runes are never split
	multi := strings.Repeat("é", MaxErrorTextLength)
	got := TruncateErrorText(multi)
	assert.LessOrEqual(t, len(got), MaxErrorTextLength)
	assert.True(t, strings.HasSuffix(got, "é"))
}

func TestPeriodicSchedule_Transition(t *testing.T) {
	tests := []struct {
		from ScheduleState
		to   ScheduleState
		ok   bool
	}{
		{ScheduleDraft, ScheduleEnabled, true},
		{ScheduleDisabled, ScheduleEnabled, true},
		{ScheduleEnabled, ScheduleDisabled, true},
		{ScheduleEnabled, ScheduleExpired, true},
		{ScheduleExpired, ScheduleDeleted, true},
		{ScheduleDraft, ScheduleDeleted, true},
		{ScheduleDraft, ScheduleDisabled, false},
		{ScheduleExpired, ScheduleEnabled, false},
		{ScheduleDeleted, ScheduleEnabled, false},
		{ScheduleDisabled, ScheduleExpired, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			s := &PeriodicSchedule{State: tt.from}
			err := s.Transition(tt.to)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.to, s.State)
			} else {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, tt.from, s.State)
			}
		})
	}
}

func TestPeriodicSchedule_Expired(t *testing.T) {
	now := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-2 * time.Minute)
	future := now.Add(time.Minute)
	justPassed := now.Add(-5 * time.Millisecond)
	edge := now.Add(-ExpiryGrace)

	assert.False(t, (&PeriodicSchedule{}).Expired(now))
	assert.True(t, (&PeriodicSchedule{Deadline: &past}).Expired(now))
	assert.False(t, (&PeriodicSchedule{Deadline: &future}).Expired(now))
	assert.False(t, (&PeriodicSchedule{Deadline: &justPassed}).Expired(now), "last run starts just after its deadline")
	assert.False(t, (&PeriodicSchedule{Deadline: &edge}).Expired(now))
}

func TestDedupRecipients(t *testing.T) {
	got := DedupRecipients([]string{" m1", "m2", "m1", "", "  ", "m3", "m2 "})
	assert.Equal(t, []string{"m1", "m2", "m3"}, got)
}

func TestRecipientSpec_Empty(t *testing.T) {
	assert.True(t, RecipientSpec{}.Empty())
	assert.False(t, RecipientSpec{OrgUnits: []string{"d1"}}.Empty())
	assert.False(t, RecipientSpec{BulkFile: []byte("m1\n")}.Empty())
}
