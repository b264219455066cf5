package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/domain/fingerprint"
)

func baseContent() fingerprint.ContentFields {
	return fingerprint.ContentFields{
		AppID:     "hr",
		Kind:      entity.KindTextCard,
		Title:     "Quarterly survey",
		MediaRef:  "",
		Text:      "Please answer",
		URL:       "https://example.com/s/1",
		URL2:      "https://example.com/s/1/m",
		SurveyRef: "survey-1",
	}
}

func TestContent_Stable(t *testing.T) {
	a := fingerprint.Content(baseContent())
	b := fingerprint.Content(baseContent())

	assert.Equal(t, a, b)
	assert.Len(t, a, 64)
}

func TestContent_EveryFieldMatters(t *testing.T) {
	base := fingerprint.Content(baseContent())

	mutations := map[string]func(f *fingerprint.ContentFields){
		"app":    func(f *fingerprint.ContentFields) { f.AppID = "ops" },
		"kind":   func(f *fingerprint.ContentFields) { f.Kind = entity.KindNews },
		"title":  func(f *fingerprint.ContentFields) { f.Title += "!" },
		"media":  func(f *fingerprint.ContentFields) { f.MediaRef = "m-1" },
		"text":   func(f *fingerprint.ContentFields) { f.Text = "" },
		"url":    func(f *fingerprint.ContentFields) { f.URL = "https://example.com/s/2" },
		"url2":   func(f *fingerprint.ContentFields) { f.URL2 = "" },
		"survey": func(f *fingerprint.ContentFields) { f.SurveyRef = "survey-2" },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			f := baseContent()
			mutate(&f)
			assert.NotEqual(t, base, fingerprint.Content(f))
		})
	}
}

func TestContent_FieldBoundaries(t *testing.T) {
	a := baseContent()
	a.Title, a.Text = "ab", "c"
	b := baseContent()
	b.Title, b.Text = "a", "bc"

	assert.NotEqual(t, fingerprint.Content(a), fingerprint.Content(b))
}

func TestDelivery_EveryFieldMatters(t *testing.T) {
	body := &entity.MessageBody{
		ID: 7, AppID: "hr", Kind: entity.KindText, Title: "t", Text: "hello", URL: "https://example.com",
	}
	base := fingerprint.Delivery(fingerprint.ForRecipient(body, "m1"))
	assert.Equal(t, base, fingerprint.Delivery(fingerprint.ForRecipient(body, "m1")))

	assert.NotEqual(t, base, fingerprint.Delivery(fingerprint.ForRecipient(body, "m2")))

	other := *body
	other.ID = 8
	assert.NotEqual(t, base, fingerprint.Delivery(fingerprint.ForRecipient(&other, "m1")))

	other = *body
	other.Text = "bye"
	assert.NotEqual(t, base, fingerprint.Delivery(fingerprint.ForRecipient(&other, "m1")))
}

func TestDelivery_IgnoresSecondaryFields(t *testing.T) {
	body := &entity.MessageBody{ID: 7, AppID: "hr", Kind: entity.KindText, Text: "hello"}
	withExtras := *body
	withExtras.URL2 = "https://example.com/m"
	withExtras.SurveyRef = "survey-9"

	assert.Equal(t,
		fingerprint.Delivery(fingerprint.ForRecipient(body, "m1")),
		fingerprint.Delivery(fingerprint.ForRecipient(&withExtras, "m1")))
	assert.NotEqual(t,
		fingerprint.Content(fingerprint.FromBody(body)),
		fingerprint.Content(fingerprint.FromBody(&withExtras)))
}

func TestContentAndDeliveryDomainsDiffer(t *testing.T) {
	assert.NotEqual(t,
		fingerprint.Content(fingerprint.ContentFields{}),
		fingerprint.Delivery(fingerprint.DeliveryFields{}))
}
