// Package fingerprint computes the stable content hashes used as dedup and cache keys.
//
// Two identities exist. Content identifies a MessageBody row; Delivery identifies
// one body sent to one recipient. The field sets are not nested: Delivery omits
// URL2 and SurveyRef and adds BodyID and Recipient. This matches existing stored
// keys and is pending product review. Changing either list invalidates every key.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"notify-pipeline/internal/domain/entity"
)

// ContentFields are the canonical fields of a MessageBody.
type ContentFields struct {
	AppID     string
	Kind      entity.MessageKind
	Title     string
	MediaRef  string
	Text      string
	URL       string
	URL2      string
	SurveyRef string
}

// DeliveryFields are the canonical fields of one body-to-recipient delivery.
type DeliveryFields struct {
	AppID     string
	BodyID    int64
	Kind      entity.MessageKind
	Title     string
	MediaRef  string
	Text      string
	URL       string
	Recipient string
}

// FromBody extracts the content fields of b.
func FromBody(b *entity.MessageBody) ContentFields {
	return ContentFields{
		AppID:     b.AppID,
		Kind:      b.Kind,
		Title:     b.Title,
		MediaRef:  b.MediaRef,
		Text:      b.Text,
		URL:       b.URL,
		URL2:      b.URL2,
		SurveyRef: b.SurveyRef,
	}
}

// ForRecipient extracts the delivery fields of b sent to recipient.
func ForRecipient(b *entity.MessageBody, recipient string) DeliveryFields {
	return DeliveryFields{
		AppID:     b.AppID,
		BodyID:    b.ID,
		Kind:      b.Kind,
		Title:     b.Title,
		MediaRef:  b.MediaRef,
		Text:      b.Text,
		URL:       b.URL,
		Recipient: recipient,
	}
}

// Content returns the fingerprint of a message body.
func Content(f ContentFields) string {
	return sum("content",
		f.AppID, string(f.Kind), f.Title, f.MediaRef, f.Text, f.URL, f.URL2, f.SurveyRef)
}

// Delivery returns the fingerprint of a delivery.
func Delivery(f DeliveryFields) string {
	return sum("delivery",
		f.AppID, strconv.FormatInt(f.BodyID, 10), string(f.Kind), f.Title, f.MediaRef, f.Text, f.URL, f.Recipient)
}

// sum hashes length-prefixed fields so that ("ab","c") and ("a","bc") differ.
func sum(domain string, fields ...string) string {
	h := sha256.New()
	h.Write([]byte(domain))
	for _, f := range fields {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(len(f))))
		h.Write([]byte{':'})
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))
}
