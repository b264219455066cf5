package entity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// maxURLLength bounds jump URLs carried in message bodies.
const maxURLLength = 2048

// ValidateJumpURL checks that a jump URL is well formed and uses http or https.
func ValidateJumpURL(rawURL string) error {
	if len(rawURL) > maxURLLength {
		return fmt.Errorf("must not exceed %d characters", maxURLLength)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.New("must use http or https scheme")
	}
	if parsed.Host == "" {
		return errors.New("must have a valid host")
	}
	return nil
}

// NormalizeRecipient trims a recipient identifier. Empty results are dropped by callers.
func NormalizeRecipient(s string) string {
	return strings.TrimSpace(s)
}
