package respond

import (
	"regexp"
)

var (
	// query credentials sent to the gateway
	secretParamPattern = regexp.MustCompile(`(corpsecret|access_token)=[^&\s"]+`)

	// password inside a DSN
	dbPasswordPattern = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
)

// SanitizeError returns err's message with credentials masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	msg = secretParamPattern.ReplaceAllString(msg, "$1=****")
	msg = dbPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
