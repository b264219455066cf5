package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCronSchedule(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "daily", expr: "30 5 * * *"},
		{name: "weekdays", expr: "30 9 * * 1-5"},
		{name: "descriptor", expr: "@daily"},
		{name: "every", expr: "@every 5m"},
		{name: "empty", expr: "", wantErr: true},
		{name: "garbage", expr: "not a cron", wantErr: true},
		{name: "six fields", expr: "0 30 5 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCronSchedule(tt.expr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateTimezone(t *testing.T) {
	assert.NoError(t, ValidateTimezone("UTC"))
	assert.NoError(t, ValidateTimezone("Asia/Tokyo"))
	assert.Error(t, ValidateTimezone(""))
	assert.Error(t, ValidateTimezone("Mars/Olympus"))
}

func TestValidateRanges(t *testing.T) {
	assert.NoError(t, ValidateIntRange(5, 1, 10))
	assert.Error(t, ValidateIntRange(0, 1, 10))
	assert.Error(t, ValidateIntRange(11, 1, 10))

	assert.NoError(t, ValidateDuration(time.Minute, time.Second, time.Hour))
	assert.Error(t, ValidateDuration(2*time.Hour, time.Second, time.Hour))

	assert.NoError(t, ValidatePositiveDuration(time.Nanosecond))
	assert.Error(t, ValidatePositiveDuration(0))
}

func TestValidateURL(t *testing.T) {
	assert.NoError(t, ValidateURL("https://gw.example.com/api", "https"))
	assert.NoError(t, ValidateURL("amqp://guest:guest@mq:5672/", "amqp", "amqps"))
	assert.Error(t, ValidateURL("http://gw.example.com", "https"))
	assert.Error(t, ValidateURL("/relative", "https"))
}

func TestValidateOneOf(t *testing.T) {
	v := ValidateOneOf("memory", "amqp")
	assert.NoError(t, v("amqp"))
	assert.Error(t, v("kafka"))
}
