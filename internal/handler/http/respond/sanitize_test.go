package respond

import (
	"errors"
	"testing"
)

func TestSanitizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: errors.New("connection refused"), want: "connection refused"},
		{
			name: "gateway secret",
			err:  errors.New(`Get "https://gw.example.com/gettoken?corpid=c1&corpsecret=s3cret": EOF`),
			want: `Get "https://gw.example.com/gettoken?corpid=c1&corpsecret=****": EOF`,
		},
		{
			name: "access token",
			err:  errors.New("POST /message/send?access_token=abc.def failed"),
			want: "POST /message/send?access_token=**** failed",
		},
		{
			name: "dsn password",
			err:  errors.New("dial postgres://notify:hunter2@db:5432/notify"),
			want: "dial postgres://notify:****@db:5432/notify",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeError(tt.err); got != tt.want {
				t.Errorf("SanitizeError() = %q, want %q", got, tt.want)
			}
		})
	}
}
