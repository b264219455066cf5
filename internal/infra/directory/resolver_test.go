package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notify-pipeline/internal/infra/gateway"
)

// fakeAPI answers directory calls from in-memory tables.
type fakeAPI struct {
	mu       sync.Mutex
	children map[string][]int64
	members  map[string][]string
	mobiles  map[string]string
	failPath string
	calls    map[string]int
}

func (f *fakeAPI) record(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[path]++
}

func (f *fakeAPI) GetJSON(_ context.Context, _ string, path string, query url.Values, out any) error {
	f.record(path)
	if path == f.failPath {
		return errors.New("directory unavailable")
	}
	var payload any
	switch path {
	case "/department/simplelist":
		var deps []map[string]int64
		for _, id := range f.children[query.Get("id")] {
			deps = append(deps, map[string]int64{"id": id})
		}
		payload = map[string]any{"department_id": deps}
	case "/user/simplelist":
		var users []map[string]string
		for _, u := range f.members[query.Get("department_id")] {
			users = append(users, map[string]string{"userid": u})
		}
		payload = map[string]any{"userlist": users}
	}
	return roundTripJSON(payload, out)
}

func (f *fakeAPI) PostJSON(_ context.Context, _ string, path string, payload, out any) error {
	f.record(path)
	mobile := payload.(map[string]string)["mobile"]
	userID, ok := f.mobiles[mobile]
	if !ok {
		return &gateway.Error{Code: codeNotFound, Message: "mobile not found"}
	}
	return roundTripJSON(map[string]string{"userid": userID}, out)
}

func roundTripJSON(in, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func TestExpandOrgUnits_Transitive(t *testing.T) {
	api := &fakeAPI{
		children: map[string][]int64{
			"1": {2, 3},
			"2": {4},
			"4": {1}, // cycle back to the root
		},
		members: map[string][]string{
			"1": {"ceo"},
			"2": {"alice", "bob"},
			"3": {"bob", "carol"},
			"4": {"dave"},
		},
	}
	r := NewResolver(api, Config{AppID: "hr"})

	got, err := r.ExpandOrgUnits(context.Background(), []string{"1", "2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol", "ceo", "dave"}, got)
	assert.Equal(t, 4, api.calls["/department/simplelist"])
	assert.Equal(t, 4, api.calls["/user/simplelist"])
}

func TestExpandOrgUnits_Errors(t *testing.T) {
	tests := []struct {
		name  string
		units []string
		fail  string
	}{
		{name: "non numeric unit", units: []string{"sales"}},
		{name: "department listing fails", units: []string{"1"}, fail: "/department/simplelist"},
		{name: "member listing fails", units: []string{"1"}, fail: "/user/simplelist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(&fakeAPI{failPath: tt.fail}, Config{AppID: "hr"})
			_, err := r.ExpandOrgUnits(context.Background(), tt.units)
			assert.Error(t, err)
		})
	}
}

func TestExpandOrgUnits_Empty(t *testing.T) {
	r := NewResolver(&fakeAPI{}, Config{AppID: "hr"})
	got, err := r.ExpandOrgUnits(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDirectoryCodes(t *testing.T) {
	api := &fakeAPI{mobiles: map[string]string{"13800000001": "alice"}}
	r := NewResolver(api, Config{AppID: "hr"})

	codes, err := r.DirectoryCodes(context.Background(), []string{"13800000001", "13800000002", "bob"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"13800000001": "alice", "bob": "bob"}, codes)
	assert.Equal(t, 2, api.calls["/user/getuserid"])
}
