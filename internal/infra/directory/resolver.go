// Package directory resolves organisational units and recipient identifiers
// against the gateway's contact directory.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"notify-pipeline/internal/infra/gateway"
	"notify-pipeline/internal/resilience/circuitbreaker"
)

// mobilePattern matches identifiers that must be mapped to a directory code.
// Anything else is already a directory user id.
var mobilePattern = regexp.MustCompile(`^\+?\d{11,15}$`)

// codeNotFound is the gateway errcode for an unknown mobile number.
const codeNotFound = 46004

// API is the subset of the gateway client the resolver needs.
type API interface {
	GetJSON(ctx context.Context, appID, path string, query url.Values, out any) error
	PostJSON(ctx context.Context, appID, path string, payload, out any) error
}

type Config struct {
	// AppID names the app whose credentials read the directory.
	AppID string
	// Concurrency bounds parallel directory calls.
	Concurrency int
}

type Resolver struct {
	api API
	cfg Config
	cb  *circuitbreaker.CircuitBreaker
}

func NewResolver(api API, cfg Config) *Resolver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	return &Resolver{
		api: api,
		cfg: cfg,
		cb:  circuitbreaker.NewWithFilter(circuitbreaker.DirectoryConfig(), gateway.IsBusinessError),
	}
}

type departmentList struct {
	Departments []struct {
		ID       int64 `json:"id"`
		ParentID int64 `json:"parentid"`
	} `json:"department_id"`
}

type memberList struct {
	Users []struct {
		UserID string `json:"userid"`
	} `json:"userlist"`
}

// ExpandOrgUnits returns the members of units and of every unit below them,
// deduplicated and sorted. Unit ids are the gateway's numeric department ids.
func (r *Resolver) ExpandOrgUnits(ctx context.Context, units []string) ([]string, error) {
	if len(units) == 0 {
		return nil, nil
	}
	departments, err := r.walkDepartments(ctx, units)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	members := make(map[string]struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, id := range departments {
		id := id
		g.Go(func() error {
			var list memberList
			query := url.Values{"department_id": {strconv.FormatInt(id, 10)}}
			if err := r.get(gctx, "/user/simplelist", query, &list); err != nil {
				return fmt.Errorf("list members of %d: %w", id, err)
			}
			mu.Lock()
			for _, u := range list.Users {
				if u.UserID != "" {
					members[u.UserID] = struct{}{}
				}
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("expand org units: %w", err)
	}

	out := make([]string, 0, len(members))
	for m := range members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out, nil
}

// walkDepartments collects every department reachable from roots. The
// visited set stops cycles and repeated subtrees.
func (r *Resolver) walkDepartments(ctx context.Context, roots []string) ([]int64, error) {
	visited := make(map[int64]struct{})
	queue := make([]int64, 0, len(roots))
	for _, raw := range roots {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expand org units: invalid unit %q", raw)
		}
		if _, ok := visited[id]; !ok {
			visited[id] = struct{}{}
			queue = append(queue, id)
		}
	}

	for i := 0; i < len(queue); i++ {
		var list departmentList
		query := url.Values{"id": {strconv.FormatInt(queue[i], 10)}}
		if err := r.get(ctx, "/department/simplelist", query, &list); err != nil {
			return nil, fmt.Errorf("list departments under %d: %w", queue[i], err)
		}
		for _, d := range list.Departments {
			if _, ok := visited[d.ID]; ok {
				continue
			}
			visited[d.ID] = struct{}{}
			queue = append(queue, d.ID)
		}
	}
	return queue, nil
}

// DirectoryCodes maps recipient identifiers to gateway user ids. Identifiers
// that are not mobile numbers map to themselves. Unknown mobiles are left out
// of the result so the caller can record them as failed.
func (r *Resolver) DirectoryCodes(ctx context.Context, identifiers []string) (map[string]string, error) {
	codes := make(map[string]string, len(identifiers))
	var mobiles []string
	for _, id := range identifiers {
		if mobilePattern.MatchString(id) {
			mobiles = append(mobiles, id)
			continue
		}
		codes[id] = id
	}
	if len(mobiles) == 0 {
		return codes, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, mobile := range mobiles {
		mobile := mobile
		g.Go(func() error {
			var resp struct {
				UserID string `json:"userid"`
			}
			err := r.post(gctx, "/user/getuserid", map[string]string{"mobile": mobile}, &resp)
			var gwErr *gateway.Error
			if errors.As(err, &gwErr) && gwErr.Code == codeNotFound {
				slog.Warn("Mobile not found in directory", slog.String("app_id", r.cfg.AppID))
				return nil
			}
			if err != nil {
				return err
			}
			mu.Lock()
			codes[mobile] = resp.UserID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolve directory codes: %w", err)
	}
	return codes, nil
}

func (r *Resolver) get(ctx context.Context, path string, query url.Values, out any) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.api.GetJSON(ctx, r.cfg.AppID, path, query, out)
	})
	return err
}

func (r *Resolver) post(ctx context.Context, path string, payload, out any) error {
	_, err := r.cb.Execute(func() (interface{}, error) {
		return nil, r.api.PostJSON(ctx, r.cfg.AppID, path, payload, out)
	})
	return err
}
