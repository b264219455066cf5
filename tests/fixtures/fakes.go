package fixtures

import (
	"context"
	"fmt"
	"sync"

	"notify-pipeline/internal/config"
	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/gateway"
	"notify-pipeline/internal/infra/queue"
)

// Apps is a fixed app registry.
type Apps map[string]config.App

// DefaultApps registers the apps used by TextBody and CardBody.
func DefaultApps() Apps {
	return Apps{"hr": {ID: "hr", CorpID: "corp", AgentID: 1000002, RatePerSecond: 100, Burst: 100}}
}

func (a Apps) Get(id string) (config.App, error) {
	app, ok := a[id]
	if !ok {
		return config.App{}, &entity.NotFoundError{Resource: "app", Key: id}
	}
	return app, nil
}

// TextBody returns a valid text body for the hr app.
func TextBody(text string) *entity.MessageBody {
	return &entity.MessageBody{AppID: "hr", Source: "ops", Kind: entity.KindText, Text: text}
}

// CardBody returns a valid survey-linked text card for the hr app.
func CardBody(title, surveyRef string) *entity.MessageBody {
	return &entity.MessageBody{
		AppID: "hr", Source: "survey", Kind: entity.KindTextCard,
		Title: title, Text: "Takes two minutes", URL: "https://survey.example.com/" + surveyRef,
		SurveyRef: surveyRef,
	}
}

// Queue records enqueued jobs. Drain hands them to a handler synchronously.
type Queue struct {
	mu   sync.Mutex
	jobs []queue.Job
	// FailAfter makes every Enqueue after the first FailAfter calls fail.
	// Zero disables failures.
	FailAfter int
	calls     int
}

var _ queue.Queue = (*Queue)(nil)

func (q *Queue) Enqueue(_ context.Context, job queue.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	if q.FailAfter > 0 && q.calls > q.FailAfter {
		return queue.ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *Queue) Consume(ctx context.Context, _ queue.Handler) error {
	<-ctx.Done()
	return nil
}

func (q *Queue) Shutdown(context.Context) error { return nil }

// Calls returns how many times Enqueue was called.
func (q *Queue) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// Jobs returns the jobs enqueued and not yet drained.
func (q *Queue) Jobs() []queue.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Job{}, q.jobs...)
}

// Drain runs handler on every pending job in order and returns the first error.
func (q *Queue) Drain(ctx context.Context, handler queue.Handler) error {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()
	for _, j := range jobs {
		if err := handler(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

// SendCall is one recorded gateway send.
type SendCall struct {
	AppID      string
	Recipients []string
	Message    gateway.Message
}

// Gateway is a scripted gateway. Task ids are task-1, task-2, ...
type Gateway struct {
	mu        sync.Mutex
	Sends     []SendCall
	Recalls   []string
	SendErr   error
	RecallErr error
	// Invalid lists directory codes reported back as invalid recipients.
	Invalid []string
	seq     int
}

func (g *Gateway) Send(_ context.Context, appID string, recipients []string, msg gateway.Message) (*gateway.SendResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Sends = append(g.Sends, SendCall{AppID: appID, Recipients: append([]string{}, recipients...), Message: msg})
	if g.SendErr != nil {
		return nil, g.SendErr
	}
	g.seq++
	return &gateway.SendResult{
		TaskID:            fmt.Sprintf("task-%d", g.seq),
		RequestID:         fmt.Sprintf("gw-req-%d", g.seq),
		InvalidRecipients: g.Invalid,
	}, nil
}

func (g *Gateway) Recall(_ context.Context, _ string, taskID string) (*gateway.RecallResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Recalls = append(g.Recalls, taskID)
	if g.RecallErr != nil {
		return nil, g.RecallErr
	}
	return &gateway.RecallResult{Raw: `{"errcode":0,"errmsg":"ok"}`}, nil
}

// SendCount returns the number of Send calls.
func (g *Gateway) SendCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Sends)
}

// Resolver maps org units to members. Directory codes are the identifier
// prefixed with "u-"; identifiers listed in Unknown have none.
type Resolver struct {
	Units   map[string][]string
	Unknown map[string]bool
	Err     error
}

func (r *Resolver) ExpandOrgUnits(_ context.Context, units []string) ([]string, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	var out []string
	for _, u := range units {
		out = append(out, r.Units[u]...)
	}
	return out, nil
}

func (r *Resolver) DirectoryCodes(_ context.Context, identifiers []string) (map[string]string, error) {
	if r.Err != nil {
		return nil, r.Err
	}
	out := make(map[string]string, len(identifiers))
	for _, id := range identifiers {
		if !r.Unknown[id] {
			out[id] = "u-" + id
		}
	}
	return out, nil
}
