package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"

	"notify-pipeline/internal/domain/entity"
	"notify-pipeline/internal/infra/scheduler"
)

// Command is one operator action on a periodic schedule. The set of
// implementations is closed: Create, Update, Enable, Disable and Delete.
type Command interface {
	command()
}

// Create registers a new schedule in the draft state.
type Create struct {
	CronExpr   string
	MaxRuns    int
	BodyID     int64
	Recipients []string
	OrgUnits   []string
	Remark     string
}

// Update changes the fields that are set. Nil fields are left as stored.
type Update struct {
	ID         int64
	CronExpr   *string
	MaxRuns    *int
	Recipients *[]string
	OrgUnits   *[]string
	Remark     *string
}

type Enable struct{ ID int64 }

type Disable struct{ ID int64 }

type Delete struct{ ID int64 }

func (Create) command()  {}
func (Update) command()  {}
func (Enable) command()  {}
func (Disable) command() {}
func (Delete) command()  {}

// Action names accepted by ParseCommand.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionEnable  = "enable"
	ActionDisable = "disable"
	ActionDelete  = "delete"
)

type payload struct {
	ID         int64     `json:"id"`
	CronExpr   *string   `json:"cron_expr"`
	MaxRuns    *int      `json:"max_runs"`
	BodyID     int64     `json:"body_id"`
	Recipients *[]string `json:"recipients"`
	OrgUnits   *[]string `json:"org_units"`
	Remark     *string   `json:"remark"`
}

// ParseCommand builds a validated command from its wire form.
func ParseCommand(action string, data []byte) (Command, error) {
	return ParseCommandFor(0, action, data)
}

// ParseCommandFor is ParseCommand with the schedule id taken from the route.
// A non-zero id wins over the payload's own. An empty payload is accepted.
func ParseCommandFor(id int64, action string, data []byte) (Command, error) {
	var p payload
	if len(bytes.TrimSpace(data)) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&p); err != nil {
			return nil, &entity.ValidationError{Field: "payload", Message: err.Error()}
		}
	}
	if id != 0 {
		p.ID = id
	}

	var cmd Command
	switch action {
	case ActionCreate:
		c := Create{BodyID: p.BodyID}
		if p.CronExpr != nil {
			c.CronExpr = *p.CronExpr
		}
		if p.MaxRuns != nil {
			c.MaxRuns = *p.MaxRuns
		}
		if p.Recipients != nil {
			c.Recipients = *p.Recipients
		}
		if p.OrgUnits != nil {
			c.OrgUnits = *p.OrgUnits
		}
		if p.Remark != nil {
			c.Remark = *p.Remark
		}
		cmd = c
	case ActionUpdate:
		cmd = Update{
			ID:         p.ID,
			CronExpr:   p.CronExpr,
			MaxRuns:    p.MaxRuns,
			Recipients: p.Recipients,
			OrgUnits:   p.OrgUnits,
			Remark:     p.Remark,
		}
	case ActionEnable:
		cmd = Enable{ID: p.ID}
	case ActionDisable:
		cmd = Disable{ID: p.ID}
	case ActionDelete:
		cmd = Delete{ID: p.ID}
	default:
		return nil, &entity.ValidationError{Field: "action", Message: fmt.Sprintf("unknown action %q", action)}
	}

	if err := Validate(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// Validate checks a command without touching storage.
func Validate(cmd Command) error {
	switch c := cmd.(type) {
	case Create:
		s := entity.PeriodicSchedule{
			CronExpr:   c.CronExpr,
			MaxRuns:    c.MaxRuns,
			BodyID:     c.BodyID,
			Recipients: c.Recipients,
			OrgUnits:   c.OrgUnits,
		}
		if err := s.Validate(); err != nil {
			return err
		}
		return validateCron(c.CronExpr)
	case Update:
		if err := validateID(c.ID); err != nil {
			return err
		}
		if c.CronExpr != nil {
			if err := validateCron(*c.CronExpr); err != nil {
				return err
			}
		}
		if c.MaxRuns != nil && *c.MaxRuns < 0 {
			return &entity.ValidationError{Field: "max_runs", Message: "must be zero or positive"}
		}
		return nil
	case Enable:
		return validateID(c.ID)
	case Disable:
		return validateID(c.ID)
	case Delete:
		return validateID(c.ID)
	case nil:
		return &entity.ValidationError{Field: "action", Message: "is required"}
	default:
		return &entity.ValidationError{Field: "action", Message: fmt.Sprintf("unsupported command %T", cmd)}
	}
}

func validateID(id int64) error {
	if id <= 0 {
		return &entity.ValidationError{Field: "id", Message: "must be positive"}
	}
	return nil
}

func validateCron(expr string) error {
	if expr == "" {
		return &entity.ValidationError{Field: "cron_expr", Message: "is required"}
	}
	if err := scheduler.Validate(expr); err != nil {
		return &entity.ValidationError{Field: "cron_expr", Message: err.Error()}
	}
	return nil
}
