package schedule

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_commands_total",
			Help: "Schedule commands applied, by command and status",
		},
		[]string{"command", "status"},
	)

	firesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_fires_total",
			Help: "Schedule firings, by outcome",
		},
		[]string{"outcome"}, // dispatched|skipped|no_recipients|error
	)

	monitorTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schedule_monitor_transitions_total",
			Help: "Schedules handled by the expiry monitor",
		},
		[]string{"result"}, // expired|deferred
	)
)

func recordCommand(cmd Command, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	commandsTotal.WithLabelValues(commandName(cmd), status).Inc()
}

func commandName(cmd Command) string {
	switch cmd.(type) {
	case Create:
		return ActionCreate
	case Update:
		return ActionUpdate
	case Enable:
		return ActionEnable
	case Disable:
		return ActionDisable
	case Delete:
		return ActionDelete
	default:
		return "unknown"
	}
}
