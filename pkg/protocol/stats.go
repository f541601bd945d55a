package protocol

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// engineStats holds the engine's dispatch counters, labelled by protocol
type engineStats struct {
	executed    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	rejected    *prometheus.CounterVec
	logicFaults *prometheus.CounterVec
	conflicts   *prometheus.CounterVec
}

func newEngineStats(reg prometheus.Registerer) *engineStats {
	f := promauto.With(reg)
	return &engineStats{
		executed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "obvengine_steps_executed_total",
			Help: "Steps that ran and committed",
		}, []string{"protocol"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "obvengine_messages_dropped_total",
			Help: "Messages dropped because no step applies",
		}, []string{"protocol"}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "obvengine_steps_rejected_total",
			Help: "Steps that rejected their input",
		}, []string{"protocol"}),
		logicFaults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "obvengine_logic_faults_total",
			Help: "Steps aborted by an internal inconsistency such as a wrong reception channel",
		}, []string{"protocol"}),
		conflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "obvengine_instance_conflicts_total",
			Help: "Concurrent modifications of a protocol instance that were retried",
		}, []string{"protocol"}),
	}
}
