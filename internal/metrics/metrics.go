// Copyright 2026 Bjørn Erik Pedersen
// SPDX-License-Identifier: Apache-2.0

// Package metrics exports run metrics in the Prometheus text format, for
// the node_exporter textfile collector.
package metrics

import (
	"github.com/bep/gitmirror/internal/lib"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values of gitmirror_repositories_total.
const (
	OutcomeCloned    = "cloned"
	OutcomePulled    = "pulled"
	OutcomeUpdated   = "updated"
	OutcomeCommitted = "committed"
	OutcomeProposed  = "proposed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomePlanned   = "planned"
)

// Recorder writes the metrics of every observed run to File.
// Each Recorder has its own registry.
type Recorder struct {
	// File is the textfile to write; an empty File only collects.
	File string

	registry     *prometheus.Registry
	repositories *prometheus.CounterVec
	duration     prometheus.Gauge
	lastRun      prometheus.Gauge
	success      prometheus.Gauge
}

func New(file string) *Recorder {
	r := &Recorder{
		File:     file,
		registry: prometheus.NewRegistry(),
		repositories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gitmirror_repositories_total",
			Help: "Repositories by run outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitmirror_run_duration_seconds",
			Help: "Duration of the last run in seconds.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitmirror_last_run_timestamp_seconds",
			Help: "Unix time the last run finished.",
		}),
		success: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gitmirror_run_success",
			Help: "1 if the last run had no failures, else 0.",
		}),
	}
	r.registry.MustRegister(r.repositories, r.duration, r.lastRun, r.success)
	return r
}

// Registry returns the registry the metrics are registered with.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *Recorder) ObserveRun(s *lib.RunSummary) error {
	add := func(outcome string, n int) {
		r.repositories.WithLabelValues(outcome).Add(float64(n))
	}
	add(OutcomeCloned, len(s.Cloned))
	add(OutcomePulled, len(s.Pulled))
	add(OutcomeUpdated, len(s.Updated))
	add(OutcomeCommitted, len(s.Committed))
	add(OutcomeProposed, len(s.Proposed))
	add(OutcomeFailed, len(s.Failed))
	add(OutcomeSkipped, len(s.Skipped))
	add(OutcomePlanned, len(s.Planned))

	r.duration.Set(s.End.Sub(s.Start).Seconds())
	r.lastRun.Set(float64(s.End.Unix()))
	if s.HasFailures() {
		r.success.Set(0)
	} else {
		r.success.Set(1)
	}

	if r.File == "" {
		return nil
	}
	return prometheus.WriteToTextfile(r.File, r.registry)
}
