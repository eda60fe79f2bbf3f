// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package membership

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts credential outcomes. A nil *Metrics records nothing.
type Metrics struct {
	Validations       *prometheus.CounterVec
	Rehashes          *prometheus.CounterVec
	UsersCreated      *prometheus.CounterVec
	ResetTokensIssued prometheus.Counter
	ResetsCompleted   *prometheus.CounterVec
}

// NewMetrics creates and registers membership metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Validations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentials_validations_total",
				Help: "Total number of credential validations by result",
			},
			[]string{"result"},
		),
		Rehashes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentials_rehash_total",
				Help: "Total number of password rehashes after verification by outcome",
			},
			[]string{"outcome"},
		),
		UsersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentials_users_created_total",
				Help: "Total number of user creation attempts by outcome",
			},
			[]string{"outcome"},
		),
		ResetTokensIssued: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "credentials_reset_tokens_issued_total",
				Help: "Total number of password reset tokens issued",
			},
		),
		ResetsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentials_resets_total",
				Help: "Total number of password reset attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	reg.MustRegister(m.Validations, m.Rehashes, m.UsersCreated, m.ResetTokensIssued, m.ResetsCompleted)
	return m
}

func (m *Metrics) validation(result ValidationResult) {
	if m == nil {
		return
	}
	m.Validations.WithLabelValues(result.String()).Inc()
}

func (m *Metrics) rehash(outcome string) {
	if m == nil {
		return
	}
	m.Rehashes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) userCreated(outcome string) {
	if m == nil {
		return
	}
	m.UsersCreated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) resetIssued() {
	if m == nil {
		return
	}
	m.ResetTokensIssued.Inc()
}

func (m *Metrics) reset(outcome string) {
	if m == nil {
		return
	}
	m.ResetsCompleted.WithLabelValues(outcome).Inc()
}
