package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serpd_cycles_total",
		Help: "Adjustment cycles processed per currency",
	}, []string{"currency", "result"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serpd_settlements_total",
		Help: "Settlement attempts by direction and outcome",
	}, []string{"currency", "direction", "outcome"})

	SettlementRejects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serpd_settlement_rejects_total",
		Help: "Rejected settlements by reason",
	}, []string{"reason"})

	OracleObservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "serpd_oracle_observations_total",
		Help: "Oracle observations by pair and status",
	}, []string{"pair", "status"})

	PegDeviation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serpd_peg_deviation",
		Help: "Last observed deviation from peg per currency",
	}, []string{"currency"})

	ReserveBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "serpd_reserve_balance",
		Help: "Reserve account balance per peg currency",
	}, []string{"currency"})

	LatencyBucket = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "serpd_latency_bucket",
		Help:    "Request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)
