package consensus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	blocksValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endgame_blocks_validated_total",
		Help: "Number of validated blocks by result",
	}, []string{"result"})
	validationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "endgame_block_validation_seconds",
		Help:    "Time spent verifying block state proofs",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
	})
	forkChoices = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "endgame_fork_choices_total",
		Help: "Number of fork choices by deciding rule",
	}, []string{"rule"})
)
