package coord

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var degradedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coord_degraded_total",
		Help: "Operations that hit an unavailable coordination store, by component and applied policy.",
	},
	[]string{"component", "policy"},
)

func init() {
	prometheus.MustRegister(degradedTotal)
}

var (
	throttleMu sync.Mutex
	throttles  = map[string]*rate.Sometimes{}
)

// ReportDegraded counts a store failure for component and logs a warning,
// at most once every 10 seconds per component so an outage does not flood
// the logs.
func ReportDegraded(component string, policy FailurePolicy, err error) {
	degradedTotal.WithLabelValues(component, policy.String()).Inc()

	throttleMu.Lock()
	s, ok := throttles[component]
	if !ok {
		s = &rate.Sometimes{First: 1, Interval: 10 * time.Second}
		throttles[component] = s
	}
	throttleMu.Unlock()

	s.Do(func() {
		log.Warn().Err(err).Str("component", component).Str("policy", policy.String()).
			Msg("coordination store unavailable")
	})
}
