package monitoring

import "github.com/prometheus/client_golang/prometheus"

// Verification outcomes as recorded in the result label.
const (
	// ResultOK is recorded for tokens that passed verification.
	ResultOK = "ok"

	// ResultIntegrity is recorded for tokens whose tag didn't match.
	ResultIntegrity = "integrity"

	// ResultCaveat is recorded for tokens with an unsatisfied caveat.
	ResultCaveat = "caveat"

	// ResultOther is recorded for all other failures, such as malformed
	// tokens or unknown root keys.
	ResultOther = "other"
)

var verificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lnmac",
		Name:      "verifications_total",
		Help:      "Number of token verifications by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(verificationsTotal)
}

// ObserveVerification counts a token verification with the given result.
func ObserveVerification(result string) {
	verificationsTotal.WithLabelValues(result).Inc()
}
