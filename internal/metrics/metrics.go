// Package metrics exposes delivery-engine counters on a dedicated listener.
package metrics

import (
	"fmt"
	"net/http"

	vm "github.com/VictoriaMetrics/metrics"
	"github.com/sirupsen/logrus"
)

// Config for the metrics listener
type Config struct {
	Enabled bool
	Port    int
	Path    string
}

var config Config

// Init starts the metrics HTTP listener when enabled.
func Init(cfg Config) {
	config = cfg

	if !config.Enabled {
		logrus.Info("Metrics collection is disabled")
		return
	}

	go startMetricsServer()

	logrus.WithField("port", config.Port).Info("Metrics system initialized")
}

func startMetricsServer() {
	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, func(w http.ResponseWriter, r *http.Request) {
		vm.WritePrometheus(w, true)
	})

	addr := fmt.Sprintf(":%d", config.Port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logrus.WithError(err).Error("Metrics server stopped")
	}
}

// RecordMessageSent counts a successful dispatch on a platform.
func RecordMessageSent(platform string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`campaign_messages_sent_total{platform=%q}`, platform)).Inc()
}

// RecordMessageFailed counts a failed dispatch on a platform.
func RecordMessageFailed(platform string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`campaign_messages_failed_total{platform=%q}`, platform)).Inc()
}

// RecordDispatch counts a dispatch run by outcome (completed, paused,
// cancelled, failed).
func RecordDispatch(outcome string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`campaign_dispatch_runs_total{outcome=%q}`, outcome)).Inc()
}

// RecordResend counts resend operations by kind (failed, all).
func RecordResend(kind string) {
	vm.GetOrCreateCounter(fmt.Sprintf(`campaign_resend_total{kind=%q}`, kind)).Inc()
}

// RecordWatchdogScan counts one reconciliation pass.
func RecordWatchdogScan(scanned, fixed int) {
	vm.GetOrCreateCounter(`campaign_watchdog_scanned_total`).Add(scanned)
	vm.GetOrCreateCounter(`campaign_watchdog_fixed_total`).Add(fixed)
}

// RecordWatchdogAbandoned counts recipients abandoned when the watchdog
// completes a stale campaign. Operator-visible signal for the lossy repair.
func RecordWatchdogAbandoned(count int) {
	vm.GetOrCreateCounter(`campaign_watchdog_abandoned_total`).Add(count)
}

// RecordReconcileConflict counts campaigns the watchdog skipped because they
// were mutated concurrently.
func RecordReconcileConflict() {
	vm.GetOrCreateCounter(`campaign_watchdog_conflicts_total`).Inc()
}
