package metrics

import (
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/sirupsen/logrus"

	"github.com/dbd-testing/teststage/pkg/types"
)

// Recorder holds the collectors used by teststage to export data to
// prometheus.
type Recorder struct {
	Log      logrus.FieldLogger
	Registry *prometheus.Registry

	Sessions        *prometheus.CounterVec
	SessionDuration *prometheus.GaugeVec
	Records         *prometheus.GaugeVec
	RunOutcome      prometheus.Gauge
	RunDuration     prometheus.Gauge
}

const namespace = "teststage"

// NewRecorder initializes a Recorder and sets up the collectors in a
// dedicated registry. If logger is nil, logging is disabled.
func NewRecorder(logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		l := logrus.New()
		l.Out = ioutil.Discard
		logger = l
	}

	r := new(Recorder)
	r.Log = logger
	r.Registry = prometheus.NewRegistry()
	factory := promauto.With(r.Registry)

	r.Sessions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "The number of finished sessions by configuration, outcome and error kind",
		},
		[]string{"configuration", "outcome", "error_kind"},
	)
	r.SessionDuration = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "The duration of the last session of a configuration, teardown included",
		},
		[]string{"configuration"},
	)
	r.Records = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "result_records",
			Help:      "The number of result records of the last session of a configuration, by status",
		},
		[]string{"configuration", "status"},
	)
	r.RunOutcome = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_outcome",
			Help:      "The aggregate exit code of the last run",
		},
	)
	r.RunDuration = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "The duration of the last run, builds included",
		},
	)

	return r
}

// RecordSession records a finished session.
func (r *Recorder) RecordSession(info *types.SessionInfo) {
	kind := info.ErrKind
	if kind == "" {
		kind = "none"
	}
	r.Sessions.With(prometheus.Labels{
		"configuration": info.Configuration,
		"outcome":       info.Outcome.String(),
		"error_kind":    kind,
	}).Inc()

	r.SessionDuration.With(prometheus.Labels{"configuration": info.Configuration}).Set(info.Duration.Seconds())

	for _, status := range []types.Status{types.Passed, types.Failed, types.Error} {
		labels := prometheus.Labels{"configuration": info.Configuration, "status": string(status)}
		r.Records.With(labels).Set(float64(info.Records[status]))
	}
}

// RecordRun records the aggregate outcome of a run.
func (r *Recorder) RecordRun(outcome types.Outcome, d time.Duration) {
	r.RunOutcome.Set(float64(outcome))
	r.RunDuration.Set(d.Seconds())
}

// WriteTextfile writes the collected metrics to path in the text exposition
// format, eg. for the node exporter textfile collector.
func (r *Recorder) WriteTextfile(path string) error {
	err := prometheus.WriteToTextfile(path, r.Registry)
	if err != nil {
		return errors.Wrapf(err, "could not write metrics to %s", path)
	}
	r.Log.WithField("path", path).Debug("wrote metrics")
	return nil
}

// Push pushes the collected metrics to the Pushgateway at url, grouped by
// runID.
func (r *Recorder) Push(url, runID string) error {
	err := push.New(url, namespace).Grouping("run_id", runID).Gatherer(r.Registry).Push()
	if err != nil {
		return errors.Wrapf(err, "could not push metrics to %s", url)
	}
	r.Log.WithField("pushgateway", url).Debug("pushed metrics")
	return nil
}
