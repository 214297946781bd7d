package metrics

import (
	"testing"

	metrictestutil "github.com/pipewright/pipewright/internal/metrics/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
)

type MetricsSuite struct {
	suite.Suite
	registry *prometheus.Registry
}

func TestMetricsSuite(t *testing.T) {
	suite.Run(t, new(MetricsSuite))
}

func (s *MetricsSuite) SetupTest() {
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		SchedulerCallsTotal,
		SchedulerCallDurationSeconds,
		WorkflowTriggersTotal,
		JobRunTransitionsTotal,
		JobRunDurationSeconds,
		UnpauseBatchResultsTotal,
		DefinitionSyncTotal,
	)
}

func (s *MetricsSuite) TestSchedulerCallsTotalIncrements() {
	SchedulerCallsTotal.WithLabelValues("trigger", OutcomeOK).Inc()
	SchedulerCallsTotal.WithLabelValues("trigger", OutcomeUnreachable).Inc()
	SchedulerCallsTotal.WithLabelValues("trigger", OutcomeUnreachable).Inc()

	val := metrictestutil.CounterValue(s.T(), SchedulerCallsTotal, "trigger", OutcomeOK)
	s.GreaterOrEqual(val, float64(1))

	val = metrictestutil.CounterValue(s.T(), SchedulerCallsTotal, "trigger", OutcomeUnreachable)
	s.GreaterOrEqual(val, float64(2))
}

func (s *MetricsSuite) TestJobRunDurationObserves() {
	JobRunDurationSeconds.WithLabelValues("success").Observe(42.5)

	families, err := s.registry.Gather()
	s.Require().NoError(err)

	found := false
	for _, fam := range families {
		if fam.GetName() == "pipewright_job_run_duration_seconds" {
			for _, m := range fam.GetMetric() {
				h := m.GetHistogram()
				if h != nil && h.GetSampleCount() > 0 {
					found = true
				}
			}
		}
	}
	s.True(found, "expected histogram sample")
}

func (s *MetricsSuite) TestSchedulerCallDurationSampleCount() {
	before := metrictestutil.SampleCount(s.T(), SchedulerCallDurationSeconds, "get_run")
	SchedulerCallDurationSeconds.WithLabelValues("get_run").Observe(0.2)

	s.Equal(before+1, metrictestutil.SampleCount(s.T(), SchedulerCallDurationSeconds, "get_run"))
}

func (s *MetricsSuite) TestUnpauseBatchResultsAdds() {
	UnpauseBatchResultsTotal.WithLabelValues("succeeded").Add(3)

	val := metrictestutil.CounterValue(s.T(), UnpauseBatchResultsTotal, "succeeded")
	s.GreaterOrEqual(val, float64(3))
}

func (s *MetricsSuite) TestDefinitionSyncTotalIncrements() {
	DefinitionSyncTotal.WithLabelValues("pipelines", "imported").Inc()

	val := metrictestutil.CounterValue(s.T(), DefinitionSyncTotal, "pipelines", "imported")
	s.GreaterOrEqual(val, float64(1))
}
