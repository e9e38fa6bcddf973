package metrics

import "testing"

func TestCounterValue(t *testing.T) {
	c := JobExecutions.WithLabelValues("test.counter_value")
	before := CounterValue(c)
	c.Inc()
	c.Inc()
	if got := CounterValue(c); got != before+2 {
		t.Errorf("CounterValue = %v, want %v", got, before+2)
	}
}

func TestCounterVecTotal(t *testing.T) {
	JobErrors.WithLabelValues("test.vec_total.a").Inc()
	JobErrors.WithLabelValues("test.vec_total.b").Inc()
	JobErrors.WithLabelValues("test.vec_total.b").Inc()

	if got := CounterVecTotal(JobErrors); got < 3 {
		t.Errorf("CounterVecTotal = %v, want at least 3", got)
	}
}
