package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.CallStarted()
	c.CallStarted()
	c.CallEnded("goodbye")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeCalls))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("goodbye")))

	c.Transition("job_options", "representative_transfer")
	c.Transition("job_options", "job_options")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.escalations))
	assert.Equal(t, 1, testutil.CollectAndCount(c.transitions))

	c.SpeechOutcome("too_short")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.speechOutcomes.WithLabelValues("too_short")))

	c.Collaborator("lookup_phone", 30*time.Millisecond, nil)
	c.Collaborator("lookup_phone", time.Second, errors.New("boom"))
	assert.Equal(t, 2, testutil.CollectAndCount(c.collaborator))

	c.PersistResult(nil)
	c.PersistResult(errors.New("redis down"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.persistErrors))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.CallStarted()
		c.Transition("a", "b")
		c.Dropped()
		c.PersistResult(errors.New("x"))
	})
}
