package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"classcheckin/internal/attendance"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveAdmission(attendance.ChannelToken, "admitted", 30*time.Millisecond)
	c.ObserveAdmission(attendance.ChannelToken, "admitted", 10*time.Millisecond)
	c.ObserveAdmission(attendance.ChannelManual, "duplicate_check_in", time.Millisecond)
	c.ObserveTransition(attendance.SessionClosed)
	c.ObserveTokenIssued()

	assert.Equal(t, 2.0, testutil.ToFloat64(c.admissions.WithLabelValues("token", "admitted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.admissions.WithLabelValues("manual", "duplicate_check_in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("closed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokens))
	assert.Equal(t, 2, testutil.CollectAndCount(c.latency))
}
