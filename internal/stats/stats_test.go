package stats

import (
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewStatsUpdater(t *testing.T) {
	mux := http.NewServeMux()
	su := NewStatsUpdater(mux)
	assert.NotNil(t, su, "expected StatsUpdater to be non-nil")
	assert.NotNil(t, su.updateChan, "expected updateChan to be initialized")
	handler, pattern := mux.Handler(&http.Request{URL: &url.URL{Path: "/debug/vars"}, Method: http.MethodGet})
	assert.NotNil(t, handler, "expected handler for /debug/vars to be set")
	assert.Equal(t, "GET /debug/vars", pattern, "expected handler to be registered for GET method on /debug/vars")
}

func TestRegisterMetric(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(MessagesSent)
	assert.NotNil(t, su.vars.Get(MessagesSent), "expected registered metric to be retrievable")

	su.Run()
	defer su.Stop()
	su.Incr(MessagesSent)
}

func TestSet(t *testing.T) {
	su := NewStatsUpdater(http.NewServeMux())
	su.RegisterMetric(RosterSize)
	su.Run()
	defer su.Stop()

	su.Incr(RosterSize)
	su.Incr(RosterSize)
	su.Set(RosterSize, 7)

	assert.Eventually(t, func() bool {
		return su.vars.Get(RosterSize).String() == "7"
	}, time.Second, 10*time.Millisecond, "expected the gauge to take the absolute value")
}
