// Package metrics holds the Prometheus collectors served on /metrics.
package metrics

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ScansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dormitory",
		Name:      "rfid_scans_total",
		Help:      "RFID scans stored, by action.",
	}, []string{"action"})

	ScansDebounced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dormitory",
		Name:      "rfid_scans_debounced_total",
		Help:      "Repeated card reads ignored inside the debounce window.",
	})

	FallbackTimestamps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dormitory",
		Name:      "presence_fallback_timestamps_total",
		Help:      "Scan events served with an unparseable timestamp.",
	})

	ActivitiesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dormitory",
		Name:      "activity_history_writes_total",
		Help:      "Activity history entries written by the worker, by result.",
	}, []string{"result"})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dormitory",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"route", "status"})
)

// HTTP counts requests by matched route.
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
