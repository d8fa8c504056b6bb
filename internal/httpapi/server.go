// Package httpapi exposes the read-only HTTP surface over the state
// engine (spec §6.2): GET /api/state and GET /api/updates, both returning
// the same origin/sensor_id-grouped SensorEntryView schema.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"sensorhub"
)

// Engine is the subset of state.Engine the HTTP API needs.
type Engine interface {
	SnapshotState() map[string]map[string]sensorhub.SensorEntryView
	DrainUIUpdates() []sensorhub.SensorEntry
}

// NewRouter builds the gin engine serving the read API. Unknown paths 404
// and unsupported methods on known paths 405, both with CORS headers set
// (spec §6.2).
func NewRouter(engine Engine) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(corsMiddleware)

	r.NoRoute(func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.NoMethod(func(c *gin.Context) { c.Status(http.StatusMethodNotAllowed) })

	r.GET("/api/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.SnapshotState())
	})

	r.GET("/api/updates", func(c *gin.Context) {
		c.JSON(http.StatusOK, groupByOrigin(engine.DrainUIUpdates()))
	})

	return r
}

func corsMiddleware(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Next()
}

// groupByOrigin reshapes a flat drain into the same
// { origin: { sensor_id: SensorEntryView } } schema SnapshotState returns
// (spec §6.2: "/api/updates ... Same schema").
func groupByOrigin(entries []sensorhub.SensorEntry) map[string]map[string]sensorhub.SensorEntryView {
	out := make(map[string]map[string]sensorhub.SensorEntryView)
	for _, entry := range entries {
		sensorID := strings.TrimPrefix(entry.Key, entry.Origin+":")
		byOrigin, ok := out[entry.Origin]
		if !ok {
			byOrigin = make(map[string]sensorhub.SensorEntryView)
			out[entry.Origin] = byOrigin
		}
		byOrigin[sensorID] = entry.View()
	}
	return out
}
