package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Scrimzay/rtsworld/internal/actions"
	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/realtime"
	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/tick"
)

// Deps is everything the HTTP layer calls into.
type Deps struct {
	Store       store.Store
	Actions     *actions.Service
	Scheduler   *tick.Scheduler
	Runner      *tick.Runner
	Broadcaster *realtime.Broadcaster
	Config      config.Config
	Log         *log.Logger
}

func SetupRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = log.Default()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(d.Log))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })
	r.GET("/ws", HandleWebsocket(d.Broadcaster))

	v1 := r.Group("/v1")

	trigger := v1.Group("", rateLimit(newLimiters(d.Config.Trigger.RatePerSec, d.Config.Trigger.Burst)), requireSecret(d.Config.Trigger.Secret))
	trigger.POST("/tick", tickAllHandler(d.Runner))
	trigger.POST("/worlds/:world/tick", tickWorldHandler(d.Scheduler))
	trigger.POST("/worlds", createWorldHandler(d.Actions))
	trigger.POST("/worlds/:world/activate", activateWorldHandler(d.Actions))
	trigger.POST("/worlds/:world/close", closeWorldHandler(d.Actions))

	v1.GET("/worlds", listWorldsHandler(d.Store))
	v1.GET("/worlds/:world/state", stateHandler(d.Store))
	v1.GET("/worlds/:world/combat", combatLogHandler(d.Store))

	act := v1.Group("/worlds/:world", rateLimit(newLimiters(d.Config.Server.ActionRate, d.Config.Server.ActionBurst)), playerID())
	act.POST("/join", joinHandler(d.Actions))
	act.POST("/buildings/:kind/upgrade", upgradeHandler(d.Actions))
	act.POST("/units", trainHandler(d.Actions))
	act.POST("/units/:unit/move", moveHandler(d.Actions))
	act.POST("/units/:unit/stop", stopHandler(d.Actions))
	act.POST("/claims", claimHandler(d.Actions))

	return r
}

func requestLogger(l *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Writer.Status() >= http.StatusInternalServerError {
			l.Printf("%s %s -> %d %v", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), c.Errors.ByType(gin.ErrorTypeAny))
		}
	}
}
