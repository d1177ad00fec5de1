package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Scrimzay/rtsworld/internal/actions"
	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/tick"
	"github.com/Scrimzay/rtsworld/internal/types"
)

// fail maps domain errors onto status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrVersionConflict), errors.Is(err, types.ErrClaimRejected):
		status = http.StatusConflict
	case errors.Is(err, types.ErrInvalidAction), errors.Is(err, types.ErrWorldNotActive):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrInsufficient):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": err.Error()})
}

func tickAllHandler(runner *tick.Runner) gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := runner.RunAll(c.Request.Context())
		if err != nil {
			fail(c, err)
			return
		}
		if results == nil {
			results = []tick.Result{}
		}
		c.JSON(http.StatusOK, gin.H{"results": results})
	}
}

func tickWorldHandler(s *tick.Scheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := s.RunTick(c.Request.Context(), c.Param("world"))
		status := http.StatusOK
		if err != nil {
			status = http.StatusInternalServerError
			if errors.Is(err, types.ErrNotFound) {
				status = http.StatusNotFound
			} else if errors.Is(err, types.ErrWorldNotActive) {
				status = http.StatusConflict
			}
		}
		c.JSON(status, gin.H{"results": []tick.Result{res}})
	}
}

type createWorldRequest struct {
	ID string `json:"id" binding:"required"`
}

func createWorldHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWorldRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w, err := a.CreateWorld(c.Request.Context(), req.ID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, w)
	}
}

func activateWorldHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := a.ActivateWorld(c.Request.Context(), c.Param("world"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func closeWorldHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := a.CloseWorld(c.Request.Context(), c.Param("world"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

func listWorldsHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		worlds, err := st.Worlds(c.Request.Context(), types.WorldStatus(c.Query("status")))
		if err != nil {
			fail(c, err)
			return
		}
		if worlds == nil {
			worlds = []types.World{}
		}
		c.JSON(http.StatusOK, gin.H{"worlds": worlds})
	}
}

func stateHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := st.Snapshot(c.Request.Context(), c.Param("world"))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, snap)
	}
}

func combatLogHandler(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		after, _ := strconv.ParseInt(c.DefaultQuery("after", "0"), 10, 64)
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		entries, err := st.CombatLog(c.Request.Context(), c.Param("world"), after, limit)
		if err != nil {
			fail(c, err)
			return
		}
		if entries == nil {
			entries = []types.CombatLogEntry{}
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	}
}

type joinRequest struct {
	Name string `json:"name"`
}

func joinHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req joinRequest
		_ = c.ShouldBindJSON(&req)
		p, err := a.JoinWorld(c.Request.Context(), c.Param("world"), c.GetInt64(playerKey), req.Name)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}

func upgradeHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := a.UpgradeBuilding(c.Request.Context(), c.Param("world"), c.GetInt64(playerKey), types.BuildingKind(c.Param("kind")))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

type trainRequest struct {
	Kind string  `json:"kind" binding:"required"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func trainHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req trainRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := a.TrainUnit(c.Request.Context(), c.Param("world"), c.GetInt64(playerKey), req.Kind, types.Vec{X: req.X, Y: req.Y})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, u)
	}
}

type moveRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func moveHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		unitID, err := strconv.ParseInt(c.Param("unit"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad unit id"})
			return
		}
		var req moveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		u, err := a.MoveUnit(c.Request.Context(), c.Param("world"), c.GetInt64(playerKey), unitID, types.Vec{X: req.X, Y: req.Y})
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

func stopHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		unitID, err := strconv.ParseInt(c.Param("unit"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad unit id"})
			return
		}
		u, err := a.StopUnit(c.Request.Context(), c.Param("world"), c.GetInt64(playerKey), unitID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, u)
	}
}

type claimRequest struct {
	BaseID int64 `json:"base_id" binding:"required"`
}

func claimHandler(a *actions.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req claimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		attempt, err := a.SubmitClaim(c.Request.Context(), c.Param("world"), c.GetInt64(playerKey), req.BaseID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, attempt)
	}
}
