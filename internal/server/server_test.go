package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Scrimzay/rtsworld/internal/actions"
	"github.com/Scrimzay/rtsworld/internal/config"
	"github.com/Scrimzay/rtsworld/internal/realtime"
	"github.com/Scrimzay/rtsworld/internal/store"
	"github.com/Scrimzay/rtsworld/internal/tick"
	"github.com/Scrimzay/rtsworld/internal/types"
	"github.com/Scrimzay/rtsworld/internal/world"
)

const secret = "s3cret"

func newRouter(t *testing.T, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st, err := store.OpenSQLite(filepath.Join(t.TempDir(), "rts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Defaults()
	cfg.Trigger.Secret = secret
	cfg.Trigger.RatePerSec = 100
	cfg.Trigger.Burst = 100
	cfg.Server.ActionRate = 100
	cfg.Server.ActionBurst = 100
	cfg.Worlds.BasesPerWorld = 4
	if mutate != nil {
		mutate(&cfg)
	}

	p := &world.Pipeline{Production: world.NewProduction(cfg.Economy), Combat: world.NewCombat(cfg.Combat)}
	sched := tick.NewScheduler(st, p, cfg.Tick, nil)
	return SetupRouter(Deps{
		Store:       st,
		Actions:     actions.NewService(st, cfg, nil),
		Scheduler:   sched,
		Runner:      tick.NewRunner(sched, st, cfg.Tick.Concurrency, nil),
		Broadcaster: realtime.NewBroadcaster(8, 8, nil),
		Config:      cfg,
	})
}

func do(r http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

var admin = map[string]string{"Authorization": "Bearer " + secret}

func TestTriggerNeedsSecret(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodPost, "/v1/tick", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = do(r, http.MethodPost, "/v1/tick", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/tick", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"results":[]}`, w.Body.String())
}

func TestTriggerIsRateLimited(t *testing.T) {
	r := newRouter(t, func(c *config.Config) {
		c.Trigger.RatePerSec = 0.001
		c.Trigger.Burst = 1
	})

	assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/tick", nil, admin).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/v1/tick", nil, admin).Code)
}

func TestWorldFlow(t *testing.T) {
	r := newRouter(t, nil)
	player := map[string]string{"X-Player-ID": "1"}

	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/worlds", map[string]string{"id": "w1"}, admin).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/worlds/w1/activate", nil, admin).Code)
	require.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/v1/worlds/w1/join", map[string]string{"name": "alice"}, player).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/worlds/w1/join", nil, player).Code, "joined twice")
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/v1/worlds/w1/join", nil, nil).Code, "no player header")

	w := do(r, http.MethodPost, "/v1/worlds/w1/units", map[string]any{"kind": "scout", "x": 1, "y": 1}, player)
	require.Equal(t, http.StatusCreated, w.Code)
	var u types.Unit
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))

	w = do(r, http.MethodPost, "/v1/worlds/w1/units/"+strconv.FormatInt(u.ID, 10)+"/move", map[string]any{"x": 5, "y": 1}, player)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/v1/worlds/w1/tick", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Results []tick.Result `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, tick.Committed, body.Results[0].Status)

	w = do(r, http.MethodGet, "/v1/worlds/w1/state", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap types.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, int64(1), snap.World.TickCount)
	assert.Len(t, snap.Bases, 4)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/worlds/nope/state", nil, nil).Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(r, http.MethodPost, "/v1/worlds/w1/buildings/warehouse/upgrade", nil, player).Code)
}
