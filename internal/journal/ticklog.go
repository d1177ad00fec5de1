package journal

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// TickEntry is one committed tick as written to the tick log.
type TickEntry struct {
	WorldID   string                 `json:"world_id"`
	Tick      int64                  `json:"tick"`
	At        time.Time              `json:"at"`
	ElapsedMs int64                  `json:"elapsed_ms"`
	Players   []int64                `json:"players,omitempty"`
	Units     []int64                `json:"units,omitempty"`
	Bases     []int64                `json:"bases,omitempty"`
	Combat    []types.CombatLogEntry `json:"combat,omitempty"`
	Claims    []types.ClaimResult    `json:"claims,omitempty"`
}

// TickLog keeps one rotating writer per world under dir/<world>/.
type TickLog struct {
	dir string

	mu      sync.Mutex
	writers map[string]*JSONLZstdWriter
}

func NewTickLog(dir string) *TickLog {
	return &TickLog{dir: dir, writers: make(map[string]*JSONLZstdWriter)}
}

func (l *TickLog) WriteTick(e TickEntry) error {
	return l.writer(e.WorldID).Write(e)
}

func (l *TickLog) writer(worldID string) *JSONLZstdWriter {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.writers[worldID]
	if !ok {
		w = NewJSONLZstdWriter(filepath.Join(l.dir, worldID), "ticks")
		l.writers[worldID] = w
	}
	return w
}

func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var first error
	for id, w := range l.writers {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
		delete(l.writers, id)
	}
	return first
}
