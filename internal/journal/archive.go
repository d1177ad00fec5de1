package journal

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"
	"lukechampine.com/blake3"

	"github.com/Scrimzay/rtsworld/internal/types"
)

// ChainLink is one line of a world's chain.jsonl. FinalHash covers the
// tick, the previous link and the snapshot bytes, so rewriting any
// archived snapshot breaks every link after it.
type ChainLink struct {
	Tick      int64  `json:"tick"`
	Timestamp int64  `json:"timestamp"`
	File      string `json:"file"`
	PrevHash  string `json:"prev_hash"`
	StateHash string `json:"state_hash"`
	FinalHash string `json:"final_hash"`
}

// Archive writes lz4-compressed world snapshots every N ticks.
type Archive struct {
	dir   string
	every int64

	mu   sync.Mutex
	prev map[string]string
}

func NewArchive(dir string, everyTicks int64) *Archive {
	return &Archive{dir: dir, every: everyTicks, prev: make(map[string]string)}
}

// Due reports whether tick should be archived.
func (a *Archive) Due(tick int64) bool {
	return a.every > 0 && tick > 0 && tick%a.every == 0
}

func (a *Archive) Save(snap *types.Snapshot, at time.Time) (ChainLink, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	worldID := snap.World.ID
	dir := filepath.Join(a.dir, worldID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ChainLink{}, err
	}

	prev, ok := a.prev[worldID]
	if !ok {
		last, err := lastLink(filepath.Join(dir, "chain.jsonl"))
		if err != nil {
			return ChainLink{}, err
		}
		prev = last.FinalHash
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return ChainLink{}, err
	}
	compressed, err := compressLZ4(data)
	if err != nil {
		return ChainLink{}, err
	}

	link := ChainLink{
		Tick:      snap.World.TickCount,
		Timestamp: at.Unix(),
		File:      fmt.Sprintf("snapshot-%010d.json.lz4", snap.World.TickCount),
		PrevHash:  prev,
		StateHash: hashBLAKE3(data),
	}
	link.FinalHash = hashBLAKE3([]byte(fmt.Sprintf("%d-%d-%s-%s", link.Tick, link.Timestamp, link.PrevHash, link.StateHash)))

	if err := os.WriteFile(filepath.Join(dir, link.File), compressed, 0o644); err != nil {
		return ChainLink{}, err
	}
	if err := appendLink(filepath.Join(dir, "chain.jsonl"), link); err != nil {
		return ChainLink{}, err
	}
	a.prev[worldID] = link.FinalHash
	return link, nil
}

// Load reads back the snapshot of one chain link and checks its hash.
func (a *Archive) Load(worldID string, link ChainLink) (*types.Snapshot, error) {
	compressed, err := os.ReadFile(filepath.Join(a.dir, worldID, link.File))
	if err != nil {
		return nil, err
	}
	data, err := decompressLZ4(compressed)
	if err != nil {
		return nil, err
	}
	if got := hashBLAKE3(data); got != link.StateHash {
		return nil, fmt.Errorf("snapshot %s: state hash %s, chain says %s", link.File, got, link.StateHash)
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Verify walks a world's chain and every snapshot file it names.
func (a *Archive) Verify(worldID string) ([]ChainLink, error) {
	links, err := readLinks(filepath.Join(a.dir, worldID, "chain.jsonl"))
	if err != nil {
		return nil, err
	}
	prev := ""
	for _, l := range links {
		if l.PrevHash != prev {
			return links, fmt.Errorf("tick %d: broken chain", l.Tick)
		}
		want := hashBLAKE3([]byte(fmt.Sprintf("%d-%d-%s-%s", l.Tick, l.Timestamp, l.PrevHash, l.StateHash)))
		if want != l.FinalHash {
			return links, fmt.Errorf("tick %d: final hash mismatch", l.Tick)
		}
		if _, err := a.Load(worldID, l); err != nil {
			return links, err
		}
		prev = l.FinalHash
	}
	return links, nil
}

func appendLink(path string, l ChainLink) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(l)
	if err != nil {
		return err
	}
	_, err = f.Write(append(b, '\n'))
	return err
}

func readLinks(path string) ([]ChainLink, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []ChainLink
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var l ChainLink
		if err := json.Unmarshal(sc.Bytes(), &l); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, sc.Err()
}

func lastLink(path string) (ChainLink, error) {
	links, err := readLinks(path)
	if err != nil || len(links) == 0 {
		return ChainLink{}, err
	}
	return links[len(links)-1], nil
}

func compressLZ4(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(src); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressLZ4(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(bytes.NewReader(src))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hashBLAKE3(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
