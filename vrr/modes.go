package vrr

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/yaoapp/kun/log"
	"gopkg.in/yaml.v3"
)

// RateTolerance is how far, in Hz, a mode's rate may be from the requested
// rate and still match. Panels report rates like 59.94 for 60.
const RateTolerance = 0.5

// Mode is one display configuration the compositor knows.
type Mode struct {
	ID          int32   `yaml:"id" json:"id"`
	Width       int     `yaml:"width" json:"width"`
	Height      int     `yaml:"height" json:"height"`
	RefreshRate float32 `yaml:"refresh_rate" json:"refresh_rate"`
	Default     bool    `yaml:"default,omitempty" json:"default,omitempty"`
}

type modeFile struct {
	Modes []Mode `yaml:"modes"`
}

// ModeTable is a ModeResolver over a fixed list of modes, optionally backed
// by a YAML file.
//
//	modes:
//	  - {id: 0, width: 1080, height: 2400, refresh_rate: 60, default: true}
//	  - {id: 1, width: 1080, height: 2400, refresh_rate: 90}
type ModeTable struct {
	path string

	mu    sync.RWMutex
	modes []Mode
}

// NewModeTable returns a table over modes.
func NewModeTable(modes []Mode) *ModeTable {
	t := &ModeTable{}
	t.set(modes)
	return t
}

// LoadModeTable reads a YAML mode file.
func LoadModeTable(path string) (*ModeTable, error) {
	t := &ModeTable{path: path}
	if err := t.Reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// Reload re-reads the backing file. On error the current modes are kept.
func (t *ModeTable) Reload() error {
	if t.path == "" {
		return nil
	}
	raw, err := os.ReadFile(t.path)
	if err != nil {
		return fmt.Errorf("read mode table: %w", err)
	}
	var f modeFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse mode table %s: %w", t.path, err)
	}
	if len(f.Modes) == 0 {
		return fmt.Errorf("mode table %s: no modes", t.path)
	}
	t.set(f.Modes)
	log.Info("vrr: loaded %d display modes from %s", len(f.Modes), t.path)
	return nil
}

func (t *ModeTable) set(modes []Mode) {
	sorted := append([]Mode(nil), modes...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	t.mu.Lock()
	t.modes = sorted
	t.mu.Unlock()
}

// Modes returns a copy of the table, ordered by id.
func (t *ModeTable) Modes() []Mode {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Mode(nil), t.modes...)
}

// FindDefaultModeID returns the mode matching rate at the default
// resolution. When no mode at the default resolution matches, any matching
// mode is taken. Ties go to the lowest id.
func (t *ModeTable) FindDefaultModeID(rate float32) (int32, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var w, h int
	for _, m := range t.modes {
		if m.Default {
			w, h = m.Width, m.Height
			break
		}
	}

	fallback := int32(-1)
	for _, m := range t.modes {
		if math.Abs(float64(m.RefreshRate-rate)) > RateTolerance {
			continue
		}
		if m.Width == w && m.Height == h {
			return m.ID, nil
		}
		if fallback < 0 {
			fallback = m.ID
		}
	}
	if fallback >= 0 {
		return fallback, nil
	}
	return 0, fmt.Errorf("%w: %.2f", ErrNoMode, rate)
}

// Watch reloads the table whenever its file changes, until ctx is done.
// The directory is watched so editors that replace the file are seen.
func (t *ModeTable) Watch(ctx context.Context) error {
	if t.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("watch %s: %w", t.path, err)
	}
	name := filepath.Clean(t.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != name || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := t.Reload(); err != nil {
				log.Warn("vrr: mode table reload: %v", err)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("vrr: mode table watcher: %v", err)
		}
	}
}
