package music

import (
	"os"
	"path/filepath"
	"time"
)

// Sweep drops cached downloads older than max_age that are not queued or
// playing, and deletes stray files in the cache directory that no cache
// entry refers to. It returns the number of files removed.
func (m *Module) Sweep() int {
	cutoff := time.Now().Add(-m.config.MaxAge)
	removed := 0

	known := make(map[string]bool)
	for _, key := range m.cache.Keys() {
		track, ok := m.cache.Get(key)
		if !ok {
			continue
		}
		if track.FetchedAt.Before(cutoff) && !m.inUse(track.Path) {
			if m.cache.Remove(key) {
				removed++
			}
			continue
		}
		known[filepath.Clean(track.Path)] = true
	}

	files, err := os.ReadDir(m.config.CacheDir)
	if err != nil {
		m.logger.Warn("Failed to list cache dir", "dir", m.config.CacheDir, "error", err)
		return removed
	}
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		path := filepath.Clean(filepath.Join(m.config.CacheDir, f.Name()))
		if known[path] || m.inUse(path) {
			continue
		}
		info, err := f.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err = os.Remove(path); err != nil {
			m.logger.Warn("Failed to remove stale download", "path", path, "error", err)
			continue
		}
		removed++
	}

	if removed > 0 {
		m.logger.Info("Swept music cache", "removed", removed)
	}
	return removed
}

// evicted deletes the file of an artifact leaving the cache unless it is
// still queued; the sweeper collects those later.
func (m *Module) evicted(_ string, track *Track) {
	if track == nil || m.inUse(track.Path) {
		return
	}
	if err := os.Remove(track.Path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("Failed to remove evicted download", "path", track.Path, "error", err)
	}
}

func (m *Module) inUse(path string) bool {
	m.mu.Lock()
	players := make([]*Player, 0, len(m.players))
	for _, p := range m.players {
		players = append(players, p)
	}
	playlists := make([]*Playlist, 0, len(m.playlists))
	for _, pl := range m.playlists {
		playlists = append(playlists, pl)
	}
	m.mu.Unlock()

	for _, p := range players {
		if current := p.Current(); current != nil && current.Track != nil && current.Track.Path == path {
			return true
		}
	}
	for _, pl := range playlists {
		if pl.Contains(path) {
			return true
		}
	}
	return false
}
