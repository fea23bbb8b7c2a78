//go:build !linux

package contextmgr

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/HendryAvila/devteam/internal/sdkerr"
)

const pollInterval = time.Second

// Watch starts hot reload of prompt files by polling modification times.
// Watching stops when ctx is done or StopWatching is called.
func (m *Manager) Watch(ctx context.Context) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.stopWatch != nil {
		return nil
	}

	seen, err := m.snapshotModTimes()
	if err != nil {
		return sdkerr.Wrap(sdkerr.KindConfiguration, err, "watching %s", m.dir)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			current, err := m.snapshotModTimes()
			if err != nil {
				continue
			}
			for name, mod := range current {
				if prev, ok := seen[name]; !ok || !prev.Equal(mod) {
					m.reloadFile(name)
				}
			}
			for name := range seen {
				if _, ok := current[name]; !ok {
					m.reloadFile(name)
				}
			}
			seen = current
		}
	}()
	m.stopWatch = func() {
		cancel()
		<-done
	}
	m.logger.Info("watching prompts", zap.String("dir", m.dir), zap.Duration("interval", pollInterval))
	return nil
}

func (m *Manager) snapshotModTimes() (map[string]time.Time, error) {
	names, err := m.promptFiles()
	if err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(m.dir, name))
		if err != nil {
			continue
		}
		out[name] = info.ModTime()
	}
	return out, nil
}
