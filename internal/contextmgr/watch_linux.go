//go:build linux

package contextmgr

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/HendryAvila/devteam/internal/sdkerr"
)

// Watch starts hot reload of prompt files. The directory is watched rather
// than the files so editors that save through a rename are picked up.
// Watching stops when ctx is done or StopWatching is called.
func (m *Manager) Watch(ctx context.Context) error {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.stopWatch != nil {
		return nil
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return sdkerr.Wrap(sdkerr.KindConfiguration, err, "inotify init")
	}
	if _, err := unix.InotifyAddWatch(fd, m.dir, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO|unix.IN_DELETE); err != nil {
		unix.Close(fd)
		return sdkerr.Wrap(sdkerr.KindConfiguration, err, "watching %s", m.dir)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		m.watchLoop(ctx, fd)
	}()
	m.stopWatch = func() {
		cancel()
		<-done
	}
	m.logger.Info("watching prompts", zap.String("dir", m.dir))
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, fd int) {
	defer unix.Close(fd)
	buf := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			return
		}

		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			m.logger.Warn("prompt watcher stopped", zap.Error(err))
			return
		}
		if n == 0 {
			continue
		}

		read, err := unix.Read(fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			m.logger.Warn("prompt watcher stopped", zap.Error(err))
			return
		}

		changed := map[string]struct{}{}
		collectEventNames(buf[:read], changed)
		if len(changed) == 0 {
			continue
		}

		// Coalesce bursts of writes from a single save.
		time.Sleep(50 * time.Millisecond)
		for {
			read, err := unix.Read(fd, buf)
			if err != nil || read <= 0 {
				break
			}
			collectEventNames(buf[:read], changed)
		}

		for name := range changed {
			m.reloadFile(name)
		}
	}
}

// collectEventNames adds the .md file names found in a buffer of inotify
// events. Event layout per inotify(7): wd, mask, cookie, len (4 bytes
// each), then a null-padded name of len bytes.
func collectEventNames(buf []byte, into map[string]struct{}) {
	off := 0
	for off+unix.SizeofInotifyEvent <= len(buf) {
		nameLen := int(binary.NativeEndian.Uint32(buf[off+12 : off+16]))
		size := unix.SizeofInotifyEvent + nameLen
		if off+size > len(buf) {
			return
		}
		if nameLen > 0 {
			raw := buf[off+unix.SizeofInotifyEvent : off+size]
			if i := bytes.IndexByte(raw, 0); i >= 0 {
				raw = raw[:i]
			}
			if _, _, ok := parsePromptFilename(string(raw)); ok {
				into[string(raw)] = struct{}{}
			}
		}
		off += size
	}
}
