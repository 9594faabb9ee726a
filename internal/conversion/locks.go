package conversion

import (
	"path/filepath"
	"sync"
)

// directoryLocks is a reference-counted set of directories with in-flight
// conversions. The lock is advisory: the external library scanner polls it
// before treating a directory as stable, but a second submission for an
// already-locked directory is still accepted.
type directoryLocks struct {
	mu   sync.Mutex
	dirs map[string]int
}

func newDirectoryLocks() *directoryLocks {
	return &directoryLocks{dirs: make(map[string]int)}
}

func (l *directoryLocks) lock(dir string) {
	dir = filepath.Clean(dir)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dirs[dir]++
}

func (l *directoryLocks) unlock(dir string) {
	dir = filepath.Clean(dir)
	l.mu.Lock()
	defer l.mu.Unlock()
	count, ok := l.dirs[dir]
	if !ok {
		return
	}
	if count <= 1 {
		delete(l.dirs, dir)
		return
	}
	l.dirs[dir] = count - 1
}

func (l *directoryLocks) locked(dir string) bool {
	dir = filepath.Clean(dir)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dirs[dir] > 0
}
