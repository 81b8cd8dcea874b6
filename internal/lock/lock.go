// Package lock guards a session directory so only one daemon serves it.
package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file inside a session directory.
const FileName = "LOCK"

// Info is what a holder records in the lock file.
type Info struct {
	PID        int
	PersonUUID string
	Since      time.Time
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Info
	Path string
}

func (e *LockHeldError) Error() string {
	if e.PersonUUID != "" {
		return fmt.Sprintf("session lock held by PID %d for %s (%s)", e.PID, e.PersonUUID, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
}

// Lock is an acquired session lock file.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes an exclusive lock on the session directory and records the
// current PID and the signed in person, if any.
func Acquire(sessionDir, personUUID string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, FileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		return nil, &LockHeldError{Info: parse(string(data)), Path: lockPath}
	}

	l := &Lock{file: f, path: lockPath}
	if err := l.write(Info{PID: os.Getpid(), PersonUUID: personUUID, Since: time.Now().UTC()}); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// Inspect reads the lock file of a session directory without taking it.
// ok is false when no lock file exists.
func Inspect(sessionDir string) (info Info, ok bool, err error) {
	data, err := os.ReadFile(filepath.Join(sessionDir, FileName))
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, err
	}
	return parse(string(data)), true, nil
}

// Update rewrites the recorded person, keeping PID and start time.
func (l *Lock) Update(personUUID string) error {
	if l == nil || l.file == nil {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	info := parse(string(data))
	info.PersonUUID = personUUID
	return l.write(info)
}

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so no stale file survives the unlock.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func (l *Lock) write(info Info) error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nperson=%s\ntime=%s\n", info.PID, info.PersonUUID, info.Since.Format(time.RFC3339))
	_, err := l.file.WriteString(content)
	return err
}

func parse(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "person":
			info.PersonUUID = value
		case "time":
			info.Since, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}
