// Package artifact owns every transient audio file the service creates,
// from atomic write to guaranteed deletion.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrEmptyWrite indicates an upload produced zero bytes on disk.
var ErrEmptyWrite = errors.New("artifact write produced no data")

const (
	inputPrefix  = "input_"
	outputPrefix = "output_"
	debugPrefix  = "debug_input_"
	inputExt     = ".wav"
	outputExt    = ".mp3"
)

// Manager tracks input and output audio artifacts inside a single working
// directory. Filenames are qualified by session id, so concurrent requests
// for different sessions never collide on disk.
type Manager struct {
	dir        string
	serveGrace time.Duration
	outputTTL  time.Duration
	inputTTL   time.Duration

	onRemoved func(kind string)
}

// Config carries the lifecycle windows. Zero values fall back to the
// standard timings: 30s serve grace, 10m output TTL, 5m input TTL.
type Config struct {
	Dir        string
	ServeGrace time.Duration
	OutputTTL  time.Duration
	InputTTL   time.Duration
}

func NewManager(cfg Config) *Manager {
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	if cfg.ServeGrace <= 0 {
		cfg.ServeGrace = 30 * time.Second
	}
	if cfg.OutputTTL <= 0 {
		cfg.OutputTTL = 10 * time.Minute
	}
	if cfg.InputTTL <= 0 {
		cfg.InputTTL = 5 * time.Minute
	}
	return &Manager{
		dir:        cfg.Dir,
		serveGrace: cfg.ServeGrace,
		outputTTL:  cfg.OutputTTL,
		inputTTL:   cfg.InputTTL,
	}
}

// SetRemovedHook registers a callback invoked after each successful removal,
// with the artifact kind ("input", "output", "debug").
func (m *Manager) SetRemovedHook(hook func(kind string)) { m.onRemoved = hook }

// InputName returns the on-disk name for a session's uploaded clip.
func InputName(sessionID string) string { return inputPrefix + sessionID + inputExt }

// OutputName returns the on-disk name for a session's synthesized reply.
func OutputName(sessionID string) string { return outputPrefix + sessionID + outputExt }

// DebugInputName returns the name for a diagnostic-only upload.
func DebugInputName(id string) string { return debugPrefix + id + inputExt }

// IsServableOutput reports whether a client-supplied filename names an
// output artifact. Anything else must never be served.
func IsServableOutput(filename string) bool {
	if filename != filepath.Base(filename) {
		return false
	}
	return strings.HasPrefix(filename, outputPrefix) && strings.HasSuffix(filename, outputExt)
}

// Path resolves an artifact name inside the managed directory.
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, filepath.Base(name))
}

// Save writes artifact data atomically: a temporary file first, then a
// rename into place once a non-empty write is confirmed. A failed or empty
// write leaves no file behind.
func (m *Manager) Save(name string, r io.Reader) (string, error) {
	final := m.Path(name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("create temp artifact: %w", err)
	}

	n, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		if copyErr != nil {
			return "", fmt.Errorf("write artifact: %w", copyErr)
		}
		return "", fmt.Errorf("close artifact: %w", closeErr)
	}
	if n == 0 {
		_ = os.Remove(tmp)
		return "", ErrEmptyWrite
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("finalize artifact: %w", err)
	}
	return final, nil
}

// Remove deletes an artifact by name. A missing file is not an error.
func (m *Manager) Remove(name string) error {
	err := os.Remove(m.Path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err == nil && m.onRemoved != nil {
		m.onRemoved(kindOf(filepath.Base(name)))
	}
	return nil
}

// ScheduleRemoval deletes an output artifact after the serve grace period,
// long enough for the client to fetch it. The timer is fire-and-forget and
// runs to completion even if the owning request is long gone.
func (m *Manager) ScheduleRemoval(name string) {
	time.AfterFunc(m.serveGrace, func() {
		if err := m.Remove(name); err != nil {
			log.Printf("scheduled removal of %s failed: %v", name, err)
		}
	})
}

// StartSweeper runs the periodic safety-net sweep until ctx is cancelled.
// It catches artifacts whose delayed removal never ran, e.g. after a crash.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.SweepExpired()
			}
		}
	}()
}

// SweepExpired deletes output artifacts older than the output TTL and stray
// input artifacts older than the input TTL.
func (m *Manager) SweepExpired() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		log.Printf("artifact sweep: read dir: %v", err)
		return
	}
	now := time.Now()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		var ttl time.Duration
		switch {
		case strings.HasPrefix(name, outputPrefix) && strings.HasSuffix(name, outputExt):
			ttl = m.outputTTL
		case strings.HasPrefix(name, inputPrefix) && strings.HasSuffix(name, inputExt):
			ttl = m.inputTTL
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}
		if err := m.Remove(name); err != nil {
			log.Printf("artifact sweep: remove %s: %v", name, err)
			continue
		}
		log.Printf("artifact sweep: removed stale %s", name)
	}
}

// SweepAll deletes every recognizable artifact, including diagnostic ones.
// Called once at startup so restarts never accumulate stale files.
func (m *Manager) SweepAll() {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		log.Printf("startup artifact sweep: read dir: %v", err)
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !isArtifactName(name) {
			continue
		}
		if err := m.Remove(name); err != nil {
			log.Printf("startup artifact sweep: remove %s: %v", name, err)
			continue
		}
		log.Printf("startup artifact sweep: removed %s", name)
	}
}

func isArtifactName(name string) bool {
	switch {
	case strings.HasPrefix(name, outputPrefix) && strings.HasSuffix(name, outputExt):
		return true
	case strings.HasPrefix(name, inputPrefix) && strings.HasSuffix(name, inputExt):
		return true
	case strings.HasPrefix(name, debugPrefix) && strings.HasSuffix(name, inputExt):
		return true
	default:
		return false
	}
}

func kindOf(name string) string {
	switch {
	case strings.HasPrefix(name, debugPrefix):
		return "debug"
	case strings.HasPrefix(name, outputPrefix):
		return "output"
	case strings.HasPrefix(name, inputPrefix):
		return "input"
	default:
		return "other"
	}
}
