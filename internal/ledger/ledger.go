// Package ledger persists resolved outcomes as an append-only JSONL file.
// The ledger is the system's long-term memory: one line per outcome, never
// rewritten, synced on every append.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"signal-core/internal/mission"
)

// Ledger is a single-writer append-only outcome file.
type Ledger struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open opens (or creates) the ledger file for appending.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ledger: create dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %q: %w", path, err)
	}
	return &Ledger{path: path, f: f}, nil
}

// Append writes one outcome line and syncs it to disk before returning.
func (l *Ledger) Append(out mission.Outcome) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("ledger: marshal outcome %s: %w", out.OrderID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("ledger: closed")
	}
	if _, err := l.f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("ledger: append outcome %s: %w", out.OrderID, err)
	}
	if err := l.f.Sync(); err != nil {
		return fmt.Errorf("ledger: sync: %w", err)
	}
	return nil
}

// Replay streams every outcome in the file through fn, in write order.
// Corrupt lines (a crash mid-append) are skipped with a warning.
func (l *Ledger) Replay(fn func(mission.Outcome) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("ledger: open for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var out mission.Outcome
		if err := json.Unmarshal(line, &out); err != nil {
			log.Printf("[Ledger] skipping corrupt line %d: %v", lineNo, err)
			continue
		}
		if err := fn(out); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Close syncs and closes the file.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Sync()
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
