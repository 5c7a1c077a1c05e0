package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "cronwire/pkg/logx"
)

// fileStore appends executions to <prefix>.executions.jsonl and keeps the
// newest Retain records in memory for RecentExecutions. Existing records are
// replayed on open. Undecodable lines are skipped.
type fileStore struct {
	log logx.Logger

	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	recent []Execution // ring
	head   int         // next write slot
	size   int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	execPath := filepath.Join(dir, base) + ".executions.jsonl"

	s := &fileStore{log: log, recent: make([]Execution, cfg.Retain)}
	skipped, err := s.replay(execPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if skipped > 0 {
		log.Warn("skipped undecodable audit lines", logx.Int("lines", skipped), logx.String("path", execPath))
	}

	f, err := os.OpenFile(execPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	s.enc = json.NewEncoder(f)
	log.Debug("file store opened", logx.String("path", execPath), logx.Int("replayed", s.size))
	return s, nil
}

func (s *fileStore) replay(path string) (skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Execution
		if err := json.Unmarshal(line, &e); err != nil {
			skipped++
			continue
		}
		s.remember(e)
	}
	return skipped, sc.Err()
}

func (s *fileStore) remember(e Execution) {
	if len(s.recent) == 0 {
		return
	}
	s.recent[s.head] = e
	s.head = (s.head + 1) % len(s.recent)
	if s.size < len(s.recent) {
		s.size++
	}
}

func (s *fileStore) AppendExecution(_ context.Context, e Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	if err := s.enc.Encode(e); err != nil {
		return err
	}
	s.remember(e)
	return nil
}

func (s *fileStore) RecentExecutions(_ context.Context, limit int) ([]Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit > s.size {
		limit = s.size
	}
	if limit <= 0 {
		return nil, nil
	}
	out := make([]Execution, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (s.head - i + len(s.recent)) % len(s.recent)
		out = append(out, s.recent[idx])
	}
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	s.enc = nil
	return err
}
