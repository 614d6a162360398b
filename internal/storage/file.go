package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"tickerd/internal/ticker"
	logx "tickerd/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.snapshot.json (periodic snapshot of all records)
//   - <prefix>.journal.jsonl (append-only journal)
//
// The journal is periodically compacted into the snapshot. The in-memory
// state is authoritative between compactions; a crash replays the journal on
// top of the last snapshot.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journalFile  *os.File

	tickers map[string]ticker.Ticker
	flags   map[string]bool

	writes int
}

type journalRecord struct {
	Op     string         `json:"op"` // "put", "delete", "flag"
	Ticker *ticker.Ticker `json:"ticker,omitempty"`
	ID     string         `json:"id,omitempty"`
	Key    string         `json:"key,omitempty"`
	Value  bool           `json:"value,omitempty"`
}

type snapshot struct {
	Tickers map[string]ticker.Ticker `json:"tickers"`
	Flags   map[string]bool          `json:"flags"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"

	st := &fileStore{
		log:          log,
		snapshotPath: snapPath,
		tickers:      map[string]ticker.Ticker{},
		flags:        map[string]bool{},
	}
	_ = st.loadSnapshot(snapPath)
	_ = st.replayJournal(journalPath)

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	st.journalFile = jf
	return st, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Final compact so the snapshot is current on clean shutdown.
	if s.journalFile != nil {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("final compact failed", logx.Err(err))
		}
		err := s.journalFile.Close()
		s.journalFile = nil
		return err
	}
	return nil
}

func (s *fileStore) PutTicker(ctx context.Context, t ticker.Ticker) error {
	_ = ctx
	if t.ID == "" {
		return ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickers[t.ID] = t
	return s.appendLocked(journalRecord{Op: "put", Ticker: &t})
}

func (s *fileStore) GetTicker(ctx context.Context, id string) (ticker.Ticker, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickers[id]
	return t, ok, nil
}

func (s *fileStore) DeleteTicker(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickers[id]; !ok {
		return nil
	}
	delete(s.tickers, id)
	return s.appendLocked(journalRecord{Op: "delete", ID: id})
}

func (s *fileStore) ListTickers(ctx context.Context, f Filter) ([]ticker.Ticker, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ticker.Ticker, 0, len(s.tickers))
	for _, t := range s.tickers {
		if f.EnabledOnly && !t.Enabled {
			continue
		}
		out = append(out, t)
	}
	// Stable order for deterministic batches.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) GetFlag(ctx context.Context, key string) (bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key], nil
}

func (s *fileStore) SetFlag(ctx context.Context, key string, v bool) error {
	_ = ctx
	if strings.TrimSpace(key) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags[key] = v
	return s.appendLocked(journalRecord{Op: "flag", Key: key, Value: v})
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return errors.New("journal closed")
	}
	enc := json.NewEncoder(s.journalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%500 == 0 {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	snap := snapshot{Tickers: s.tickers, Flags: s.flags}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func (s *fileStore) loadSnapshot(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for id, t := range snap.Tickers {
		s.tickers[id] = t
	}
	for k, v := range snap.Flags {
		s.flags[k] = v
	}
	return nil
}

func (s *fileStore) replayJournal(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "put":
			if r.Ticker != nil && r.Ticker.ID != "" {
				s.tickers[r.Ticker.ID] = *r.Ticker
			}
		case "delete":
			delete(s.tickers, r.ID)
		case "flag":
			if r.Key != "" {
				s.flags[r.Key] = r.Value
			}
		}
	}
	return sc.Err()
}
