// Package checkpoint implements the checkpoint/visited-index/frontier
// snapshot triplet (C10): atomic writes, tolerant-of-absence reads, and
// torn-triplet detection.
package checkpoint

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/pkg/fileutil"
)

const (
	checkpointFile = "checkpoint.json"
	visitedFile    = "visited.idx"
	frontierFile   = "frontier.json"
)

// Store reads and writes the checkpoint triplet under a staging directory.
type Store struct {
	dir string
}

// New returns a Store rooted at dir (the staging directory).
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Save atomically writes all three files: checkpoint.json, visited.idx and
// frontier.json. Each is written to a temp file, fsynced, then renamed, per
// pkg/fileutil.WriteFileAtomic.
func (s *Store) Save(cp atlas.Checkpoint, visitedKeys []string, frontierEntries []atlas.FrontierEntry) error {
	cpBytes, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(s.dir, checkpointFile), cpBytes, 0o644); err != nil {
		return err
	}

	var visited strings.Builder
	for _, k := range visitedKeys {
		visited.WriteString(k)
		visited.WriteByte('\n')
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(s.dir, visitedFile), []byte(visited.String()), 0o644); err != nil {
		return err
	}

	frontierBytes, err := json.Marshal(frontierEntries)
	if err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(filepath.Join(s.dir, frontierFile), frontierBytes, 0o644); err != nil {
		return err
	}

	return nil
}

// Loaded is the result of a successful Load: the checkpoint entity plus the
// two sibling files it depends on.
type Loaded struct {
	Checkpoint atlas.Checkpoint
	Visited    []string
	Frontier   []atlas.FrontierEntry
}

// Load reads the checkpoint triplet. A missing checkpoint.json is not an
// error: (nil, nil) is returned so callers can start a fresh crawl. A
// present checkpoint.json with a missing or corrupt sibling is a torn
// triplet and returns ErrCorruptCheckpoint.
func (s *Store) Load() (*Loaded, error) {
	cpPath := filepath.Join(s.dir, checkpointFile)
	cpBytes, err := os.ReadFile(cpPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &CorruptError{Path: cpPath, Message: err.Error()}
	}

	var cp atlas.Checkpoint
	if err := json.Unmarshal(cpBytes, &cp); err != nil {
		return nil, &CorruptError{Path: cpPath, Message: err.Error()}
	}

	visited, err := s.loadVisited()
	if err != nil {
		return nil, err
	}
	frontier, err := s.loadFrontier()
	if err != nil {
		return nil, err
	}

	return &Loaded{Checkpoint: cp, Visited: visited, Frontier: frontier}, nil
}

func (s *Store) loadVisited() ([]string, error) {
	path := filepath.Join(s.dir, visitedFile)
	f, err := os.Open(path)
	if err != nil {
		return nil, &CorruptError{Path: path, Message: "checkpoint.json present but visited.idx is missing"}
	}
	defer f.Close()

	var keys []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		keys = append(keys, line)
	}
	if err := sc.Err(); err != nil {
		return nil, &CorruptError{Path: path, Message: err.Error()}
	}
	return keys, nil
}

func (s *Store) loadFrontier() ([]atlas.FrontierEntry, error) {
	path := filepath.Join(s.dir, frontierFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, &CorruptError{Path: path, Message: "checkpoint.json present but frontier.json is missing"}
	}
	var entries []atlas.FrontierEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, &CorruptError{Path: path, Message: err.Error()}
	}
	return entries, nil
}
