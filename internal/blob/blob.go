// Package blob implements the content-addressed blob store (C7): byte
// identical inputs always map to the same blobRef, and the store is
// write-once per hash.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rohmanhakim/atlas-crawler/pkg/fileutil"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
	"lukechampine.com/blake3"
)

// Layout selects how blobs are physically stored.
type Layout string

const (
	LayoutIndividual Layout = "individual"
	LayoutPacked     Layout = "packed"
)

// Ref is the opaque, decodable blobRef returned by Store.
type Ref struct {
	Hash   string
	Packed bool
	Offset int64
	Length int64
}

// String encodes Ref into the opaque blobRef string persisted in records.
func (r Ref) String() string {
	if !r.Packed {
		return "sha256:" + r.Hash
	}
	return fmt.Sprintf("sha256:%s;offset=%d;length=%d", r.Hash, r.Offset, r.Length)
}

// fingerprintEntry lets repeated stores of the same bytes skip the SHA-256
// pass once blake3 has already confirmed a match against a known hash.
type fingerprintEntry struct {
	fingerprint [32]byte
	sha256      string
}

// Store is a content-addressed blob store rooted at a directory.
type Store struct {
	root   string
	layout Layout

	mu           sync.Mutex
	refs         map[string]Ref // sha256 -> ref, for blobs stored this session
	fingerprints map[string]fingerprintEntry
	packFile     *os.File
	packOffset   int64
}

// New creates a Store under root using the given layout. The root directory
// (and blobs/ subdirectory) is created lazily on first Store call.
func New(root string, layout Layout) *Store {
	return &Store{
		root:         root,
		layout:       layout,
		refs:         make(map[string]Ref),
		fingerprints: make(map[string]fingerprintEntry),
	}
}

func (s *Store) blobsDir() string {
	return filepath.Join(s.root, "blobs")
}

// Store persists data, returning its Ref. Byte-identical inputs always
// produce the same Ref; a second store of already-seen bytes is a no-op.
func (s *Store) Store(data []byte) (Ref, error) {
	fp := blake3.Sum256(data)

	s.mu.Lock()
	if entry, ok := s.fingerprints[string(fp[:])]; ok {
		if ref, ok := s.refs[entry.sha256]; ok {
			s.mu.Unlock()
			return ref, nil
		}
	}
	s.mu.Unlock()

	hash, err := hashutil.HashBytes(data, hashutil.HashAlgoSHA256)
	if err != nil {
		return Ref{}, err
	}

	s.mu.Lock()
	s.fingerprints[string(fp[:])] = fingerprintEntry{fingerprint: fp, sha256: hash}
	existing, alreadyExists := s.refs[hash]
	s.mu.Unlock()

	if alreadyExists {
		return existing, nil
	}
	if s.layout == LayoutIndividual && s.existsOnDisk(hash) {
		ref := Ref{Hash: hash}
		s.mu.Lock()
		s.refs[hash] = ref
		s.mu.Unlock()
		return ref, nil
	}

	switch s.layout {
	case LayoutPacked:
		return s.storePacked(hash, data)
	default:
		return s.storeIndividual(hash, data)
	}
}

func (s *Store) storeIndividual(hash string, data []byte) (Ref, error) {
	path := s.pathFor(hash)
	if err := fileutil.WriteFileAtomic(path, data, 0o644); err != nil {
		return Ref{}, err
	}
	ref := Ref{Hash: hash}
	s.mu.Lock()
	s.refs[hash] = ref
	s.mu.Unlock()
	return ref, nil
}

func (s *Store) storePacked(hash string, data []byte) (Ref, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.packFile == nil {
		if err := fileutil.EnsureDir(s.blobsDir()); err != nil {
			return Ref{}, err
		}
		f, err := os.OpenFile(filepath.Join(s.blobsDir(), "pack.bin"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return Ref{}, err
		}
		s.packFile = f
	}

	n, err := s.packFile.Write(data)
	if err != nil {
		return Ref{}, err
	}
	ref := Ref{Hash: hash, Packed: true, Offset: s.packOffset, Length: int64(n)}
	s.packOffset += int64(n)
	s.refs[hash] = ref
	return ref, nil
}

// Exists reports whether hash has already been stored.
func (s *Store) Exists(hash string) bool {
	s.mu.Lock()
	_, ok := s.refs[hash]
	s.mu.Unlock()
	if ok {
		return true
	}
	return s.layout == LayoutIndividual && s.existsOnDisk(hash)
}

func (s *Store) existsOnDisk(hash string) bool {
	_, err := os.Stat(s.pathFor(hash))
	return err == nil
}

// Get retrieves the bytes referenced by blobRef.
func (s *Store) Get(ref Ref) ([]byte, error) {
	if !ref.Packed {
		return os.ReadFile(s.pathFor(ref.Hash))
	}
	f, err := os.Open(filepath.Join(s.blobsDir(), "pack.bin"))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, ref.Length)
	if _, err := f.ReadAt(buf, ref.Offset); err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *Store) pathFor(hash string) string {
	if len(hash) < 2 {
		return filepath.Join(s.blobsDir(), hash+".bin")
	}
	prefix := hash[:2]
	return filepath.Join(s.blobsDir(), prefix, hash+".bin")
}

// Close releases any open pack file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.packFile != nil {
		return s.packFile.Close()
	}
	return nil
}
