package cmd

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/rohmanhakim/atlas-crawler/internal/atlas"
	"github.com/rohmanhakim/atlas-crawler/pkg/hashutil"
)

// ValidationReport is what `validate --atls` checks and prints: the parsed
// manifest plus any integrity or coverage mismatches found.
type ValidationReport struct {
	Manifest   atlas.Manifest
	Mismatches []string
}

// validateArchive opens an .atls zip, parses manifest.json, recomputes each
// file's SHA-256 and the archive's Merkle root the same way
// internal/archive.computeIntegrity does at finalize time, and flags any
// required dataset the manifest's coverage matrix reports missing.
func validateArchive(path string) (ValidationReport, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("opening archive: %w", err)
	}
	defer zr.Close()

	var manifest atlas.Manifest
	files := make(map[string]string, len(zr.File))

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ValidationReport{}, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return ValidationReport{}, fmt.Errorf("reading %s: %w", f.Name, err)
		}

		if f.Name == "manifest.json" {
			if err := json.Unmarshal(data, &manifest); err != nil {
				return ValidationReport{}, fmt.Errorf("parsing manifest.json: %w", err)
			}
			continue
		}

		hash, err := hashutil.HashBytes(data, hashutil.HashAlgoSHA256)
		if err != nil {
			return ValidationReport{}, fmt.Errorf("hashing %s: %w", f.Name, err)
		}
		files[f.Name] = hash
	}

	if manifest.AtlasVersion == "" {
		return ValidationReport{}, fmt.Errorf("manifest.json missing or empty")
	}

	var mismatches []string

	for relPath, expected := range manifest.Integrity.Files {
		got, ok := files[relPath]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("file %s listed in manifest but absent from archive", relPath))
			continue
		}
		if got != expected {
			mismatches = append(mismatches, fmt.Sprintf("file %s checksum mismatch: manifest=%s actual=%s", relPath, expected, got))
		}
	}

	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	var concatenated []byte
	for _, name := range names {
		concatenated = append(concatenated, files[name]...)
	}
	recomputedRoot, err := hashutil.HashBytes(concatenated, hashutil.HashAlgoSHA256)
	if err != nil {
		return ValidationReport{}, fmt.Errorf("recomputing archive checksum: %w", err)
	}
	if recomputedRoot != manifest.Integrity.ArchiveSha256 {
		mismatches = append(mismatches, fmt.Sprintf("archiveSha256 mismatch: manifest=%s actual=%s", manifest.Integrity.ArchiveSha256, recomputedRoot))
	}

	for _, row := range manifest.Coverage.Matrix {
		if row.Expected && !row.Present {
			mismatches = append(mismatches, fmt.Sprintf("dataset %s expected but absent: %s", row.Part, row.ReasonIfAbsent))
		}
	}

	if manifest.Incomplete {
		mismatches = append(mismatches, "manifest reports incomplete=true")
	}

	return ValidationReport{Manifest: manifest, Mismatches: mismatches}, nil
}
