// Package registry finds model artifacts in a cache directory.
package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"captiond/internal/common/fsutil"
)

// markerFile identifies an artifact directory.
const markerFile = "config.json"

// maxDepth bounds the walk; ids look like "org/name".
const maxDepth = 3

// Artifact is one model directory below the cache root.
type Artifact struct {
	// ID is the slash-separated path relative to the cache root.
	ID   string
	Path string
	// Complete is false when the tokenizer or processor file is missing.
	Complete bool
}

// required lists the files a loadable artifact carries besides markerFile.
var required = []string{"tokenizer_config.json", "processor.yaml"}

// LoadDir scans dir for artifact directories, sorted by ID. A missing dir
// yields no artifacts.
func LoadDir(dir string) ([]Artifact, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	if !fsutil.PathExists(abs) {
		return nil, nil
	}
	var out []Artifact
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		if rel != "." && strings.Count(filepath.ToSlash(rel), "/")+1 > maxDepth {
			return fs.SkipDir
		}
		if rel == "." || !isFile(filepath.Join(p, markerFile)) {
			return nil
		}
		a := Artifact{ID: filepath.ToSlash(rel), Path: p, Complete: true}
		for _, name := range required {
			if !isFile(filepath.Join(p, name)) {
				a.Complete = false
			}
		}
		out = append(out, a)
		return fs.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", abs, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Find returns the artifact with id, if present.
func Find(artifacts []Artifact, id string) (Artifact, bool) {
	id = strings.Trim(filepath.ToSlash(id), "/")
	for _, a := range artifacts {
		if a.ID == id {
			return a, true
		}
	}
	return Artifact{}, false
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.Mode().IsRegular()
}
