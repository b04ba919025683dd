package audio

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var DefaultExtensions = []string{".mp3", ".wav", ".m4a", ".ogg", ".aac"}

// Library is the set of playable files in one directory.
type Library struct {
	fs   afero.Fs
	dir  string
	exts map[string]struct{}
}

// NewLibrary uses DefaultExtensions when exts is empty.
func NewLibrary(fs afero.Fs, dir string, exts []string) *Library {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	set := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = struct{}{}
	}
	return &Library{fs: fs, dir: dir, exts: set}
}

func (l *Library) Dir() string { return l.dir }

func (l *Library) supported(name string) bool {
	_, ok := l.exts[strings.ToLower(filepath.Ext(name))]
	return ok
}

// List returns the playable file names, sorted. A missing directory is an
// empty library.
func (l *Library) List(ctx context.Context) ([]string, error) {
	_ = ctx
	ok, err := afero.DirExists(l.fs, l.dir)
	if err != nil {
		return nil, err
	}
	if !ok {
		return []string{}, nil
	}
	infos, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || !l.supported(fi.Name()) {
			continue
		}
		out = append(out, fi.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Resolve maps a bare file name to its path inside the library.
func (l *Library) Resolve(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name != filepath.Base(name) || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !l.supported(name) {
		return "", fmt.Errorf("%w: %q has an unsupported extension", ErrInvalidName, name)
	}
	p := filepath.Join(l.dir, name)
	ok, err := afero.Exists(l.fs, p)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}
	return p, nil
}
