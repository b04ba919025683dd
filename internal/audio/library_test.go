package audio

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/spf13/afero"
)

func newMemLibrary(t *testing.T, files ...string) *Library {
	t.Helper()
	fs := afero.NewMemMapFs()
	for _, f := range files {
		if err := afero.WriteFile(fs, filepath.Join("/sounds", f), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewLibrary(fs, "/sounds", nil)
}

func TestLibraryList(t *testing.T) {
	t.Parallel()
	lib := newMemLibrary(t, "b.wav", "a.MP3", "notes.txt", "sub/c.mp3")
	got, err := lib.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"a.MP3", "b.wav"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("List = %v, want %v", got, want)
	}
}

func TestLibraryListMissingDir(t *testing.T) {
	t.Parallel()
	lib := NewLibrary(afero.NewMemMapFs(), "/nowhere", nil)
	got, err := lib.List(context.Background())
	if err != nil || len(got) != 0 {
		t.Fatalf("List = %v, %v; want empty", got, err)
	}
}

func TestLibraryResolve(t *testing.T) {
	t.Parallel()
	lib := newMemLibrary(t, "bell.mp3")
	tests := []struct {
		name    string
		wantErr error
	}{
		{name: "bell.mp3"},
		{name: "gone.mp3", wantErr: ErrFileNotFound},
		{name: "../etc/passwd.mp3", wantErr: ErrInvalidName},
		{name: "bell.exe", wantErr: ErrInvalidName},
		{name: "", wantErr: ErrInvalidName},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			p, err := lib.Resolve(tt.name)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve(%q) err = %v, want %v", tt.name, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.name, err)
			}
			if p != filepath.Join("/sounds", "bell.mp3") {
				t.Fatalf("Resolve path = %q", p)
			}
		})
	}
}

func TestLibraryCustomExtensions(t *testing.T) {
	t.Parallel()
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/s/a.flac", []byte("x"), 0o644)
	_ = afero.WriteFile(fs, "/s/b.mp3", []byte("x"), 0o644)
	lib := NewLibrary(fs, "/s", []string{"flac"})
	got, _ := lib.List(context.Background())
	if !reflect.DeepEqual(got, []string{"a.flac"}) {
		t.Fatalf("List = %v", got)
	}
}
