package app

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLockFiles(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{
		"static/top.txt",
		"static/a/b/deep.txt",
		"static/a/skip.log",
		"assets/logo.png",
		"README.md",
	} {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(rel), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name    string
		files   []any
		exclude []string
		want    []string
		wantErr bool
	}{
		{
			name:  "recursive",
			files: []any{"static/**/*"},
			want:  []string{"static/a/b/deep.txt", "static/a/skip.log", "static/top.txt"},
		},
		{
			name:  "single level",
			files: []any{"static/*"},
			want:  []string{"static/top.txt"},
		},
		{
			name:    "recursive exclude",
			files:   []any{"static/**/*"},
			exclude: []string{"**/*.log"},
			want:    []string{"static/a/b/deep.txt", "static/top.txt"},
		},
		{
			name:    "exclude directory",
			files:   []any{"./static/**/*", "README.md"},
			exclude: []string{"static/a/**"},
			want:    []string{"static/top.txt", "README.md"},
		},
		{
			name:  "table entry",
			files: []any{map[string]any{"source": "assets", "destination": "/img"}},
			want:  []string{"/img"},
		},
		{
			name:  "no match",
			files: []any{"missing/**/*.txt"},
		},
		{name: "bad pattern", files: []any{"static/[*"}, wantErr: true},
		{name: "bad exclude", files: []any{"static/*"}, exclude: []string{"[x"}, wantErr: true},
		{name: "bad entry", files: []any{42}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := lockFiles("web", tc.files, tc.exclude, dir)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("lockFiles: %v", err)
			}
			var paths []string
			for _, f := range got {
				paths = append(paths, f.Path)
			}
			if !reflect.DeepEqual(paths, tc.want) {
				t.Errorf("paths = %v, want %v", paths, tc.want)
			}
		})
	}
}

func TestLockFiles_SourceURL(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "static", "a"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "static", "a", "x.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := lockFiles("web", []any{"static/**/*.txt"}, nil, dir)
	if err != nil {
		t.Fatalf("lockFiles: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("files = %+v", got)
	}
	path, err := got[0].Content.LocalPath()
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "static", "a", "x.txt") {
		t.Errorf("source = %q", path)
	}
}
