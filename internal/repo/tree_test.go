package repo

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

type mapFetcher map[string]string

func (f mapFetcher) FetchFile(ctx context.Context, repoHash, commit, path string) (string, error) {
	content, ok := f[path]
	if !ok {
		return "", &FetchError{Path: path, StatusCode: 404}
	}
	return content, nil
}

func TestBuildTreeNesting(t *testing.T) {
	cache := NewCache(mapFetcher{
		"package.json":   `{"name":"demo"}`,
		"src/index.js":   "console.log(1)",
		"src/lib/util.js": "export {}",
	})

	tree := BuildTree(context.Background(), cache, "r1", "c1", []string{
		"package.json", "src/index.js", "src/lib/util.js",
	})

	if got := tree.FileCount(); got != 3 {
		t.Errorf("FileCount = %d, want 3", got)
	}
	for path, want := range map[string]string{
		"package.json":    `{"name":"demo"}`,
		"src/index.js":    "console.log(1)",
		"src/lib/util.js": "export {}",
	} {
		content, ok := tree.Lookup(path)
		if !ok {
			t.Errorf("Lookup(%q) missing", path)
			continue
		}
		if content != want {
			t.Errorf("Lookup(%q) = %q, want %q", path, content, want)
		}
	}
	if _, ok := tree.Lookup("src"); ok {
		t.Error("Lookup of a directory should report absent")
	}
}

func TestBuildTreeFailedPathBecomesPlaceholder(t *testing.T) {
	cache := NewCache(mapFetcher{"ok.js": "fine"})

	tree := BuildTree(context.Background(), cache, "r1", "c1", []string{"ok.js", "missing.js"})

	if got := tree.FileCount(); got != 2 {
		t.Fatalf("FileCount = %d, want 2 (failure must not drop the file)", got)
	}
	content, ok := tree.Lookup("missing.js")
	if !ok {
		t.Fatal("missing.js has no placeholder")
	}
	if !strings.HasPrefix(content, "// Error loading file:") {
		t.Errorf("placeholder content = %q", content)
	}
	if content, _ := tree.Lookup("ok.js"); content != "fine" {
		t.Errorf("ok.js content = %q", content)
	}
}

func TestWriteTar(t *testing.T) {
	cache := NewCache(mapFetcher{
		"package.json": `{}`,
		"src/a.js":     "a",
	})
	tree := BuildTree(context.Background(), cache, "r1", "c1", []string{"package.json", "src/a.js"})

	var buf bytes.Buffer
	if err := tree.WriteTar(&buf, "app"); err != nil {
		t.Fatalf("WriteTar error: %v", err)
	}

	entries := map[string]string{}
	tr := tar.NewReader(&buf)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("tar read error: %v", err)
		}
		var content bytes.Buffer
		if _, err := io.Copy(&content, tr); err != nil {
			t.Fatalf("tar content error: %v", err)
		}
		entries[header.Name] = content.String()
	}

	if got := entries["app/package.json"]; got != "{}" {
		t.Errorf("app/package.json = %q", got)
	}
	if got := entries["app/src/a.js"]; got != "a" {
		t.Errorf("app/src/a.js = %q", got)
	}
	if _, ok := entries["app/src/"]; !ok {
		t.Error("directory entry app/src/ missing")
	}
}

func TestNormalizeRef(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"github.com/blixt/chrome-ai-game", "github.com/blixt/chrome-ai-game", false},
		{"https://github.com/owner/project.git", "github.com/owner/project", false},
		{"http://github.com/owner/project.git", "github.com/owner/project", false},
		{"git@github.com:owner/project.git", "github.com/owner/project", false},
		{"  github.com/a/b  ", "github.com/a/b", false},
		{"not a repo", "", true},
		{"owner/project", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := NormalizeRef(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NormalizeRef(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("NormalizeRef(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
