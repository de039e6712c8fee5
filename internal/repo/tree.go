package repo

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// Node is one entry in a virtual file tree: either a file leaf carrying
// content or a directory containing more entries.
type Node struct {
	Content string
	Entries map[string]*Node
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool { return n.Entries != nil }

// Tree is the root directory of a virtual file tree, built once per
// provisioning run and owned by that run.
type Tree struct {
	Root map[string]*Node
}

// BuildTree resolves every path through the cache and assembles the nested
// tree. Individual path failures do not abort the build: the failing path
// becomes a placeholder file carrying a readable error note, and the tree
// is still usable. Content is fetched concurrently; the cache's request
// coalescing keeps each key down to one underlying request.
func BuildTree(ctx context.Context, cache *Cache, repoHash, commit string, paths []string) *Tree {
	contents := make([]string, len(paths))

	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			content, err := cache.Fetch(ctx, repoHash, commit, path)
			if err != nil {
				log.Printf("tree: failed to load %s: %v", path, err)
				content = fmt.Sprintf("// Error loading file: %v", err)
			}
			contents[i] = content
		}(i, path)
	}
	wg.Wait()

	tree := &Tree{Root: map[string]*Node{}}
	for i, path := range paths {
		tree.insert(path, contents[i])
	}
	return tree
}

func (t *Tree) insert(path, content string) {
	segments := strings.Split(path, "/")
	current := t.Root
	for _, segment := range segments[:len(segments)-1] {
		node, ok := current[segment]
		if !ok || !node.IsDir() {
			node = &Node{Entries: map[string]*Node{}}
			current[segment] = node
		}
		current = node.Entries
	}
	current[segments[len(segments)-1]] = &Node{Content: content}
}

// Lookup returns the file content at path, if present.
func (t *Tree) Lookup(path string) (string, bool) {
	segments := strings.Split(path, "/")
	current := t.Root
	for _, segment := range segments[:len(segments)-1] {
		node, ok := current[segment]
		if !ok || !node.IsDir() {
			return "", false
		}
		current = node.Entries
	}
	node, ok := current[segments[len(segments)-1]]
	if !ok || node.IsDir() {
		return "", false
	}
	return node.Content, true
}

// FileCount returns the number of file leaves in the tree.
func (t *Tree) FileCount() int {
	var count func(entries map[string]*Node) int
	count = func(entries map[string]*Node) int {
		total := 0
		for _, node := range entries {
			if node.IsDir() {
				total += count(node.Entries)
			} else {
				total++
			}
		}
		return total
	}
	return count(t.Root)
}

// WriteTar streams the tree as a tar archive rooted at prefix (for example
// "app"), the format the sandbox mount consumes. Entries are emitted in
// sorted order so the archive is deterministic.
func (t *Tree) WriteTar(w io.Writer, prefix string) error {
	tw := tar.NewWriter(w)
	now := time.Now()

	var walk func(dir string, entries map[string]*Node) error
	walk = func(dir string, entries map[string]*Node) error {
		names := make([]string, 0, len(entries))
		for name := range entries {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			node := entries[name]
			full := dir + "/" + name
			if node.IsDir() {
				if err := tw.WriteHeader(&tar.Header{
					Name:     full + "/",
					Typeflag: tar.TypeDir,
					Mode:     0o755,
					ModTime:  now,
				}); err != nil {
					return err
				}
				if err := walk(full, node.Entries); err != nil {
					return err
				}
				continue
			}
			if err := tw.WriteHeader(&tar.Header{
				Name:    full,
				Mode:    0o644,
				Size:    int64(len(node.Content)),
				ModTime: now,
			}); err != nil {
				return err
			}
			if _, err := io.WriteString(tw, node.Content); err != nil {
				return err
			}
		}
		return nil
	}

	if err := walk(prefix, t.Root); err != nil {
		return fmt.Errorf("write tree tar: %w", err)
	}
	return tw.Close()
}
