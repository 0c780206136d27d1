package scan

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func buildTestTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	must := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}

	must(os.MkdirAll(filepath.Join(root, "a", "b"), 0755))
	must(os.WriteFile(filepath.Join(root, "a", "b", "file.txt"), []byte("hi\n"), 0644))
	must(os.WriteFile(filepath.Join(root, "top.txt"), []byte("top"), 0644))
	must(os.Symlink("top.txt", filepath.Join(root, "link")))
	return root
}

func entryPaths(entries []Entry) []string {
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	sort.Strings(paths)
	return paths
}

func TestScanThreadCountIndependence(t *testing.T) {
	root := buildTestTree(t)

	sequential, warnings, err := Scan(root, Options{Threads: 1})
	if err != nil {
		t.Fatalf("sequential scan: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	for _, threads := range []int{2, 4, 8} {
		parallel, warnings, err := Scan(root, Options{Threads: threads})
		if err != nil {
			t.Fatalf("parallel scan (threads=%d): %v", threads, err)
		}
		if len(warnings) != 0 {
			t.Fatalf("unexpected warnings: %v", warnings)
		}
		if got, want := entryPaths(parallel), entryPaths(sequential); !equalStrings(got, want) {
			t.Errorf("threads=%d: got %v, want %v", threads, got, want)
		}
	}
}

func TestScanClassifiesSymlinkWithoutFollowing(t *testing.T) {
	root := buildTestTree(t)

	entries, _, err := Scan(root, Options{Threads: 1})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}

	var link *Entry
	for i := range entries {
		if entries[i].Path == "link" {
			link = &entries[i]
		}
	}
	if link == nil {
		t.Fatal("link entry not found")
	}
	if link.Kind != KindSymlink {
		t.Errorf("expected symlink kind, got %v", link.Kind)
	}
	if link.SymlinkTarget != "top.txt" {
		t.Errorf("expected target top.txt, got %q", link.SymlinkTarget)
	}
	if link.Size != uint64(len("top.txt")) {
		t.Errorf("expected size %d, got %d", len("top.txt"), link.Size)
	}
}

func TestScanSuppressesRoot(t *testing.T) {
	root := buildTestTree(t)

	entries, _, err := Scan(root, Options{Threads: 1})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, e := range entries {
		if e.Path == "." || e.Path == "" {
			t.Errorf("root entry leaked into scan output: %+v", e)
		}
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
