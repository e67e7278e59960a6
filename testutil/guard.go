// Package testutil holds the import guards that keep the freezer layers apart:
// the domain and catalog packages stay free of implementation code, and the
// engines above the stores never reach for a storage driver themselves.
package testutil

import (
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

// ImportRule forbids every import path Match accepts.
type ImportRule struct {
	Match  func(path string) bool
	Reason string
}

// Internal matches any package under an internal/ tree.
var Internal = ImportRule{
	Match:  func(p string) bool { return strings.Contains(p, "/internal/") || strings.HasPrefix(p, "internal/") },
	Reason: "shared model packages must not depend on implementation packages",
}

// Infra matches the concrete persistence and blob adapters.
var Infra = ImportRule{
	Match:  func(p string) bool { return strings.Contains(p, "/internal/infra/") },
	Reason: "only the storage and blob factories may name a concrete adapter",
}

// storageDrivers are the client libraries only the infra adapters may import.
var storageDrivers = []string{
	"database/sql",
	"github.com/jackc/pgx/",
	"modernc.org/sqlite",
	"github.com/aws/aws-sdk-go-v2/",
}

// StorageDriver matches database and object store client libraries.
var StorageDriver = ImportRule{
	Match: func(p string) bool {
		return slices.ContainsFunc(storageDrivers, func(d string) bool {
			return p == strings.TrimSuffix(d, "/") || strings.HasPrefix(p, d)
		})
	},
	Reason: "state reaches storage through the store and backend interfaces",
}

// AssertImports fails t when a non-test Go file directly in dir imports a path
// forbidden by one of rules. Subdirectories are not scanned.
func AssertImports(t testing.TB, dir string, rules ...ImportRule) {
	t.Helper()
	viols, err := importViolations(dir, rules)
	if err != nil {
		t.Fatalf("scan imports of %s: %v", dir, err)
	}
	if len(viols) > 0 {
		t.Fatalf("forbidden imports in %s:\n%s", dir, strings.Join(viols, "\n"))
	}
}

func importViolations(dir string, rules []ImportRule) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, filepath.Join(dir, name), nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range f.Imports {
			path := strings.Trim(imp.Path.Value, `"`)
			for _, r := range rules {
				if r.Match(path) {
					viols = append(viols, fmt.Sprintf("%s imports %s: %s", name, path, r.Reason))
				}
			}
		}
	}
	return viols, nil
}

var goListDeps = func(pattern string) ([]byte, error) {
	return exec.Command("go", "list", "-deps", pattern).CombinedOutput()
}

// AssertNoTransitive fails t when anything pattern builds against, directly or
// not, matches rule.
func AssertNoTransitive(t testing.TB, pattern string, rule ImportRule) {
	t.Helper()
	out, err := goListDeps(pattern)
	if err != nil {
		t.Fatalf("go list -deps %s: %v\n%s", pattern, err, out)
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		if line = strings.TrimSpace(line); line != "" && rule.Match(line) {
			viols = append(viols, line)
		}
	}
	if len(viols) > 0 {
		t.Fatalf("%s depends on forbidden packages (%s):\n%s", pattern, rule.Reason, strings.Join(viols, "\n"))
	}
}
