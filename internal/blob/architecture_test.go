package blob

import (
	"slices"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// adapterOwners lists, per adapter tree, the only packages allowed to import
// it besides the tree itself.
var adapterOwners = map[string][]string{
	"freezercore/internal/infra/blob":        {"freezercore/internal/blob"},
	"freezercore/internal/infra/persistence": {"freezercore/internal/core"},
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// TestAdaptersStayBehindFactories loads the module and checks that archive
// and state adapters are only reached through blob.Open and
// core.OpenPersistentStore.
func TestAdaptersStayBehindFactories(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports, Tests: true}
	pkgs, err := packages.Load(cfg, "freezercore/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		// Test variants are named "path [path.test]"; external test packages end in _test.
		from := strings.TrimSuffix(strings.Fields(pkg.PkgPath)[0], "_test")
		for imp := range pkg.Imports {
			for tree, owners := range adapterOwners {
				if !within(imp, tree) || within(from, tree) || slices.Contains(owners, from) {
					continue
				}
				violations = append(violations, from+" imports "+imp)
			}
		}
	}
	slices.Sort(violations)
	violations = slices.Compact(violations)
	for _, v := range violations {
		t.Errorf("adapter imported outside its factory: %s", v)
	}
}
