package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingT struct{ msg string }

func (r *recordingT) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func TestPredicates(t *testing.T) {
	cases := []struct {
		in               string
		internal, infra bool
	}{
		{"modstore/internal/core", true, false},
		{"modstore/internal/infra/persistence/bolt", true, true},
		{"modstore/pkg/keyed", false, false},
		{"modstore/pkg/internalish", false, false},
	}
	for _, c := range cases {
		if got := InternalImportForbidden(c.in); got != c.internal {
			t.Fatalf("InternalImportForbidden(%q)=%v want %v", c.in, got, c.internal)
		}
		if got := BackendImportForbidden(c.in); got != c.infra {
			t.Fatalf("BackendImportForbidden(%q)=%v want %v", c.in, got, c.infra)
		}
	}
}

func writeFile(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolationsSkipTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "x.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, dir, "x_test.go", "package tmp\nimport \"modstore/internal/core\"\nvar _ = core.NewPool\n")
	AssertNoDirectImports(t, dir, InternalImportForbidden, "test files are exempt")

	writeFile(t, dir, "y.go", "package tmp\nimport _ \"modstore/internal/core\"\n")
	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "y.go") {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestTransitiveViolationsUseGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nmodstore/pkg/keyed\nmodstore/internal/infra/persistence/memory\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", BackendImportForbidden)
	if err != nil || len(viols) != 1 {
		t.Fatalf("unexpected violations %v %v", viols, err)
	}

	rec := &recordingT{}
	failIfViolations(rec, "transitive dependency", "contract", viols)
	if !strings.Contains(rec.msg, "contract") || !strings.Contains(rec.msg, "memory") {
		t.Fatalf("unexpected failure message %q", rec.msg)
	}
}
