package migrate

import (
	"context"
	"io/fs"
	"sort"
	"strings"
	"testing"
)

func TestEveryMigrationHasUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "sql")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file in migrations: %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatalf("no migrations embedded")
	}
	var names []string
	for n := range ups {
		names = append(names, n)
		if !downs[n] {
			t.Fatalf("migration %s has no down file", n)
		}
	}
	for n := range downs {
		if !ups[n] {
			t.Fatalf("migration %s has no up file", n)
		}
	}
	sort.Strings(names)
	if names[0] != "0001_products" {
		t.Fatalf("expected products to be the first migration, got %s", names[0])
	}
}

func TestRollbackRejectsNonPositiveSteps(t *testing.T) {
	if err := Rollback(context.Background(), nil, 0); err == nil {
		t.Fatalf("expected error for zero steps")
	}
}
