package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestFilesAreOrderedAndEmbedded(t *testing.T) {
	files, err := Files()
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) < 4 {
		t.Fatalf("expected at least 4 migrations, got %v", files)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Fatalf("migrations out of order: %v", files)
		}
	}
}

func TestSchemaDeclaresCoreTables(t *testing.T) {
	var all strings.Builder
	files, _ := Files()
	for _, f := range files {
		b, err := fs.ReadFile(migrationsFS, "sql/"+f)
		if err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		all.Write(b)
	}
	schema := all.String()
	for _, table := range []string{"users", "token_pricing", "token_usage_logs", "token_credits", "campaigns", "campaign_call_queue", "call_logs", "audit_events"} {
		if !strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("expected table %s in schema", table)
		}
	}
	if !strings.Contains(schema, "ON DELETE CASCADE") {
		t.Fatalf("expected cascading queue delete")
	}
}
