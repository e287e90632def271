package pgkb

import (
	"context"
	"os"
	"testing"

	"github.com/linnemanlabs/deskmate/internal/postgres"
)

func TestTsQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"Refund for double charge", "refund | double | charge"},
		{"it's broken!!! (again)", "broken | again"},
		{"'; DROP TABLE kb_articles; --", "drop | table | kb | articles"},
		{"the of and", ""},
	}

	for _, tt := range tests {
		if got := tsQuery(tt.in); got != tt.want {
			t.Errorf("tsQuery(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRelevantArticles_Integration(t *testing.T) {
	dsn := os.Getenv("DESKMATE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("DESKMATE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	r, err := New(ctx, pool)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO kb_articles (id, title, body) VALUES
		 ('test-kb-refund', 'Refund a duplicate charge', 'We refund duplicate charges within 5 days.'),
		 ('test-kb-ship', 'Shipping delays', 'Carriers may be delayed during holidays.')
		 ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	got, err := r.RelevantArticles(ctx, "refund for a double charge", 3)
	if err != nil {
		t.Fatalf("RelevantArticles: %v", err)
	}
	if len(got) == 0 || got[0].Article.ID != "test-kb-refund" {
		t.Fatalf("top result = %v, want test-kb-refund first", got)
	}
}
