package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/polybuild/internal/history"
)

func TestSQLiteSink_Integration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sink, err := New("sqlite://" + dbPath)
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	ctx := context.Background()
	rec := history.Record{
		Model:    "hello",
		Language: "c",
		Tool:     "gcc",
		Command:  "gcc -c hello.c -o hello_c.o",
		Duration: 12,
	}
	if err := sink.Send(ctx, history.New(history.EventToolCall, rec)); err != nil {
		t.Fatalf("Failed to send tool event: %v", err)
	}

	rec.Products = []string{"hello_c.o", "hello.out"}
	if err := sink.Send(ctx, history.New(history.EventBuilt, rec)); err != nil {
		t.Fatalf("Failed to send built event: %v", err)
	}

	n, err := sink.Count(ctx, "hello")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}

	var products string
	if err := sink.db.QueryRowContext(ctx, `SELECT products FROM build_history WHERE event = ?`, string(history.EventBuilt)).Scan(&products); err != nil {
		t.Fatalf("query: %v", err)
	}
	if products != "hello_c.o,hello.out" {
		t.Fatalf("unexpected products %q", products)
	}
}

func TestSQLiteSink_InMemory(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	e := history.Event{
		Type:       history.EventBuildFailed,
		OccurredAt: time.Now().UTC(),
		Record:     history.Record{Model: "broken", ExitCode: 1, Error: "compilation failed"},
	}
	if err := sink.Send(ctx, e); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	var errText string
	if err := sink.db.QueryRowContext(ctx, `SELECT error FROM build_history WHERE model = ?`, "broken").Scan(&errText); err != nil {
		t.Fatalf("query: %v", err)
	}
	if errText != "compilation failed" {
		t.Fatalf("unexpected error column %q", errText)
	}
}

func TestSQLiteSink_EmptyDSN(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}

func TestSQLiteSink_ContextCancellation(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Send with a cancelled context must not panic; an error is acceptable.
	if err := sink.Send(ctx, history.New(history.EventModelStart, history.Record{Model: "m", PID: 1})); err != nil {
		t.Logf("Expected error with cancelled context: %v", err)
	}
}
