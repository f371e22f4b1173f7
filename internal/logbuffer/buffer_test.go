package logbuffer

import (
	"fmt"
	"testing"
	"time"
)

func TestRingEvictsOldest(t *testing.T) {
	b := New(3)
	for i := 0; i < 5; i++ {
		b.Add(LogEntry{Message: fmt.Sprintf("line %d", i)})
	}

	got := b.GetAll()
	if len(got) != 3 {
		t.Fatalf("len = %d, want capacity", len(got))
	}
	for i, want := range []string{"line 2", "line 3", "line 4"} {
		if got[i].Message != want {
			t.Fatalf("entry %d = %q, want %q", i, got[i].Message, want)
		}
	}
}

func TestQueryFiltersAndOrder(t *testing.T) {
	b := New(10)
	base := time.Now()
	b.Add(LogEntry{Timestamp: base, Level: "info", Component: "engine", Message: "track started"})
	b.Add(LogEntry{Timestamp: base.Add(time.Second), Level: "error", Component: "engine", Message: "backend failed", Fields: map[string]any{"source": "proxy"}})
	b.Add(LogEntry{Timestamp: base.Add(2 * time.Second), Level: "info", Component: "library", Message: "scan finished"})

	got := b.Query(QueryParams{Level: "error"})
	if len(got) != 1 || got[0].Message != "backend failed" {
		t.Fatalf("level filter: %+v", got)
	}

	got = b.Query(QueryParams{Source: "proxy"})
	if len(got) != 1 || got[0].Component != "engine" {
		t.Fatalf("source filter: %+v", got)
	}

	got = b.Query(QueryParams{Search: "SCAN"})
	if len(got) != 1 || got[0].Component != "library" {
		t.Fatalf("case-insensitive search: %+v", got)
	}

	got = b.Query(QueryParams{Descending: true, Limit: 2})
	if len(got) != 2 || got[0].Message != "scan finished" {
		t.Fatalf("descending limit: %+v", got)
	}

	got = b.Query(QueryParams{Since: base.Add(time.Second)})
	if len(got) != 2 {
		t.Fatalf("since filter: %+v", got)
	}
}

func TestWriterCapturesZerologLines(t *testing.T) {
	b := New(10)
	w := NewWriter(b, nil)

	line := `{"level":"warn","component":"syncbus","source":"local","time":"2026-03-01T10:00:00Z","message":"publish retry"}`
	if _, err := w.Write([]byte(line)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("not json")); err != nil {
		t.Fatalf("write passthrough: %v", err)
	}

	got := b.GetAll()
	if len(got) != 1 {
		t.Fatalf("captured %d entries, want 1", len(got))
	}
	e := got[0]
	if e.Level != "warn" || e.Component != "syncbus" || e.Message != "publish retry" {
		t.Fatalf("parsed entry: %+v", e)
	}
	if e.Fields["source"] != "local" {
		t.Fatalf("extra field lost: %+v", e.Fields)
	}
	if e.Timestamp.UTC().Hour() != 10 {
		t.Fatalf("timestamp not taken from line: %v", e.Timestamp)
	}
}

func TestStatsAndClear(t *testing.T) {
	b := New(4)
	b.Add(LogEntry{Level: "info"})
	b.Add(LogEntry{Level: "info"})
	b.Add(LogEntry{Level: "error"})

	st := b.Stats()
	if st.Capacity != 4 || st.Count != 3 || st.LevelCount["info"] != 2 || st.LevelCount["error"] != 1 {
		t.Fatalf("stats: %+v", st)
	}

	b.Clear()
	if len(b.GetAll()) != 0 {
		t.Fatal("clear left entries behind")
	}
}

func TestComponentsDeduplicated(t *testing.T) {
	b := New(10)
	b.Add(LogEntry{Component: "engine"})
	b.Add(LogEntry{Component: "engine"})
	b.Add(LogEntry{Component: "queue"})
	b.Add(LogEntry{})

	got := b.GetComponents()
	if len(got) != 2 {
		t.Fatalf("components: %v", got)
	}
}
