package observability

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/emosketch/dbopen"
	"github.com/hazyhaar/emosketch/idgen"
	"github.com/hazyhaar/emosketch/kit"
)

func newTestLogger(t *testing.T) *EventLogger {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewEventLogger(db, WithEventIDGenerator(idgen.Sequence("evt_")))
}

func TestLogEvent_Recent(t *testing.T) {
	l := newTestLogger(t)
	ctx := kit.WithTraceID(kit.WithRemoteAddr(context.Background(), "192.0.2.1"), "cafe0001")

	l.LogEvent(ctx, BusinessEvent{
		EventType: EventDrawingSaved, EntityType: "drawing", EntityID: "drw_1",
		Details: map[string]any{"partition": "alegria"}, Success: true,
	})
	l.LogEvent(ctx, BusinessEvent{EventType: EventDrawingRejected, Success: false})

	all, err := l.Recent(ctx, "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}

	saved, err := l.Recent(ctx, EventDrawingSaved, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(saved) != 1 {
		t.Fatalf("got %d saved events", len(saved))
	}
	ev := saved[0]
	if ev.ID != "evt_1" || ev.EntityID != "drw_1" || !ev.Success {
		t.Errorf("event = %+v", ev)
	}
	if ev.TraceID != "cafe0001" || ev.RemoteAddr != "192.0.2.1" {
		t.Errorf("context not recorded: %+v", ev)
	}
	var d map[string]string
	if err := json.Unmarshal(ev.Details, &d); err != nil || d["partition"] != "alegria" {
		t.Errorf("details = %s", ev.Details)
	}
}

// WHAT: A nil logger and a broken store never panic or fail the caller.
// WHY: Event logging is best effort around the save path.
func TestLogEvent_BestEffort(t *testing.T) {
	var nilLogger *EventLogger
	nilLogger.LogEvent(context.Background(), BusinessEvent{EventType: "x"})

	db := dbopen.OpenMemory(t) // no schema
	NewEventLogger(db).LogEvent(context.Background(), BusinessEvent{EventType: "x"})
}

func TestCleanup(t *testing.T) {
	l := newTestLogger(t)
	now := time.Now()
	l.now = func() time.Time { return now.Add(-40 * 24 * time.Hour) }
	l.LogEvent(context.Background(), BusinessEvent{EventType: "old", Success: true})
	l.now = func() time.Time { return now }
	l.LogEvent(context.Background(), BusinessEvent{EventType: "new", Success: true})

	n, err := l.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("deleted %d, want 1", n)
	}
	left, _ := l.Recent(context.Background(), "", 10)
	if len(left) != 1 || left[0].Type != "new" {
		t.Errorf("left = %+v", left)
	}
	if n, _ := l.Cleanup(context.Background(), 0); n != 0 {
		t.Error("days=0 deleted events")
	}
}
