package rfid

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"dormitory/internal/apperr"
	"dormitory/internal/presence"
	"dormitory/internal/queue"
)

// fakeStore keeps everything in memory and mirrors the repository's ordering.
type fakeStore struct {
	holders    map[string]CardHolder
	rooms      map[string]Location
	events     []Event
	activities []Activity
	devices    []string
	failList   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{holders: map[string]CardHolder{}, rooms: map[string]Location{}}
}

func (f *fakeStore) UpsertDevice(_ context.Context, deviceID string) error {
	f.devices = append(f.devices, deviceID)
	return nil
}

func (f *fakeStore) CardHolder(_ context.Context, cardID string) (*CardHolder, error) {
	h, ok := f.holders[cardID]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (f *fakeStore) RoomLocation(_ context.Context, roomID string) (*Location, error) {
	loc, ok := f.rooms[roomID]
	if !ok {
		return nil, nil
	}
	return &loc, nil
}

func (f *fakeStore) LatestEvent(_ context.Context, studentID string) (*Event, error) {
	var latest *Event
	for i := range f.events {
		evt := f.events[i]
		if evt.StudentID == studentID && (latest == nil || !evt.RecordedAt.Before(latest.RecordedAt)) {
			latest = &evt
		}
	}
	return latest, nil
}

func (f *fakeStore) InsertEvent(_ context.Context, evt Event) (Event, error) {
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	f.events = append(f.events, evt)
	return evt, nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (*Event, error) {
	for _, evt := range f.events {
		if evt.ID == id {
			return &evt, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) newestFirst() []Event {
	out := append([]Event(nil), f.events...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RecordedAt.After(out[j].RecordedAt) })
	return out
}

func (f *fakeStore) ListEvents(_ context.Context, filter EventFilter) ([]Event, error) {
	if f.failList != nil {
		return nil, f.failList
	}
	var out []Event
	for _, evt := range f.newestFirst() {
		if filter.StudentID != "" && evt.StudentID != filter.StudentID {
			continue
		}
		if filter.Action != "" && evt.Action != filter.Action {
			continue
		}
		out = append(out, evt)
	}
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) EntriesFor(_ context.Context, studentIDs []string, from, to time.Time) ([]Event, error) {
	var out []Event
	for _, id := range studentIDs {
		var before *Event
		for _, evt := range f.newestFirst() {
			if evt.StudentID != id || evt.Action != presence.ActionEntry {
				continue
			}
			switch {
			case !evt.RecordedAt.Before(from) && !evt.RecordedAt.After(to):
				out = append(out, evt)
			case evt.RecordedAt.Before(from) && before == nil:
				e := evt
				before = &e
			}
		}
		if before != nil {
			out = append(out, *before)
		}
	}
	return out, nil
}

func (f *fakeStore) InsertActivity(_ context.Context, a Activity) error {
	for _, existing := range f.activities {
		if existing.Kind == a.Kind && existing.RefID == a.RefID {
			return nil
		}
	}
	f.activities = append(f.activities, a)
	return nil
}

type recordingPublisher struct {
	msgs []queue.Message
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg queue.Message) error {
	p.msgs = append(p.msgs, msg)
	return p.err
}

const (
	aliceID = "7d3f5a8e-0000-4000-8000-000000000001"
	bobID   = "7d3f5a8e-0000-4000-8000-000000000002"
)

func newTestService(t *testing.T) (*Service, *fakeStore, *recordingPublisher, *time.Time) {
	t.Helper()
	store := newFakeStore()
	store.holders["CARD-A"] = CardHolder{UserID: aliceID, Name: "Alice", Role: "student", Room: "204", Building: "North Hall"}
	store.holders["CARD-B"] = CardHolder{UserID: bobID, Name: "Bob", Role: "student"}
	store.rooms["room-1"] = Location{Room: "101", Building: "South Hall"}

	pub := &recordingPublisher{}
	svc := NewService(store, pub, 3*time.Second, time.UTC)
	now := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, store, pub, &now
}

func TestScanTogglesAction(t *testing.T) {
	svc, store, pub, now := newTestService(t)
	ctx := context.Background()

	first, err := svc.Scan(ctx, "CARD-A", "", "reader-1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if first.Event.Action != presence.ActionEntry || first.Duplicate {
		t.Fatalf("expected first scan to be an entry, got %+v", first)
	}
	if first.Event.Timestamp != "2024-01-01 08:00:00" {
		t.Fatalf("unexpected timestamp %q", first.Event.Timestamp)
	}
	if first.Event.Room != "204" || first.Event.Building != "North Hall" || first.User.Name != "Alice" {
		t.Fatalf("expected assigned room, got %+v", first)
	}

	*now = now.Add(2*time.Hour + 15*time.Minute)
	second, err := svc.Scan(ctx, "CARD-A", "room-1", "reader-1")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if second.Event.Action != presence.ActionExit {
		t.Fatalf("expected exit, got %s", second.Event.Action)
	}
	if second.Event.Room != "101" || second.Event.Building != "South Hall" {
		t.Fatalf("expected explicit room, got %+v", second.Event)
	}

	*now = now.Add(time.Hour)
	third, _ := svc.Scan(ctx, "CARD-A", "", "reader-1")
	if third.Event.Action != presence.ActionEntry {
		t.Fatalf("expected entry after exit, got %s", third.Event.Action)
	}

	if len(store.events) != 3 {
		t.Fatalf("expected 3 stored events, got %d", len(store.events))
	}
	if len(pub.msgs) != 3 || pub.msgs[0].Type != queue.TypeScan || string(pub.msgs[0].Body) != first.Event.ID {
		t.Fatalf("unexpected published messages %+v", pub.msgs)
	}
}

func TestScanDebounce(t *testing.T) {
	svc, store, _, now := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Scan(ctx, "CARD-A", "", "")
	*now = now.Add(time.Second)
	again, err := svc.Scan(ctx, "CARD-A", "", "")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if !again.Duplicate || again.Event.ID != first.Event.ID {
		t.Fatalf("expected debounced duplicate, got %+v", again)
	}
	if len(store.events) != 1 {
		t.Fatalf("debounced read must not be stored")
	}

	*now = now.Add(3 * time.Second)
	after, _ := svc.Scan(ctx, "CARD-A", "", "")
	if after.Duplicate || after.Event.Action != presence.ActionExit {
		t.Fatalf("expected exit after debounce window, got %+v", after)
	}
}

func TestScanErrors(t *testing.T) {
	svc, _, pub, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Scan(ctx, "  ", "", ""); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if _, err := svc.Scan(ctx, "CARD-X", "", ""); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found for unknown card, got %v", err)
	}
	if _, err := svc.Scan(ctx, "CARD-A", "missing-room", ""); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found for unknown room, got %v", err)
	}
	if len(pub.msgs) != 0 {
		t.Fatalf("failed scans must not publish")
	}
}

func TestScanSurvivesPublishFailure(t *testing.T) {
	svc, store, pub, _ := newTestService(t)
	pub.err = errors.New("redis down")
	if _, err := svc.Scan(context.Background(), "CARD-B", "", ""); err != nil {
		t.Fatalf("publish failure must not fail the scan: %v", err)
	}
	if len(store.events) != 1 {
		t.Fatalf("event should be stored")
	}
}

func TestLogsAnnotatesAcrossPages(t *testing.T) {
	svc, _, _, now := newTestService(t)
	ctx := context.Background()

	svc.Scan(ctx, "CARD-A", "", "") // 08:00 entry
	*now = now.Add(30 * time.Minute)
	svc.Scan(ctx, "CARD-B", "", "") // 08:30 entry
	*now = now.Add(45 * time.Minute)
	svc.Scan(ctx, "CARD-A", "", "") // 09:15 exit

	logs, err := svc.Logs(ctx, EventFilter{Limit: 1})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected one row, got %d", len(logs))
	}
	if logs[0].Action != presence.ActionExit || logs[0].Duration != "1h 15m" {
		t.Fatalf("expected exit with 1h 15m, got %+v", logs[0])
	}

	exits, err := svc.Logs(ctx, EventFilter{Action: presence.ActionExit})
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(exits) != 1 || exits[0].Duration != "1h 15m" {
		t.Fatalf("filtered exits should still be matched, got %+v", exits)
	}

	all, _ := svc.Logs(ctx, EventFilter{})
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
	for _, evt := range all[1:] {
		if evt.Duration != presence.NoDuration {
			t.Fatalf("entries carry no duration, got %+v", evt)
		}
	}
}

func TestListEventsValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ListEvents(ctx, EventFilter{Action: "teleport"}); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Fatalf("expected invalid action error, got %v", err)
	}
	events, err := svc.ListEvents(ctx, EventFilter{StudentID: "not-a-uuid"})
	if err != nil || len(events) != 0 {
		t.Fatalf("expected empty result for malformed student id, got %v %v", events, err)
	}
}

func TestPresence(t *testing.T) {
	svc, _, _, now := newTestService(t)
	ctx := context.Background()

	svc.Scan(ctx, "CARD-A", "", "") // Alice in
	*now = now.Add(time.Minute)
	svc.Scan(ctx, "CARD-B", "", "") // Bob in
	*now = now.Add(time.Minute)
	svc.Scan(ctx, "CARD-B", "", "") // Bob out

	all, err := svc.Presence(ctx, "")
	if err != nil {
		t.Fatalf("presence: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 students, got %d", len(all))
	}

	in, _ := svc.Presence(ctx, "in")
	if len(in) != 1 || in[0].StudentID != aliceID {
		t.Fatalf("expected only Alice inside, got %+v", in)
	}
	out, _ := svc.Presence(ctx, "out")
	if len(out) != 1 || out[0].StudentID != bobID || out[0].LastEvent.Duration != "1m 0s" {
		t.Fatalf("expected Bob out after 1m, got %+v", out)
	}

	if _, err := svc.Presence(ctx, "maybe"); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Fatalf("expected invalid state error, got %v", err)
	}

	sum, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.In != 1 || sum.Out != 1 || sum.ByBuilding["North Hall"] != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPresencePropagatesStoreErrors(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	store.failList = errors.New("connection reset")
	if _, err := svc.Presence(context.Background(), ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecordActivity(t *testing.T) {
	svc, store, _, now := newTestService(t)
	ctx := context.Background()

	res, _ := svc.Scan(ctx, "CARD-A", "", "")
	*now = now.Add(time.Hour)
	bob, _ := svc.Scan(ctx, "CARD-B", "", "")

	if err := svc.RecordActivity(ctx, res.Event.ID); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := svc.RecordActivity(ctx, res.Event.ID); err != nil {
		t.Fatalf("second record: %v", err)
	}
	if err := svc.RecordActivity(ctx, bob.Event.ID); err != nil {
		t.Fatalf("record: %v", err)
	}
	if len(store.activities) != 2 {
		t.Fatalf("expected one activity per event, got %d", len(store.activities))
	}
	a := store.activities[0]
	if a.Kind != "rfid_entry" || a.Description != "Entered North Hall, room 204" || a.UserID != aliceID {
		t.Fatalf("unexpected activity %+v", a)
	}
	if store.activities[1].Description != "Entered the dormitory" {
		t.Fatalf("unexpected description %q", store.activities[1].Description)
	}

	if err := svc.RecordActivity(ctx, "missing"); !apperr.Is(err, apperr.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterDevice(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	if err := svc.RegisterDevice(context.Background(), " "); !apperr.Is(err, apperr.CodeInvalidArgument) {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if err := svc.RegisterDevice(context.Background(), "gate-north"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(store.devices) != 1 || store.devices[0] != "gate-north" {
		t.Fatalf("unexpected devices %v", store.devices)
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		evt  Event
		want string
	}{
		{Event{Action: presence.ActionExit, Building: "North Hall", Room: "204"}, "Left North Hall, room 204"},
		{Event{Action: presence.ActionEntry, Building: "North Hall"}, "Entered North Hall"},
		{Event{Action: presence.ActionExit, Room: "12"}, "Left room 12"},
		{Event{Action: presence.ActionExit}, "Left the dormitory"},
	}
	for _, tc := range cases {
		if got := describe(tc.evt); got != tc.want {
			t.Fatalf("describe(%+v) = %q, want %q", tc.evt, got, tc.want)
		}
	}
}
