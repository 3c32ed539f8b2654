package store

import (
	"testing"
	"time"
)

func baseEvent() *Event {
	return &Event{
		UID:     "stable-uid@example.com",
		Version: 1,
		Summary: "Standup",
		Start:   time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		End:     time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Status:  StatusConfirmed,
	}
}

func TestComputeETagStableForIdenticalContent(t *testing.T) {
	a := baseEvent()
	b := baseEvent()
	if ComputeETag(a) != ComputeETag(b) {
		t.Fatal("identical events produced different ETags")
	}
}

func TestComputeETagChangesWithContent(t *testing.T) {
	base := ComputeETag(baseEvent())

	fields := []func(*Event){
		func(e *Event) { e.Version = 2 },
		func(e *Event) { e.Summary = "Renamed" },
		func(e *Event) { e.Start = e.Start.Add(time.Hour) },
		func(e *Event) { e.End = e.End.Add(time.Hour) },
		func(e *Event) { e.Status = StatusCancelled },
		func(e *Event) { e.RRule = "FREQ=DAILY" },
	}
	for i, mutate := range fields {
		ev := baseEvent()
		mutate(ev)
		if tag := ComputeETag(ev); tag == base {
			t.Errorf("mutation %d did not change the ETag", i)
		}
	}
}

func TestComputeETagIsQuotedStrong(t *testing.T) {
	tag := ComputeETag(baseEvent())
	if len(tag) < 2 || tag[0] != '"' || tag[len(tag)-1] != '"' {
		t.Fatalf("ETag %q is not a quoted strong tag", tag)
	}
}

func TestComputeETagAllDayUsesDateGranularity(t *testing.T) {
	ev := baseEvent()
	ev.IsAllDay = true
	ev.StartDate = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ev.EndDate = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	sameDayDifferentHour := baseEvent()
	sameDayDifferentHour.IsAllDay = true
	sameDayDifferentHour.StartDate = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	sameDayDifferentHour.EndDate = time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC)

	if ComputeETag(ev) != ComputeETag(sameDayDifferentHour) {
		t.Fatal("all-day ETag should be stable across different times within the same day")
	}
}
