package repo

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func mustParse(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02 15:04:05", value)
	if err != nil {
		t.Fatal(err)
	}
	return ts
}

func TestDateTagsHourFanout(t *testing.T) {
	period := mustParse(t, "2013-04-24 01:02:03")

	tags, err := DateTags(period, GranularityHour)
	if err != nil {
		t.Fatalf("DateTags() error: %v", err)
	}

	want := []string{
		"hour=2013-04-24 01:00:00",
		"day=2013-04-24",
		"week=2013-04-22",
		"month=2013-04-01",
	}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("DateTags(hour) = %v, want %v", tags, want)
	}
}

func TestDateTagsDayFanout(t *testing.T) {
	period := mustParse(t, "2013-04-24 01:02:03")

	tags, err := DateTags(period, GranularityDay)
	if err != nil {
		t.Fatal(err)
	}

	want := []string{
		"day=2013-04-24",
		"week=2013-04-22",
		"month=2013-04-01",
	}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("DateTags(day) = %v, want %v", tags, want)
	}
}

func TestDateTagsWeekIsSelfOnly(t *testing.T) {
	tags, err := DateTags(mustParse(t, "2013-04-24 01:02:03"), GranularityWeek)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tags, []string{"week=2013-04-22"}) {
		t.Errorf("DateTags(week) = %v", tags)
	}
}

func TestDateTagsMonthIsSelfOnly(t *testing.T) {
	tags, err := DateTags(mustParse(t, "2013-04-24 01:02:03"), GranularityMonth)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(tags, []string{"month=2013-04-01"}) {
		t.Errorf("DateTags(month) = %v", tags)
	}
}

func TestDateTagsUnknownGranularity(t *testing.T) {
	_, err := DateTags(time.Now(), "year")
	if !errors.Is(err, ErrAPIMisuse) {
		t.Errorf("DateTags(year) error = %v, want ErrAPIMisuse", err)
	}
}

func TestWeekStartOnSundays(t *testing.T) {
	// 2013-04-28 is a Sunday; the ISO week starts Monday the 22nd.
	sunday := mustParse(t, "2013-04-28 12:00:00")
	if got := weekStart(sunday).Format("2006-01-02"); got != "2013-04-22" {
		t.Errorf("weekStart(sunday) = %s, want 2013-04-22", got)
	}

	// A Monday is its own week start.
	monday := mustParse(t, "2013-04-22 00:00:00")
	if got := weekStart(monday).Format("2006-01-02"); got != "2013-04-22" {
		t.Errorf("weekStart(monday) = %s, want 2013-04-22", got)
	}
}

func TestDateTagsMonthBoundary(t *testing.T) {
	// The week of 2013-05-01 starts in April.
	tags, err := DateTags(mustParse(t, "2013-05-01 09:30:00"), GranularityHour)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{
		"hour=2013-05-01 09:00:00",
		"day=2013-05-01",
		"week=2013-04-29",
		"month=2013-05-01",
	}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("DateTags = %v, want %v", tags, want)
	}
}
