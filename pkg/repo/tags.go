package repo

import (
	"context"
	"fmt"
	"time"
)

// Date tag granularities, finest first. Tagging at hour or day also tags
// every coarser granularity; tagging at week or month tags only that one.
const (
	GranularityHour  = "hour"
	GranularityDay   = "day"
	GranularityWeek  = "week"
	GranularityMonth = "month"
)

var dateTagFanout = map[string][]string{
	GranularityHour:  {GranularityHour, GranularityDay, GranularityWeek, GranularityMonth},
	GranularityDay:   {GranularityDay, GranularityWeek, GranularityMonth},
	GranularityWeek:  {GranularityWeek},
	GranularityMonth: {GranularityMonth},
}

// DateTags expands a timestamp into its canonical tag strings for the given
// granularity: the granularity's own tag, plus one per coarser granularity
// for hour and day. Week and month yield only their own tag. Week tags use
// the ISO week start (Monday).
func DateTags(period time.Time, granularity string) ([]string, error) {
	fanout, ok := dateTagFanout[granularity]
	if !ok {
		return nil, fmt.Errorf("%w: unknown date tag granularity %q", ErrAPIMisuse, granularity)
	}

	tags := make([]string, 0, len(fanout))
	for _, g := range fanout {
		tags = append(tags, dateTag(period, g))
	}
	return tags, nil
}

func dateTag(period time.Time, granularity string) string {
	switch granularity {
	case GranularityHour:
		return "hour=" + period.Truncate(time.Hour).Format("2006-01-02 15:04:05")
	case GranularityDay:
		return "day=" + period.Format("2006-01-02")
	case GranularityWeek:
		return "week=" + weekStart(period).Format("2006-01-02")
	case GranularityMonth:
		return "month=" + time.Date(period.Year(), period.Month(), 1, 0, 0, 0, 0, period.Location()).Format("2006-01-02")
	}
	return ""
}

// weekStart returns the Monday of the timestamp's ISO week.
func weekStart(t time.Time) time.Time {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return t.AddDate(0, 0, 1-weekday)
}

// Tag attaches tags to this specific file version, interning new names.
// Re-tagging is idempotent.
func (f *File) Tag(ctx context.Context, names ...string) error {
	ids, err := f.repo.stores.Tags.FindOrCreateIDs(ctx, names)
	if err != nil {
		return err
	}
	return f.repo.stores.FileTags.Attach(ctx, f.FileID, ids, f.repo.clock.Now())
}

// Untag removes file-level tags. Unknown names and unattached tags are a
// no-op.
func (f *File) Untag(ctx context.Context, names ...string) error {
	ids, err := f.repo.stores.Tags.FindIDs(ctx, names)
	if err != nil {
		return err
	}
	return f.repo.stores.FileTags.Detach(ctx, f.FileID, ids)
}

// TagPath attaches tags to the file's path, covering every version at it.
func (f *File) TagPath(ctx context.Context, names ...string) error {
	ids, err := f.repo.stores.Tags.FindOrCreateIDs(ctx, names)
	if err != nil {
		return err
	}
	return f.repo.stores.PathTags.Attach(ctx, f.PathID, ids, f.repo.clock.Now())
}

// UntagPath removes path-level tags.
func (f *File) UntagPath(ctx context.Context, names ...string) error {
	ids, err := f.repo.stores.Tags.FindIDs(ctx, names)
	if err != nil {
		return err
	}
	return f.repo.stores.PathTags.Detach(ctx, f.PathID, ids)
}

// TagDate attaches the timestamp's canonical date tags at the path level.
func (f *File) TagDate(ctx context.Context, period time.Time, granularity string) error {
	tags, err := DateTags(period, granularity)
	if err != nil {
		return err
	}
	return f.TagPath(ctx, tags...)
}
