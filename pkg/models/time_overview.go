package models

import (
	"sort"
	"time"
)

// TimePeriodOverview summarises the datasets of one product over one period.
// When DatasetCount is zero the optional fields are nil.
type TimePeriodOverview struct {
	DatasetCount int `json:"dataset_count" yaml:"dataset_count"`

	// Sparse counts keyed by the UTC midnight of each sub-period start day.
	TimelineDatasetCounts map[time.Time]int `json:"-" yaml:"-"`
	TimelinePeriod        PeriodType        `json:"timeline_period,omitempty" yaml:"timeline_period,omitempty"`

	RegionDatasetCounts map[string]int `json:"region_dataset_counts,omitempty" yaml:"region_dataset_counts,omitempty"`

	TimeRange *TimeRange `json:"time_range,omitempty" yaml:"time_range,omitempty"`

	// Footprint is EWKB; FootprintSRID is nil when there is no footprint.
	Footprint      []byte `json:"-" yaml:"-"`
	FootprintSRID  *int   `json:"footprint_srid,omitempty" yaml:"footprint_srid,omitempty"`
	FootprintCount int    `json:"footprint_count" yaml:"footprint_count"`

	SizeBytes                 *int64     `json:"size_bytes,omitempty" yaml:"size_bytes,omitempty"`
	NewestDatasetCreationTime *time.Time `json:"newest_dataset_creation_time,omitempty" yaml:"newest_dataset_creation_time,omitempty"`
	CRSes                     []string   `json:"crses,omitempty" yaml:"crses,omitempty"`

	// Set by the database when the overview is written.
	SummaryGenTime *time.Time `json:"summary_gen_time,omitempty" yaml:"summary_gen_time,omitempty"`
}

// EmptyOverview returns the summary of a period with no datasets.
func EmptyOverview() *TimePeriodOverview {
	return &TimePeriodOverview{}
}

// TimelineEntry is one bucket of a timeline histogram.
type TimelineEntry struct {
	StartDay time.Time `json:"start_day" yaml:"start_day"`
	Count    int       `json:"count" yaml:"count"`
}

// Timeline returns the timeline histogram sorted by start day.
func (o *TimePeriodOverview) Timeline() []TimelineEntry {
	entries := make([]TimelineEntry, 0, len(o.TimelineDatasetCounts))
	for day, count := range o.TimelineDatasetCounts {
		entries = append(entries, TimelineEntry{StartDay: day, Count: count})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartDay.Before(entries[j].StartDay)
	})
	return entries
}

// TimelineArrays splits the timeline into parallel start-day and count slices, sorted by day.
func (o *TimePeriodOverview) TimelineArrays() ([]time.Time, []int) {
	entries := o.Timeline()
	days := make([]time.Time, len(entries))
	counts := make([]int, len(entries))
	for i, e := range entries {
		days[i] = e.StartDay
		counts[i] = e.Count
	}
	return days, counts
}

// RegionArrays splits the region histogram into parallel code and count slices, sorted by code.
func (o *TimePeriodOverview) RegionArrays() ([]string, []int) {
	codes := make([]string, 0, len(o.RegionDatasetCounts))
	for code := range o.RegionDatasetCounts {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	counts := make([]int, len(codes))
	for i, code := range codes {
		counts[i] = o.RegionDatasetCounts[code]
	}
	return codes, counts
}

// HasFootprint reports whether a usable footprint geometry is attached.
func (o *TimePeriodOverview) HasFootprint() bool {
	return len(o.Footprint) > 0 && o.FootprintSRID != nil
}

// DayKey normalises t to the UTC midnight of its calendar date in loc.
func DayKey(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MaxTimelineBuckets is the most entries a timeline holds before it is regrouped
// into the next coarser grain.
const MaxTimelineBuckets = 365

func grainRank(g PeriodType) int {
	switch g {
	case PeriodMonth:
		return 1
	case PeriodYear:
		return 2
	case PeriodAll:
		return 3
	}
	return 0
}

// CoarserGrain returns whichever of a and b buckets more time. The empty grain is a day.
func CoarserGrain(a, b PeriodType) PeriodType {
	if a == "" {
		a = PeriodDay
	}
	if b == "" {
		b = PeriodDay
	}
	if grainRank(b) > grainRank(a) {
		return b
	}
	return a
}

func nextGrain(g PeriodType) PeriodType {
	if g == PeriodMonth {
		return PeriodYear
	}
	if g == PeriodYear {
		return PeriodYear
	}
	return PeriodMonth
}

// TruncateToGrain returns the start day of the grain bucket containing day.
func TruncateToGrain(day time.Time, grain PeriodType) time.Time {
	switch grain {
	case PeriodMonth:
		return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, time.UTC)
	case PeriodYear:
		return time.Date(day.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

// RegroupTimeline re-buckets day-keyed counts into grain.
func RegroupTimeline(counts map[time.Time]int, grain PeriodType) map[time.Time]int {
	out := make(map[time.Time]int, len(counts))
	for day, n := range counts {
		out[TruncateToGrain(day, grain)] += n
	}
	return out
}

// CoarsenTimeline regroups the timeline into grain when it is currently finer,
// then keeps coarsening while it has more than MaxTimelineBuckets entries.
func (o *TimePeriodOverview) CoarsenTimeline(grain PeriodType) {
	current := o.TimelinePeriod
	if current == "" {
		current = PeriodDay
	}
	target := CoarserGrain(current, grain)
	for len(o.TimelineDatasetCounts) > MaxTimelineBuckets && target != PeriodYear {
		if len(RegroupTimeline(o.TimelineDatasetCounts, target)) <= MaxTimelineBuckets {
			break
		}
		target = nextGrain(target)
	}
	if target != current && o.TimelineDatasetCounts != nil {
		o.TimelineDatasetCounts = RegroupTimeline(o.TimelineDatasetCounts, target)
	}
	o.TimelinePeriod = target
}
