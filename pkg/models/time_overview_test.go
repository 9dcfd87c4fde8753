package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestTimePeriodOverview_Arrays(t *testing.T) {
	o := &TimePeriodOverview{
		TimelineDatasetCounts: map[time.Time]int{
			day(2017, time.May, 5):   1,
			day(2017, time.April, 3): 2,
		},
		RegionDatasetCounts: map[string]int{"91_84": 1, "90_84": 2},
	}

	days, counts := o.TimelineArrays()
	assert.Equal(t, []time.Time{day(2017, time.April, 3), day(2017, time.May, 5)}, days)
	assert.Equal(t, []int{2, 1}, counts)

	codes, regionCounts := o.RegionArrays()
	assert.Equal(t, []string{"90_84", "91_84"}, codes)
	assert.Equal(t, []int{2, 1}, regionCounts)
}

func TestTimePeriodOverview_HasFootprint(t *testing.T) {
	srid := 4326
	assert.False(t, EmptyOverview().HasFootprint())
	assert.False(t, (&TimePeriodOverview{Footprint: []byte{1}}).HasFootprint())
	assert.True(t, (&TimePeriodOverview{Footprint: []byte{1}, FootprintSRID: &srid}).HasFootprint())
}

func TestDayKey(t *testing.T) {
	sydney, err := time.LoadLocation("Australia/Sydney")
	assert.NoError(t, err)

	ts := time.Date(2017, 4, 3, 23, 50, 10, 0, time.UTC)
	assert.Equal(t, day(2017, time.April, 3), DayKey(ts, nil))
	assert.Equal(t, day(2017, time.April, 4), DayKey(ts, sydney))
}

func TestCoarserGrain(t *testing.T) {
	assert.Equal(t, PeriodMonth, CoarserGrain(PeriodDay, PeriodMonth))
	assert.Equal(t, PeriodMonth, CoarserGrain(PeriodMonth, ""))
	assert.Equal(t, PeriodDay, CoarserGrain("", ""))
	assert.Equal(t, PeriodYear, CoarserGrain(PeriodYear, PeriodMonth))
}

func TestCoarsenTimeline_RegroupsDaysIntoMonths(t *testing.T) {
	o := &TimePeriodOverview{
		TimelinePeriod: PeriodDay,
		TimelineDatasetCounts: map[time.Time]int{
			day(2017, time.April, 3):  2,
			day(2017, time.April, 26): 1,
			day(2017, time.May, 5):    1,
		},
	}

	o.CoarsenTimeline(PeriodMonth)

	assert.Equal(t, PeriodMonth, o.TimelinePeriod)
	assert.Equal(t, map[time.Time]int{
		day(2017, time.April, 1): 3,
		day(2017, time.May, 1):   1,
	}, o.TimelineDatasetCounts)
}

func TestCoarsenTimeline_KeepsCoarserTimeline(t *testing.T) {
	counts := map[time.Time]int{day(2017, time.April, 1): 3}
	o := &TimePeriodOverview{TimelinePeriod: PeriodMonth, TimelineDatasetCounts: counts}

	o.CoarsenTimeline(PeriodDay)

	assert.Equal(t, PeriodMonth, o.TimelinePeriod)
	assert.Equal(t, counts, o.TimelineDatasetCounts)
}

func TestCoarsenTimeline_TooManyBuckets(t *testing.T) {
	counts := map[time.Time]int{}
	start := day(2000, time.January, 1)
	for i := 0; i < 400; i++ {
		counts[start.AddDate(0, i, 0)] = 1
	}
	o := &TimePeriodOverview{TimelinePeriod: PeriodMonth, TimelineDatasetCounts: counts}

	o.CoarsenTimeline(PeriodMonth)

	assert.Equal(t, PeriodYear, o.TimelinePeriod)
	assert.LessOrEqual(t, len(o.TimelineDatasetCounts), MaxTimelineBuckets)
	total := 0
	for _, n := range o.TimelineDatasetCounts {
		total += n
	}
	assert.Equal(t, 400, total)
}
