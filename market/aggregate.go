package market

import (
	"sort"
	"time"
)

// AggregateToHour combines 30-minute bars into hourly bars.
//
// Bars are grouped by the calendar hour they fall in, evaluated in loc
// (exchange-local time). The combined bar opens with the earliest bar in
// the group, closes with the latest, takes max high / min low, sums
// volume, and is stamped with the hour start. A group holding a single
// 30-minute bar (half-days, session boundaries) still yields a valid
// hourly bar.
//
// The input is copied and sorted first, so the result does not depend on
// input order and repeated application over the same bars is stable.
func AggregateToHour(halfHours Series, loc *time.Location) Series {
	if len(halfHours) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	bars := make(Series, len(halfHours))
	copy(bars, halfHours)
	bars.Sort()

	groups := make(map[time.Time][]Bar)
	for _, b := range bars {
		lt := b.Time.In(loc)
		hour := time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, loc)
		groups[hour] = append(groups[hour], b)
	}

	hours := make([]time.Time, 0, len(groups))
	for h := range groups {
		hours = append(hours, h)
	}
	sort.Slice(hours, func(i, j int) bool { return hours[i].Before(hours[j]) })

	out := make(Series, 0, len(hours))
	for _, h := range hours {
		group := groups[h]
		agg := Bar{
			Time:  h,
			Open:  group[0].Open,
			High:  group[0].High,
			Low:   group[0].Low,
			Close: group[len(group)-1].Close,
		}
		for _, b := range group {
			if b.High > agg.High {
				agg.High = b.High
			}
			if b.Low < agg.Low {
				agg.Low = b.Low
			}
			agg.Volume += b.Volume
		}
		out = append(out, agg)
	}
	return out
}
