// Package point builds time-series datapoints from calendar dates labelled
// in the upstream portal's fixed UTC offset.
package point

import (
	"fmt"
	"time"

	"wattline/internal/domain"
)

// DefaultSourceOffsetHours is the portal's fixed UTC offset. It is not
// daylight-saving aware; the portal labels calendar dates in this offset
// year-round.
const DefaultSourceOffsetHours = -4

// SourceZone returns the fixed-offset location for the given UTC offset in
// hours.
func SourceZone(offsetHours int) *time.Location {
	return time.FixedZone(fmt.Sprintf("UTC%+d", offsetHours), offsetHours*3600)
}

// Build converts a (measurement, contract, entity, date, hour, value) tuple
// into a TimeSeriesPoint. The timestamp is midnight of date in zone plus
// hour hours, converted to UTC. hour is 0 for non-hourly measurements such
// as the account balance.
//
// A malformed date or an hour outside [0,23] is a programmer error and
// panics; the conversion itself is exact and independent of the host
// timezone.
func Build(measurement, contractID, entityID, date string, hour int, value float64, zone *time.Location) domain.TimeSeriesPoint {
	day, err := time.ParseInLocation(domain.DateLayout, date, zone)
	if err != nil {
		panic(fmt.Sprintf("point: malformed date %q: %v", date, err))
	}
	if hour < 0 || hour > 23 {
		panic(fmt.Sprintf("point: hour %d out of range [0,23]", hour))
	}

	ts := day.Add(time.Duration(hour) * time.Hour).UTC()

	return domain.TimeSeriesPoint{
		Measurement: measurement,
		Tags: domain.PointTags{
			EntityID: entityID,
			Contract: contractID,
		},
		Time:   ts.Format(domain.PointTimeLayout),
		Fields: domain.PointFields{Value: value},
	}
}
