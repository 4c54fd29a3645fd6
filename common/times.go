package common

import (
	"fmt"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

var epochMillisRegexp = regexp.MustCompile(`^\d+$`)

// FormatTimestamp formats a timestamp as the number of milliseconds since the
// Unix epoch, which is the representation used on the wire by the change feed.
func FormatTimestamp(timestamp time.Time) string {
	return fmt.Sprintf("%d", timestamp.UnixNano()/1000000)
}

// ParseTimestamp converts a timestamp from an incoming event to a time.Time.
// Events produced by the approval workflow carry RFC3339 timestamps, while
// replayed events may carry epoch-milliseconds; both formats are accepted.
func ParseTimestamp(timestamp string) (time.Time, error) {
	wrapMsg := fmt.Sprintf("unable to parse timestamp `%s`", timestamp)

	// Try epoch-milliseconds first.
	if epochMillisRegexp.MatchString(timestamp) {
		var millis int64
		_, err := fmt.Sscanf(timestamp, "%d", &millis)
		if err != nil {
			return time.Time{}, errors.Wrap(err, wrapMsg)
		}
		return time.Unix(millis/1000, (millis%1000)*1000000), nil
	}

	// Fall back to RFC3339, with or without subsecond precision.
	parsed, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return time.Time{}, errors.Wrap(err, wrapMsg)
	}
	return parsed, nil
}
