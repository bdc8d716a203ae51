package knowledge

import "time"

const timeLayout = time.RFC3339Nano

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
