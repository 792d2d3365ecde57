package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowRFC3339 returns the current UTC time formatted as RFC3339
func UTCNowRFC3339() string {
	return UTCNow().Format(time.RFC3339)
}

// UTCNowUnix returns the current UTC time as a Unix timestamp
func UTCNowUnix() int64 {
	return UTCNow().Unix()
}
