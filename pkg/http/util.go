package http

import (
	"time"

	xutil "CryptoDaily/pkg/util"
)

// ParseTime accepts YYYY-MM-DD, RFC3339 and unix milliseconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) { return xutil.ParseTime(s) }
