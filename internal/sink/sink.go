// Package sink builds the append-only destination paths shared by report sinks.
package sink

import (
	"fmt"
	"strings"
	"time"
)

// TimestampLayout prefixes every uploaded file name.
const TimestampLayout = "20060102T150405Z"

// PartitionedPath returns prefix/year=YYYY/month=MM/day=DD/<ts>_filename for
// the UTC time now. An empty prefix drops the leading segment.
func PartitionedPath(prefix, filename string, now time.Time) string {
	now = now.UTC()
	name := fmt.Sprintf("year=%04d/month=%02d/day=%02d/%s_%s",
		now.Year(), int(now.Month()), now.Day(), now.Format(TimestampLayout), filename)
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}
