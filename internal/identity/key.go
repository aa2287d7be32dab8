// Package identity builds the stable keys that make scheduling idempotent.
//
// A reminder key names one logical reminder definition; a fire key names one
// logical firing of that reminder at one particular minute. Both ledgers
// (scheduled jobs and delivery records) enforce uniqueness on these keys, so
// re-running any computation can never double-fire.
package identity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NoMinute marks a reminder whose identity does not include a time of day
// (task anchors derive their minute from the task row itself).
const NoMinute = -1

// ReminderKey derives the stable identity of a reminder definition from its
// logical tuple. Identical inputs always yield the identical string.
func ReminderKey(ownerID uint64, targetType string, targetID uint64, anchor string, minuteOfDay int) string {
	var b strings.Builder
	b.WriteString("rem:")
	b.WriteString(strconv.FormatUint(ownerID, 10))
	b.WriteByte(':')
	b.WriteString(targetType)
	b.WriteByte(':')
	b.WriteString(strconv.FormatUint(targetID, 10))
	b.WriteByte(':')
	b.WriteString(anchor)
	if minuteOfDay >= 0 {
		fmt.Fprintf(&b, ":%04d", minuteOfDay)
	}
	return b.String()
}

// FireKey derives the identity of one firing of a reminder. The instant is
// truncated to the minute on purpose: repeated computations of the same
// logical instant may disagree by clock jitter below a minute, and all of
// them must map to the same key.
func FireKey(reminderKey string, at time.Time) string {
	return reminderKey + "@" + strconv.FormatInt(at.Unix()/60, 10)
}
