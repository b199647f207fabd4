// Package timecode converts between subtitle/seek timestamps and seconds.
package timecode

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var cuePattern = regexp.MustCompile(`^(\d+):(\d{1,2}):(\d{1,2})(?:[.,](\d{1,3}))?$`)

// ParseCue parses "HH:MM:SS.mmm" or "HH:MM:SS,mmm" into seconds.
func ParseCue(s string) (float64, error) {
	m := cuePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid timestamp: %q", s)
	}
	h, _ := strconv.Atoi(m[1])
	mi, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])
	if mi > 59 || sec > 59 {
		return 0, fmt.Errorf("invalid timestamp: %q", s)
	}
	ms := 0
	if m[4] != "" {
		// "1" means 100ms, "25" means 250ms
		frac := m[4] + strings.Repeat("0", 3-len(m[4]))
		ms, _ = strconv.Atoi(frac)
	}
	return float64(h*3600+mi*60+sec) + float64(ms)/1000, nil
}

// FormatCue renders seconds with a comma decimal separator, the SRT form.
func FormatCue(seconds float64) string {
	return format(seconds, ",")
}

// FormatCueDot renders seconds with a dot decimal separator.
func FormatCueDot(seconds float64) string {
	return format(seconds, ".")
}

func format(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	ms := total % 1000
	s := total / 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", s/3600, (s%3600)/60, s%60, sep, ms)
}

// FormatClock renders whole seconds as HH:MM:SS, truncating any fraction.
func FormatClock(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	s := int64(seconds)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// FormatASS renders seconds in the H:MM:SS.cc form used by ASS dialogue lines.
func FormatASS(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int64(math.Round(seconds * 100))
	cs := total % 100
	s := total / 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", s/3600, (s%3600)/60, s%60, cs)
}

var durationPattern = regexp.MustCompile(`^(?:(\d+)h)?(?:(\d+)mn)?(?:(\d+)s)?(?:(\d+)ms)?$`)

// ParseMediaInfoDuration parses durations such as "1 h 32 mn" or "45 mn 12 s" into whole
// seconds. Milliseconds are dropped.
func ParseMediaInfoDuration(s string) (int64, bool) {
	compact := strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if compact == "" {
		return 0, false
	}
	m := durationPattern.FindStringSubmatch(compact)
	if m == nil {
		return 0, false
	}
	var parts [3]int64
	for i := 0; i < 3; i++ {
		if m[i+1] != "" {
			parts[i], _ = strconv.ParseInt(m[i+1], 10, 64)
		}
	}
	return parts[0]*3600 + parts[1]*60 + parts[2], true
}
