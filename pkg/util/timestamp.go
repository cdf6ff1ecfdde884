package util

import (
	"strings"
	"time"
)

// Timestamp is a frozen wall-clock token. It is captured once at session
// start and passed unchanged to runners and hooks so that every component
// formats the same instant.
type Timestamp struct {
	t time.Time
}

// NewTimestamp captures the current wall-clock time.
func NewTimestamp() Timestamp {
	return Timestamp{t: time.Now()}
}

// TimestampAt wraps an explicit instant. Used by tests and by callers that
// need to replay a previous session tag.
func TimestampAt(t time.Time) Timestamp {
	return Timestamp{t: t}
}

// Time returns the underlying instant.
func (ts Timestamp) Time() time.Time {
	return ts.t
}

// Unix returns the instant as seconds since the epoch.
func (ts Timestamp) Unix() int64 {
	return ts.t.Unix()
}

// strftime conversion table. Only the codes used by pipeline configs are
// mapped; unknown codes are left verbatim.
var strftimeRef = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'M': "04",
	'S': "05",
	'j': "002",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'p': "PM",
	'Z': "MST",
	'z': "-0700",
}

// Strftime formats the instant using C strftime codes. A literal "%%"
// produces "%".
func (ts Timestamp) Strftime(format string) string {
	var builder strings.Builder

	for idx := 0; idx < len(format); idx++ {
		if format[idx] != '%' || idx == len(format)-1 {
			builder.WriteByte(format[idx])

			continue
		}

		idx++

		code := format[idx]
		if code == '%' {
			builder.WriteByte('%')

			continue
		}

		layout, known := strftimeRef[code]
		if !known {
			builder.WriteByte('%')
			builder.WriteByte(code)

			continue
		}

		builder.WriteString(ts.t.Format(layout))
	}

	return builder.String()
}

// String formats the timestamp as the default session tag (yymmdd-HHMMSS).
func (ts Timestamp) String() string {
	return ts.Strftime("%y%m%d-%H%M%S")
}
