package encoding

import (
	"fmt"
	"strings"
	"time"
)

// TimeKind selects the suffix written after the fixed-width timestamp prefix.
type TimeKind uint8

const (
	KindUTC         TimeKind = iota // 2020-12-09T10:20:50.4659412Z
	KindLocal                       // 2020-12-09T10:20:50.4659412-08:00
	KindUnspecified                 // 2020-12-09T10:20:50.4659412
)

// Encoded widths for each kind
const (
	TimestampPrefixLen = 27
	TimestampUTCLen    = TimestampPrefixLen + 1
	TimestampLocalLen  = TimestampPrefixLen + 6

	// MaxTimestampLen is the room a caller must leave before calling EncodeTimestamp
	MaxTimestampLen = TimestampLocalLen
)

// ParseTimeKind parses the configuration spelling of a time kind
func ParseTimeKind(s string) (TimeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "utc":
		return KindUTC, nil
	case "local":
		return KindLocal, nil
	case "unspecified":
		return KindUnspecified, nil
	}
	return KindUTC, fmt.Errorf("unknown time kind %q", s)
}

func (k TimeKind) String() string {
	switch k {
	case KindUTC:
		return "utc"
	case KindLocal:
		return "local"
	case KindUnspecified:
		return "unspecified"
	}
	return "unknown"
}

// Len returns the number of bytes EncodeTimestamp writes for this kind.
func (k TimeKind) Len() int {
	switch k {
	case KindUTC:
		return TimestampUTCLen
	case KindLocal:
		return TimestampLocalLen
	}
	return TimestampPrefixLen
}

// EncodeTimestamp writes t as yyyy-MM-ddTHH:mm:ss.fffffff plus the kind's
// suffix at buf[pos:] and returns the new position.
//
// Digits are extracted with division and modulo only, so the output never
// depends on locale and the call never allocates. KindUTC renders t in UTC;
// KindLocal and KindUnspecified render t's own wall clock, KindLocal adding
// t's zone offset. Years outside 0..9999 are clamped. The caller
// guarantees buf has k.Len() bytes left.
func EncodeTimestamp(t time.Time, kind TimeKind, buf []byte, pos int) int {
	if kind == KindUTC {
		t = t.UTC()
	}

	year, month, day := t.Date()
	hour, minute, second := t.Clock()
	ticks := t.Nanosecond() / 100

	// four digits only
	year = min(max(year, 0), 9999)

	buf[pos] = byte('0' + year/1000%10)
	buf[pos+1] = byte('0' + year/100%10)
	buf[pos+2] = byte('0' + year/10%10)
	buf[pos+3] = byte('0' + year%10)
	buf[pos+4] = '-'
	put2(buf, pos+5, int(month))
	buf[pos+7] = '-'
	put2(buf, pos+8, day)
	buf[pos+10] = 'T'
	put2(buf, pos+11, hour)
	buf[pos+13] = ':'
	put2(buf, pos+14, minute)
	buf[pos+16] = ':'
	put2(buf, pos+17, second)
	buf[pos+19] = '.'

	// 7 fractional digits, 100ns resolution
	for i := pos + 26; i >= pos+20; i-- {
		buf[i] = byte('0' + ticks%10)
		ticks /= 10
	}
	pos += TimestampPrefixLen

	switch kind {
	case KindUTC:
		buf[pos] = 'Z'
		pos++
	case KindLocal:
		_, offset := t.Zone()
		sign := byte('+')
		if offset < 0 {
			sign = '-'
			offset = -offset
		}
		buf[pos] = sign
		put2(buf, pos+1, offset/3600)
		buf[pos+3] = ':'
		put2(buf, pos+4, offset/60%60)
		pos += 6
	}

	return pos
}

func put2(buf []byte, pos int, v int) {
	buf[pos] = byte('0' + v/10%10)
	buf[pos+1] = byte('0' + v%10)
}
