package ntp

import "time"

// Timestamp is a 64 bit NTP timestamp: seconds since 1900 and a binary
// fraction of a second.
type Timestamp struct {
	sec  uint32
	frac uint32
}

var baseTime = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// BaseTime returns the NTP prime epoch, 1900-01-01 UTC.
func BaseTime() time.Time { return baseTime }

// TimestampFromTime converts t to a Timestamp. Times outside era 0
// (1900 to 2036) wrap.
func TimestampFromTime(t time.Time) Timestamp {
	d := t.Sub(baseTime)
	sec := d / time.Second
	nsec := d - sec*time.Second
	return Timestamp{
		sec:  uint32(sec),
		frac: uint32((uint64(nsec) << 32) / uint64(time.Second)),
	}
}

// TimestampFromUint64 decodes the wire representation of a timestamp.
func TimestampFromUint64(v uint64) Timestamp {
	return Timestamp{sec: uint32(v >> 32), frac: uint32(v)}
}

// Uint64 returns the wire representation of ts.
func (ts Timestamp) Uint64() uint64 { return uint64(ts.sec)<<32 | uint64(ts.frac) }

// IsZero reports whether ts is the zero timestamp, which marks an unset field.
func (ts Timestamp) IsZero() bool { return ts == Timestamp{} }

// Time returns ts as a time in era 0.
func (ts Timestamp) Time() time.Time {
	return baseTime.Add(ts.duration())
}

// Sub returns ts-other. Both timestamps must be within 68 years of each other.
func (ts Timestamp) Sub(other Timestamp) time.Duration {
	delta := int64(ts.Uint64() - other.Uint64())
	return fracToDuration(delta)
}

// Add returns ts+d.
func (ts Timestamp) Add(d time.Duration) Timestamp {
	sec := d / time.Second
	nsec := d - sec*time.Second
	v := ts.Uint64() + uint64(int64(sec)<<32) + uint64((int64(nsec)<<32)/int64(time.Second))
	return TimestampFromUint64(v)
}

func (ts Timestamp) duration() time.Duration {
	return time.Duration(ts.sec)*time.Second + time.Duration((uint64(ts.frac)*uint64(time.Second))>>32)
}

// fracToDuration converts a signed 32.32 fixed point second count.
func fracToDuration(v int64) time.Duration {
	sec := v >> 32
	frac := uint64(uint32(v))
	return time.Duration(sec)*time.Second + time.Duration((frac*uint64(time.Second))>>32)
}
