// Package frame defines the binary layout of one log record inside a slot
// ring and the encode/decode rules for it.
//
// Layout (little endian, version 1):
//
//	offset size field
//	0      4    begin mark (0x534C4F47, "SLOG")
//	4      1    version
//	5      1    level
//	6      2    format flags
//	8      4    line
//	12     8    timestamp, unix seconds
//	20     2    milliseconds
//	22     2    file length
//	24     2    function length
//	26     4    payload length
//	30     ...  file, function, payload
//	...    4    end mark (0x474F4C53, "GOLS")
//
// A record is either decoded whole or not at all.
package frame

import (
	"encoding/binary"
	"strconv"
	"time"
	"unicode/utf8"
)

const (
	BeginMark   uint32 = 0x534C4F47
	EndMark     uint32 = 0x474F4C53
	Version     byte   = 1
	HeaderSize         = 30
	TrailerSize        = 4

	MaxFileLen     = 255
	MaxFunctionLen = 127
	MaxPayloadLen  = 4096
)

var le = binary.LittleEndian

// Record is one structured log record.
type Record struct {
	Level    uint8
	Flags    uint16
	Line     uint32
	Time     int64  // unix seconds
	Millis   uint16 // 0..999
	File     string
	Function string
	Payload  []byte
}

// SetTime stores t with millisecond precision.
func (r *Record) SetTime(t time.Time) {
	r.Time = t.Unix()
	r.Millis = uint16(t.Nanosecond() / int(time.Millisecond))
}

// Timestamp returns the record time with millisecond precision.
func (r *Record) Timestamp() time.Time {
	return time.Unix(r.Time, int64(r.Millis)*int64(time.Millisecond))
}

// cut returns the longest prefix length of s not above limit that does not
// split a UTF-8 sequence. Invalid UTF-8 is cut at limit.
func cut[T string | []byte](s T, limit int) int {
	if len(s) <= limit {
		return len(s)
	}
	for n := limit; n >= 0 && n > limit-utf8.UTFMax; n-- {
		if utf8.RuneStart(s[n]) {
			return n
		}
	}
	return limit
}

func bounded(r *Record) (file, function string, payload []byte) {
	file = r.File[:cut(r.File, MaxFileLen)]
	function = r.Function[:cut(r.Function, MaxFunctionLen)]
	payload = r.Payload[:cut(r.Payload, MaxPayloadLen)]
	return
}

// Size returns the framed size of r after bounding its strings and payload.
func Size(r *Record) int {
	file, function, payload := bounded(r)
	return HeaderSize + len(file) + len(function) + len(payload) + TrailerSize
}

// Append frames r onto dst and returns the extended slice. File, function and
// payload longer than their bounds are truncated on a rune boundary.
func Append(dst []byte, r *Record) []byte {
	file, function, payload := bounded(r)
	dst = le.AppendUint32(dst, BeginMark)
	dst = append(dst, Version, r.Level)
	dst = le.AppendUint16(dst, r.Flags)
	dst = le.AppendUint32(dst, r.Line)
	dst = le.AppendUint64(dst, uint64(r.Time))
	dst = le.AppendUint16(dst, r.Millis)
	dst = le.AppendUint16(dst, uint16(len(file)))
	dst = le.AppendUint16(dst, uint16(len(function)))
	dst = le.AppendUint32(dst, uint32(len(payload)))
	dst = append(dst, file...)
	dst = append(dst, function...)
	dst = append(dst, payload...)
	return le.AppendUint32(dst, EndMark)
}

// CorruptionError reports a record that can not have been written by a
// legitimate producer. Decode panics with it.
type CorruptionError struct {
	Field string
	Got   uint64
	Want  uint64
}

func (e *CorruptionError) Error() string {
	return "frame: corrupted record: bad " + e.Field +
		" (got 0x" + strconv.FormatUint(e.Got, 16) +
		", want 0x" + strconv.FormatUint(e.Want, 16) + ")"
}

func corrupted(field string, got, want uint64) {
	panic(&CorruptionError{Field: field, Got: got, Want: want})
}

// Source is the consumer side of a ring.
type Source interface {
	Used() int
	Peek(p []byte) int
	Drop(n int) int
}

// Decoder decodes records from a Source into a reused buffer. A decoded
// Payload is valid until the next Decode call.
type Decoder struct {
	buf []byte
}

func (d *Decoder) grow(n int) []byte {
	if cap(d.buf) < n {
		d.buf = make([]byte, n, max(n, 2*cap(d.buf)))
	}
	return d.buf[:n]
}

// Decode takes exactly one complete record from src. It returns false when a
// whole record is not available yet. A bad mark, version or length field
// panics with *CorruptionError.
func (d *Decoder) Decode(src Source) (rec Record, ok bool) {
	used := src.Used()
	if used < HeaderSize {
		return rec, false
	}
	hdr := d.grow(HeaderSize)
	src.Peek(hdr)
	if mark := le.Uint32(hdr[0:]); mark != BeginMark {
		corrupted("begin mark", uint64(mark), uint64(BeginMark))
	}
	if hdr[4] != Version {
		corrupted("version", uint64(hdr[4]), uint64(Version))
	}
	fileLen := int(le.Uint16(hdr[22:]))
	funcLen := int(le.Uint16(hdr[24:]))
	payloadLen := int(le.Uint32(hdr[26:]))
	switch {
	case fileLen > MaxFileLen:
		corrupted("file length", uint64(fileLen), MaxFileLen)
	case funcLen > MaxFunctionLen:
		corrupted("function length", uint64(funcLen), MaxFunctionLen)
	case payloadLen > MaxPayloadLen:
		corrupted("payload length", uint64(payloadLen), MaxPayloadLen)
	}
	total := HeaderSize + fileLen + funcLen + payloadLen + TrailerSize
	if used < total {
		return rec, false
	}
	full := d.grow(total)
	src.Peek(full)
	if mark := le.Uint32(full[total-TrailerSize:]); mark != EndMark {
		corrupted("end mark", uint64(mark), uint64(EndMark))
	}
	src.Drop(total)

	rec.Level = full[5]
	rec.Flags = le.Uint16(full[6:])
	rec.Line = le.Uint32(full[8:])
	rec.Time = int64(le.Uint64(full[12:]))
	rec.Millis = le.Uint16(full[20:])
	off := HeaderSize
	rec.File = string(full[off : off+fileLen])
	off += fileLen
	rec.Function = string(full[off : off+funcLen])
	off += funcLen
	rec.Payload = full[off : off+payloadLen : off+payloadLen]
	return rec, true
}
