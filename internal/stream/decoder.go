// Package stream implements the broadcast telemetry pipeline: fixed-layout
// frame decoding, device time reconciliation, outage supervision, and
// per-second decimation of a high-rate UDP stream.
package stream

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Sample is one decoded telemetry frame: the wall-clock receipt time and the
// frame's numeric fields in layout order. Values are immutable once decoded.
type Sample struct {
	RecvTime float64
	Values   []float64
}

// Layout describes a fixed-width binary frame: an ordered field list plus a
// struct-style format string declared in configuration. The decoder knows
// nothing about field semantics.
type Layout struct {
	order  binary.ByteOrder
	fields []string
	kinds  []byte
	size   int
}

// ParseLayout compiles a format string against its field names. The format
// accepts an optional byte-order prefix ('<' little-endian, the default, or
// '>' big-endian) followed by value codes with optional repeat counts:
// h/H (16-bit), i/I/l/L (32-bit), q/Q (64-bit), f, d, and x for a pad byte.
// The number of value codes must match the number of fields.
func ParseLayout(format string, fields []string) (*Layout, error) {
	l := &Layout{order: binary.LittleEndian, fields: fields}

	rest := format
	if len(rest) > 0 {
		switch rest[0] {
		case '<':
			rest = rest[1:]
		case '>':
			l.order = binary.BigEndian
			rest = rest[1:]
		}
	}

	count := 0
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c >= '0' && c <= '9' {
			count = count*10 + int(c-'0')
			continue
		}
		repeat := count
		if repeat == 0 {
			repeat = 1
		}
		count = 0
		width, ok := kindSize(c)
		if !ok {
			return nil, fmt.Errorf("stream: unsupported format code %q in %q", string(c), format)
		}
		for j := 0; j < repeat; j++ {
			l.size += width
			l.kinds = append(l.kinds, c)
		}
	}
	if count != 0 {
		return nil, fmt.Errorf("stream: trailing repeat count in format %q", format)
	}
	nvalues := 0
	for _, k := range l.kinds {
		if k != 'x' {
			nvalues++
		}
	}
	if nvalues == 0 {
		return nil, fmt.Errorf("stream: format %q declares no values", format)
	}
	if nvalues != len(fields) {
		return nil, fmt.Errorf("stream: format %q declares %d values but %d fields are named",
			format, nvalues, len(fields))
	}
	return l, nil
}

func kindSize(c byte) (int, bool) {
	switch c {
	case 'x':
		return 1, true
	case 'h', 'H':
		return 2, true
	case 'i', 'I', 'l', 'L', 'f':
		return 4, true
	case 'q', 'Q', 'd':
		return 8, true
	}
	return 0, false
}

// FrameSize returns the fixed byte length of one frame.
func (l *Layout) FrameSize() int { return l.size }

// Fields returns the ordered field names.
func (l *Layout) Fields() []string { return l.fields }

// Decode slices buf into as many whole frames as it holds, decoding each
// into a Sample stamped with recv. The unconsumed tail (less than one frame)
// is returned for the caller to prepend to its next read; no other bytes are
// dropped.
func (l *Layout) Decode(buf []byte, recv time.Time) ([]Sample, []byte) {
	ts := float64(recv.UnixNano()) / 1e9
	var samples []Sample
	for len(buf) >= l.size {
		samples = append(samples, Sample{RecvTime: ts, Values: l.decodeFrame(buf[:l.size])})
		buf = buf[l.size:]
	}
	return samples, buf
}

func (l *Layout) decodeFrame(frame []byte) []float64 {
	vals := make([]float64, 0, len(l.kinds))
	off := 0
	for _, k := range l.kinds {
		switch k {
		case 'x':
			off++
		case 'h':
			vals = append(vals, float64(int16(l.order.Uint16(frame[off:]))))
			off += 2
		case 'H':
			vals = append(vals, float64(l.order.Uint16(frame[off:])))
			off += 2
		case 'i', 'l':
			vals = append(vals, float64(int32(l.order.Uint32(frame[off:]))))
			off += 4
		case 'I', 'L':
			vals = append(vals, float64(l.order.Uint32(frame[off:])))
			off += 4
		case 'q':
			vals = append(vals, float64(int64(l.order.Uint64(frame[off:]))))
			off += 8
		case 'Q':
			vals = append(vals, float64(l.order.Uint64(frame[off:])))
			off += 8
		case 'f':
			vals = append(vals, float64(math.Float32frombits(l.order.Uint32(frame[off:]))))
			off += 4
		case 'd':
			vals = append(vals, math.Float64frombits(l.order.Uint64(frame[off:])))
			off += 8
		}
	}
	return vals
}
