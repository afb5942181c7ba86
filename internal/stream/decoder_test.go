package stream

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestParseLayout(t *testing.T) {
	tests := []struct {
		name      string
		format    string
		fields    []string
		wantSize  int
		wantError bool
	}{
		{
			name:     "acu broadcast schema",
			format:   "<idddddd",
			fields:   []string{"Day", "Time_of_day", "Azimuth", "Elevation", "Azimuth mode", "Elevation mode", "Boresight"},
			wantSize: 4 + 6*8,
		},
		{
			name:     "repeat counts",
			format:   "<i3d",
			fields:   []string{"a", "b", "c", "d"},
			wantSize: 4 + 3*8,
		},
		{
			name:     "pad bytes consume no fields",
			format:   "<h2xd",
			fields:   []string{"a", "b"},
			wantSize: 2 + 2 + 8,
		},
		{
			name:     "big endian",
			format:   ">qf",
			fields:   []string{"a", "b"},
			wantSize: 12,
		},
		{
			name:      "unsupported code",
			format:    "<is",
			fields:    []string{"a", "b"},
			wantError: true,
		},
		{
			name:      "field count mismatch",
			format:    "<id",
			fields:    []string{"a", "b", "c"},
			wantError: true,
		},
		{
			name:      "no values",
			format:    "<4x",
			fields:    []string{},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := ParseLayout(tt.format, tt.fields)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLayout: %v", err)
			}
			if l.FrameSize() != tt.wantSize {
				t.Errorf("FrameSize() = %d, want %d", l.FrameSize(), tt.wantSize)
			}
		})
	}
}

// encodeFrame packs (day int32, rest float64...) little-endian, matching the
// "<i...d" layouts used in these tests.
func encodeFrame(day int32, vals ...float64) []byte {
	buf := binary.LittleEndian.AppendUint32(nil, uint32(day))
	for _, v := range vals {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
	}
	return buf
}

func TestDecodeWholeFramesAndPartialTail(t *testing.T) {
	l, err := ParseLayout("<idd", []string{"Day", "Time_of_day", "Azimuth"})
	if err != nil {
		t.Fatal(err)
	}

	var buf []byte
	for i := 0; i < 3; i++ {
		buf = append(buf, encodeFrame(int32(10+i), float64(i)*0.5, 120.0+float64(i))...)
	}
	partial := encodeFrame(99, 1.0, 2.0)[:7]
	buf = append(buf, partial...)

	recv := time.Unix(1700000000, 0)
	samples, rest := l.Decode(buf, recv)

	if len(samples) != 3 {
		t.Fatalf("got %d samples, want 3", len(samples))
	}
	if len(rest) != 7 {
		t.Errorf("got %d remainder bytes, want 7", len(rest))
	}
	for i, s := range samples {
		if s.RecvTime != 1700000000 {
			t.Errorf("sample %d RecvTime = %v, want 1700000000", i, s.RecvTime)
		}
		want := []float64{float64(10 + i), float64(i) * 0.5, 120.0 + float64(i)}
		for j, v := range want {
			if s.Values[j] != v {
				t.Errorf("sample %d value %d = %v, want %v", i, j, s.Values[j], v)
			}
		}
	}
}

func TestDecodeNoFullFrame(t *testing.T) {
	l, err := ParseLayout("<idd", []string{"Day", "Time_of_day", "Azimuth"})
	if err != nil {
		t.Fatal(err)
	}
	buf := []byte{1, 2, 3, 4, 5}
	samples, rest := l.Decode(buf, time.Now())
	if len(samples) != 0 {
		t.Errorf("got %d samples, want 0", len(samples))
	}
	if len(rest) != len(buf) {
		t.Errorf("got %d remainder bytes, want %d", len(rest), len(buf))
	}
}

func TestDecodeValueKinds(t *testing.T) {
	l, err := ParseLayout("<hHiIqQfd", []string{"h", "H", "i", "I", "q", "Q", "f", "d"})
	if err != nil {
		t.Fatal(err)
	}

	buf := binary.LittleEndian.AppendUint16(nil, uint16(0xFFFF)) // -1 as int16
	buf = binary.LittleEndian.AppendUint16(buf, 65535)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(0xFFFFFFFE)) // -2 as int32
	buf = binary.LittleEndian.AppendUint32(buf, 4000000000)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(0xFFFFFFFFFFFFFFFD)) // -3 as int64
	buf = binary.LittleEndian.AppendUint64(buf, 12345678901234)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(1.5))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(-2.25))

	samples, rest := l.Decode(buf, time.Now())
	if len(samples) != 1 || len(rest) != 0 {
		t.Fatalf("got %d samples and %d remainder bytes", len(samples), len(rest))
	}
	want := []float64{-1, 65535, -2, 4000000000, -3, 12345678901234, 1.5, -2.25}
	for i, v := range want {
		if samples[0].Values[i] != v {
			t.Errorf("value %d = %v, want %v", i, samples[0].Values[i], v)
		}
	}
}

func TestDecodeBigEndian(t *testing.T) {
	l, err := ParseLayout(">id", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	buf := binary.BigEndian.AppendUint32(nil, 7)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(3.5))

	samples, _ := l.Decode(buf, time.Now())
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].Values[0] != 7 || samples[0].Values[1] != 3.5 {
		t.Errorf("values = %v, want [7 3.5]", samples[0].Values)
	}
}

func TestDecodePadBytesSkipped(t *testing.T) {
	l, err := ParseLayout("<h2xh", []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	buf := binary.LittleEndian.AppendUint16(nil, 17)
	buf = append(buf, 0xEE, 0xEE)
	buf = binary.LittleEndian.AppendUint16(buf, 23)

	samples, _ := l.Decode(buf, time.Now())
	if len(samples) != 1 {
		t.Fatalf("got %d samples, want 1", len(samples))
	}
	if samples[0].Values[0] != 17 || samples[0].Values[1] != 23 {
		t.Errorf("values = %v, want [17 23]", samples[0].Values)
	}
}
