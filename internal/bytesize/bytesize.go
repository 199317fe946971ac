// Package bytesize parses and prints the human-readable sizes used in the
// configuration: packet lengths and object store limits.
package bytesize

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// ByteSize is a size in bytes. It decodes from plain numbers, decimal
// units (K, KB, M, MB, G, GB, T, TB) and binary units (Ki, KiB, Mi, MiB,
// Gi, GiB, Ti, TiB).
type ByteSize uint64

const (
	B  ByteSize = 1
	KB ByteSize = 1000
	MB ByteSize = 1000 * KB
	GB ByteSize = 1000 * MB
	TB ByteSize = 1000 * GB

	KiB ByteSize = 1024
	MiB ByteSize = 1024 * KiB
	GiB ByteSize = 1024 * MiB
	TiB ByteSize = 1024 * GiB
)

var pattern = regexp.MustCompile(`(?i)^\s*(\d+(?:\.\d+)?)\s*([a-z]*)\s*$`)

var units = map[string]ByteSize{
	"": B, "b": B,
	"k": KB, "kb": KB,
	"m": MB, "mb": MB,
	"g": GB, "gb": GB,
	"t": TB, "tb": TB,
	"ki": KiB, "kib": KiB,
	"mi": MiB, "mib": MiB,
	"gi": GiB, "gib": GiB,
	"ti": TiB, "tib": TiB,
}

// binary lists the units MarshalText prefers, largest first.
var binary = []struct {
	suffix string
	size   ByteSize
}{
	{"TiB", TiB},
	{"GiB", GiB},
	{"MiB", MiB},
	{"KiB", KiB},
}

// ParseByteSize parses strings like "8KiB", "1.5MB" or "65535".
func ParseByteSize(s string) (ByteSize, error) {
	if strings.TrimSpace(s) == "" {
		return 0, fmt.Errorf("empty byte size string")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid byte size format: %q", s)
	}
	mult, ok := units[strings.ToLower(m[2])]
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit: %q", m[2])
	}

	if strings.Contains(m[1], ".") {
		f, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
		}
		v := f * float64(mult)
		if v >= math.MaxUint64 {
			return 0, fmt.Errorf("byte size overflows: %q", s)
		}
		return ByteSize(v), nil
	}

	n, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number in byte size: %q", m[1])
	}
	if mult > 1 && n > math.MaxUint64/uint64(mult) {
		return 0, fmt.Errorf("byte size overflows: %q", s)
	}
	return ByteSize(n) * mult, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *ByteSize) UnmarshalText(text []byte) error {
	size, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = size
	return nil
}

// MarshalText writes the largest binary unit that divides b exactly, so
// the text parses back to the same value.
func (b ByteSize) MarshalText() ([]byte, error) {
	for _, u := range binary {
		if b >= u.size && b%u.size == 0 {
			return []byte(strconv.FormatUint(uint64(b/u.size), 10) + u.suffix), nil
		}
	}
	return []byte(strconv.FormatUint(uint64(b), 10)), nil
}

// String rounds to two decimals in the largest fitting binary unit.
func (b ByteSize) String() string {
	for _, u := range binary {
		if b >= u.size {
			return fmt.Sprintf("%.2f%s", float64(b)/float64(u.size), u.suffix)
		}
	}
	return fmt.Sprintf("%dB", b)
}

func (b ByteSize) Uint64() uint64 { return uint64(b) }

// Int64 saturates at math.MaxInt64.
func (b ByteSize) Int64() int64 {
	if b > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(b)
}

// Uint16 returns b as a packet length, or an error when it does not fit
// the 16-bit length field.
func (b ByteSize) Uint16() (uint16, error) {
	if b > math.MaxUint16 {
		return 0, fmt.Errorf("%d bytes exceeds the 65535 byte packet limit", uint64(b))
	}
	return uint16(b), nil
}
