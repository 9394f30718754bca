// internal/device/address.go
package device

import (
	"fmt"
	"strconv"
	"strings"
)

// Area is a controller memory area.
type Area uint8

const (
	AreaInputs  Area = iota + 1 // process image inputs (I / E)
	AreaOutputs                 // process image outputs (Q / A)
	AreaMarkers                 // flag memory (M)
	AreaDB                      // data block (DBn)
)

func (a Area) String() string {
	switch a {
	case AreaInputs:
		return "I"
	case AreaOutputs:
		return "Q"
	case AreaMarkers:
		return "M"
	case AreaDB:
		return "DB"
	default:
		return "?"
	}
}

// Kind is the value kind stored at an address.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindInt16
	KindFloat32
)

// Size returns the number of bytes a value of this kind occupies.
func (k Kind) Size() int {
	switch k {
	case KindBool:
		return 1
	case KindInt16:
		return 2
	case KindFloat32:
		return 4
	default:
		return 0
	}
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt16:
		return "int16"
	case KindFloat32:
		return "float32"
	default:
		return "unknown"
	}
}

// Address locates one value in controller memory.
// Geometry only: no semantics.
type Address struct {
	Area   Area
	DB     int // data block number, AreaDB only
	Offset int // byte offset
	Bit    int // bit index 0..7, KindBool only
	Kind   Kind
}

// Bool returns a bit address in a data block.
func Bool(db, offset, bit int) Address {
	return Address{Area: AreaDB, DB: db, Offset: offset, Bit: bit, Kind: KindBool}
}

// Int16 returns a word address in a data block.
func Int16(db, offset int) Address {
	return Address{Area: AreaDB, DB: db, Offset: offset, Kind: KindInt16}
}

// Float32 returns a real address in a data block.
func Float32(db, offset int) Address {
	return Address{Area: AreaDB, DB: db, Offset: offset, Kind: KindFloat32}
}

// Validate checks address geometry.
func (a Address) Validate() error {
	switch a.Area {
	case AreaInputs, AreaOutputs, AreaMarkers:
	case AreaDB:
		if a.DB <= 0 {
			return fmt.Errorf("device: address %s: data block number must be > 0", a)
		}
	default:
		return fmt.Errorf("device: address %s: unknown area", a)
	}
	if a.Offset < 0 {
		return fmt.Errorf("device: address %s: negative offset", a)
	}
	if a.Kind.Size() == 0 {
		return fmt.Errorf("device: address %s: unknown kind", a)
	}
	if a.Kind == KindBool && (a.Bit < 0 || a.Bit > 7) {
		return fmt.Errorf("device: address %s: bit must be 0..7", a)
	}
	return nil
}

// String renders the address in S7 notation (DB2.DBD0, I0.3, IW64).
func (a Address) String() string {
	var suffix string
	switch a.Kind {
	case KindBool:
		suffix = "X"
	case KindInt16:
		suffix = "W"
	case KindFloat32:
		suffix = "D"
	}

	if a.Area == AreaDB {
		if a.Kind == KindBool {
			return fmt.Sprintf("DB%d.DBX%d.%d", a.DB, a.Offset, a.Bit)
		}
		return fmt.Sprintf("DB%d.DB%s%d", a.DB, suffix, a.Offset)
	}

	if a.Kind == KindBool {
		return fmt.Sprintf("%s%d.%d", a.Area, a.Offset, a.Bit)
	}
	return fmt.Sprintf("%s%s%d", a.Area, suffix, a.Offset)
}

// ParseAddress parses S7 notation.
//
//	I0.0 E0.0 Q0.1 A0.1 M10.3        bits
//	IW64 QW2 MW10                    16-bit integers
//	ID0 QD4 MD20                     32-bit reals
//	DB1.DBD0 DB2.DBW20 DB2.DBX24.0   data block values
func ParseAddress(s string) (Address, error) {
	in := strings.ToUpper(strings.TrimSpace(s))
	if in == "" {
		return Address{}, fmt.Errorf("device: empty address")
	}

	if strings.HasPrefix(in, "DB") {
		return parseDBAddress(in, s)
	}

	var a Address
	switch in[0] {
	case 'I', 'E':
		a.Area = AreaInputs
	case 'Q', 'A':
		a.Area = AreaOutputs
	case 'M':
		a.Area = AreaMarkers
	default:
		return Address{}, fmt.Errorf("device: address %q: unknown area", s)
	}
	rest := in[1:]

	if err := parseKindAndOffset(rest, &a); err != nil {
		return Address{}, fmt.Errorf("device: address %q: %w", s, err)
	}
	return a, a.Validate()
}

func parseDBAddress(in, orig string) (Address, error) {
	dot := strings.IndexByte(in, '.')
	if dot < 0 {
		return Address{}, fmt.Errorf("device: address %q: missing '.' after data block", orig)
	}
	db, err := strconv.Atoi(in[2:dot])
	if err != nil {
		return Address{}, fmt.Errorf("device: address %q: bad data block number", orig)
	}

	rest := in[dot+1:]
	if !strings.HasPrefix(rest, "DB") {
		return Address{}, fmt.Errorf("device: address %q: expected DBX/DBW/DBD", orig)
	}

	a := Address{Area: AreaDB, DB: db}
	if err := parseKindAndOffset(rest[2:], &a); err != nil {
		return Address{}, fmt.Errorf("device: address %q: %w", orig, err)
	}
	return a, a.Validate()
}

// parseKindAndOffset handles "X24.0", "W20", "D0" and the bare "0.3" bit form.
func parseKindAndOffset(rest string, a *Address) error {
	if rest == "" {
		return fmt.Errorf("missing offset")
	}

	switch rest[0] {
	case 'X':
		a.Kind = KindBool
		rest = rest[1:]
	case 'W':
		a.Kind = KindInt16
		rest = rest[1:]
	case 'D':
		a.Kind = KindFloat32
		rest = rest[1:]
	case 'B':
		return fmt.Errorf("byte access is not supported")
	default:
		a.Kind = KindBool
	}

	if a.Kind == KindBool {
		parts := strings.Split(rest, ".")
		if len(parts) != 2 {
			return fmt.Errorf("bit address needs byte.bit")
		}
		off, err := strconv.Atoi(parts[0])
		if err != nil {
			return fmt.Errorf("bad byte offset %q", parts[0])
		}
		bit, err := strconv.Atoi(parts[1])
		if err != nil {
			return fmt.Errorf("bad bit index %q", parts[1])
		}
		a.Offset, a.Bit = off, bit
		return nil
	}

	off, err := strconv.Atoi(rest)
	if err != nil {
		return fmt.Errorf("bad byte offset %q", rest)
	}
	a.Offset = off
	return nil
}

// ParseKind parses s and checks that it holds a value of the wanted kind.
func ParseKind(s string, want Kind) (Address, error) {
	a, err := ParseAddress(s)
	if err != nil {
		return Address{}, err
	}
	if a.Kind != want {
		return Address{}, fmt.Errorf("device: address %q is %s, want %s", s, a.Kind, want)
	}
	return a, nil
}

// Overlaps reports whether a and b touch the same memory. Two bits in the
// same byte overlap only when they are the same bit.
func (a Address) Overlaps(b Address) bool {
	if a.Area != b.Area || (a.Area == AreaDB && a.DB != b.DB) {
		return false
	}
	if a.Kind == KindBool && b.Kind == KindBool {
		return a.Offset == b.Offset && a.Bit == b.Bit
	}
	aEnd := a.Offset + a.Kind.Size() - 1
	bEnd := b.Offset + b.Kind.Size() - 1
	return !(aEnd < b.Offset || a.Offset > bEnd)
}
