// internal/device/address_test.go
package device

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in   string
		want Address
	}{
		{"I0.0", Address{Area: AreaInputs, Offset: 0, Bit: 0, Kind: KindBool}},
		{"E0.6", Address{Area: AreaInputs, Offset: 0, Bit: 6, Kind: KindBool}},
		{"IW64", Address{Area: AreaInputs, Offset: 64, Kind: KindInt16}},
		{"Q4.1", Address{Area: AreaOutputs, Offset: 4, Bit: 1, Kind: KindBool}},
		{"MD20", Address{Area: AreaMarkers, Offset: 20, Kind: KindFloat32}},
		{"DB1.DBD16", Address{Area: AreaDB, DB: 1, Offset: 16, Kind: KindFloat32}},
		{"db2.dbw22", Address{Area: AreaDB, DB: 2, Offset: 22, Kind: KindInt16}},
		{"DB3.DBX25.0", Address{Area: AreaDB, DB: 3, Offset: 25, Bit: 0, Kind: KindBool}},
	}

	for _, tc := range cases {
		got, err := ParseAddress(tc.in)
		assert.NilError(t, err, tc.in)
		assert.Equal(t, got, tc.want, tc.in)
	}
}

func TestParseAddress_Errors(t *testing.T) {
	for _, in := range []string{
		"",
		"Z0.0",
		"I0",
		"I0.8",
		"DB0.DBX0.0",
		"DB2",
		"DB2.X0.0",
		"DB2.DBB4",
		"IWx",
	} {
		_, err := ParseAddress(in)
		assert.Assert(t, err != nil, "expected error for %q", in)
	}
}

func TestAddressString_RoundTrip(t *testing.T) {
	for _, in := range []string{"I0.3", "IW64", "QD4", "M1.7", "DB1.DBD0", "DB2.DBW20", "DB2.DBX24.0"} {
		a, err := ParseAddress(in)
		assert.NilError(t, err)
		assert.Equal(t, a.String(), in)
	}
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, Bool(3, 0, 4).String(), "DB3.DBX0.4")
	assert.Equal(t, Int16(2, 20).String(), "DB2.DBW20")
	assert.Equal(t, Float32(1, 8).String(), "DB1.DBD8")
	assert.Equal(t, KindFloat32.Size(), 4)
}

func TestParseKind(t *testing.T) {
	a, err := ParseKind("DB2.DBW22", KindInt16)
	assert.NilError(t, err)
	assert.Equal(t, a, Int16(2, 22))

	_, err = ParseKind("DB2.DBW22", KindFloat32)
	assert.ErrorContains(t, err, "want float32")
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"DB3.DBX0.0", "DB3.DBX0.1", false},
		{"DB3.DBX0.0", "DB3.DBX0.0", true},
		{"DB3.DBX1.3", "DB3.DBD2", false},
		{"DB3.DBX2.0", "DB3.DBD2", true},
		{"DB3.DBD2", "DB3.DBW4", true},
		{"DB3.DBD2", "DB3.DBW6", false},
		{"DB1.DBD0", "DB3.DBD0", false},
		{"I0.0", "Q0.0", false},
	}
	for _, tc := range cases {
		a, err := ParseAddress(tc.a)
		assert.NilError(t, err)
		b, err := ParseAddress(tc.b)
		assert.NilError(t, err)
		assert.Equal(t, a.Overlaps(b), tc.want, "%s vs %s", tc.a, tc.b)
		assert.Equal(t, b.Overlaps(a), tc.want, "%s vs %s", tc.b, tc.a)
	}
}
