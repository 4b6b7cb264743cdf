package field

import "strconv"

// Code is one entry of a discrete raw <-> value table.
type Code struct {
	Raw   uint16
	Value float64
	Label string
}

// Mapping is a sparse, closed table of hardware codes. Raw values not listed
// are invalid.
type Mapping []Code

func (m Mapping) Lookup(raw uint16) (Code, bool) {
	for _, c := range m {
		if c.Raw == raw {
			return c, true
		}
	}
	return Code{}, false
}

// ByValue returns the first code whose engineering value equals v.
func (m Mapping) ByValue(v float64) (Code, bool) {
	for _, c := range m {
		if c.Value == v {
			return c, true
		}
	}
	return Code{}, false
}

func (m Mapping) ByLabel(label string) (Code, bool) {
	for _, c := range m {
		if c.Label == label {
			return c, true
		}
	}
	return Code{}, false
}

// Labels lists the labels in table order.
func (m Mapping) Labels() []string {
	out := make([]string, len(m))
	for i, c := range m {
		out[i] = c.Label
	}
	return out
}

// Time unit selectors. Value is seconds per unit.
var (
	TimeUnits = Mapping{
		{Raw: 0, Value: 1e-6, Label: "µs"},
		{Raw: 1, Value: 1e-3, Label: "ms"},
		{Raw: 2, Value: 1, Label: "s"},
		{Raw: 3, Value: 60, Label: "min"},
	}

	// Open-wire timing has a single unit bit.
	OpenWireUnits = Mapping{
		{Raw: 0, Value: 1e-6, Label: "µs"},
		{Raw: 1, Value: 1e-3, Label: "ms"},
	}
)

// Current protection thresholds (sense voltage, mV).
var (
	DischargeOverCurrentCodes = mvCodes(4, 8, 16, 24, 32, 48, 64, 96)
	ChargeOverCurrentCodes    = mvCodes(1, 2, 4, 6, 8, 12, 16, 24)
	ShortCircuitCodes         = mvCodes(16, 24, 32, 48, 64, 96, 128, 256)
)

// CellCountCodes maps the cell configuration byte to the number of
// connected cells.
var CellCountCodes = Mapping{
	{Raw: 0b10000011, Value: 3, Label: "3"},
	{Raw: 0b11000011, Value: 4, Label: "4"},
	{Raw: 0b11000111, Value: 5, Label: "5"},
	{Raw: 0b11100111, Value: 6, Label: "6"},
	{Raw: 0b11101111, Value: 7, Label: "7"},
	{Raw: 0b11111111, Value: 8, Label: "8"},
}

// GainCodes maps the 2-bit current-sense gain selector.
var GainCodes = Mapping{
	{Raw: 0, Value: 50, Label: "x50"},
	{Raw: 1, Value: 5, Label: "x5"},
	{Raw: 2, Value: 500, Label: "x500"},
	{Raw: 3, Value: 500, Label: "x500"},
}

func mvCodes(mv ...float64) Mapping {
	m := make(Mapping, len(mv))
	for i, v := range mv {
		m[i] = Code{Raw: uint16(i), Value: v, Label: formatMV(v)}
	}
	return m
}

func formatMV(v float64) string {
	return strconv.Itoa(int(v)) + "mV"
}
