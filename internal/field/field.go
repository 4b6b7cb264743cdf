// Package field describes the engineering-level registers of the AFE: where
// each one lives in the memory map, how wide it is and how its raw bits map
// to volts, degrees, times, codes or flags.
package field

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/jonamat/go-afe-bms/internal/regmap"
)

var (
	// ErrUnmappedCode reports a raw value missing from a discrete mapping.
	// It means the register is corrupt or uninitialised.
	ErrUnmappedCode = errors.New("unmapped code")

	// ErrNotInMapping reports a write of a value a discrete field cannot hold.
	ErrNotInMapping = errors.New("value not in mapping")

	ErrUnknownField = errors.New("unknown field")
	ErrInvalidField = errors.New("invalid field descriptor")
)

// Group is the functional area a field belongs to.
type Group uint8

const (
	GroupVoltageLimits Group = iota
	GroupTiming
	GroupCellBalance
	GroupTemperatureLimits
	GroupCurrentLimits
	GroupPackOptions
	GroupStatus
	GroupCellCount
	GroupCurrentGain
	GroupMeasurements
	numGroups
)

var groupNames = [numGroups]string{
	GroupVoltageLimits:     "voltage_limits",
	GroupTiming:            "timing",
	GroupCellBalance:       "cell_balance",
	GroupTemperatureLimits: "temperature_limits",
	GroupCurrentLimits:     "current_limits",
	GroupPackOptions:       "pack_options",
	GroupStatus:            "status",
	GroupCellCount:         "cell_count",
	GroupCurrentGain:       "current_gain",
	GroupMeasurements:      "measurements",
}

func (g Group) String() string {
	if g >= numGroups {
		return fmt.Sprintf("group(%d)", uint8(g))
	}
	return groupNames[g]
}

// Groups lists every group in declaration order.
func Groups() []Group {
	out := make([]Group, numGroups)
	for i := range out {
		out[i] = Group(i)
	}
	return out
}

// ParseGroup resolves a group name.
func ParseGroup(name string) (Group, bool) {
	for i, n := range groupNames {
		if n == name {
			return Group(i), true
		}
	}
	return 0, false
}

// Kind classifies how a field's raw bits are interpreted.
type Kind uint8

const (
	KindNumeric Kind = iota
	KindFlag
	KindMapped
	KindTimed // value plus a unit selector in the same word
)

func (k Kind) String() string {
	switch k {
	case KindFlag:
		return "flag"
	case KindMapped:
		return "mapped"
	case KindTimed:
		return "timed"
	default:
		return "numeric"
	}
}

// UnitField is the unit selector packed next to a timed value.
type UnitField struct {
	Shift uint8
	Mask  uint16
	Units Mapping
}

// Field is the immutable descriptor of one engineering register.
type Field struct {
	ID      ID
	Name    string
	Group   Group
	Address uint8
	Shift   uint8
	Mask    uint16
	Unit    string

	// Conv converts numeric fields. Nil means the raw value is used as is.
	Conv Converter
	// Mapping replaces Conv for enumerated hardware codes.
	Mapping Mapping
	// UnitField is set for fields that carry their own unit selector.
	UnitField *UnitField

	// DependsOnGain marks fields that need the decoded current gain.
	DependsOnGain bool
	// Thermal marks thermistor input voltages.
	Thermal bool
	// ReadOnly marks RAM status and measurement fields.
	ReadOnly bool
}

func (f Field) Kind() Kind {
	switch {
	case f.Mapping != nil:
		return KindMapped
	case f.UnitField != nil:
		return KindTimed
	case f.Mask == 1 && f.Conv == nil && f.Unit == "":
		return KindFlag
	default:
		return KindNumeric
	}
}

// Width is the number of value bits.
func (f Field) Width() int { return bits.Len16(f.Mask) }

// Footprint is the set of word bits the field owns, unit selector included.
func (f Field) Footprint() uint16 {
	fp := f.Mask << f.Shift
	if f.UnitField != nil {
		fp |= f.UnitField.Mask << f.UnitField.Shift
	}
	return fp
}

// Decode converts a masked raw value. Mapped fields fail with
// ErrUnmappedCode when raw is not in the table.
func (f Field) Decode(raw uint16, d Deps) (float64, error) {
	if f.Mapping != nil {
		c, ok := f.Mapping.Lookup(raw)
		if !ok {
			return 0, fmt.Errorf("%s: %w: 0x%X", f.Name, ErrUnmappedCode, raw)
		}
		return c.Value, nil
	}
	if f.Conv == nil {
		return float64(raw), nil
	}
	return f.Conv.Decode(raw, d), nil
}

// Encode converts an engineering value to a raw value. The result is not
// masked; the memory image truncates it to the field width.
func (f Field) Encode(v float64, d Deps) (uint16, error) {
	if f.Mapping != nil {
		c, ok := f.Mapping.ByValue(v)
		if !ok {
			return 0, fmt.Errorf("%s: %w: %v", f.Name, ErrNotInMapping, v)
		}
		return c.Raw, nil
	}
	if f.Conv == nil {
		return quantize(v), nil
	}
	return f.Conv.Encode(v, d), nil
}

// Check validates the descriptor invariants: the value (and unit) bits fit
// in 16 bits without overlapping and the word stays inside one region.
func Check(f Field) error {
	if f.Mask == 0 || f.Mask&(f.Mask+1) != 0 {
		return fmt.Errorf("%w: %s: mask 0x%X is not contiguous from bit 0", ErrInvalidField, f.Name, f.Mask)
	}
	if int(f.Shift)+f.Width() > 16 {
		return fmt.Errorf("%w: %s: shift %d + width %d > 16", ErrInvalidField, f.Name, f.Shift, f.Width())
	}
	if f.Address > regmap.MaxAddress {
		return fmt.Errorf("%w: %s: address 0x%02X", ErrInvalidField, f.Name, f.Address)
	}
	r := regmap.RegionOf(f.Address)
	if r == regmap.RegionNone || r != regmap.RegionOf(f.Address+1) {
		return fmt.Errorf("%w: %s: word at 0x%02X is not inside one region", ErrInvalidField, f.Name, f.Address)
	}
	if f.Mapping != nil && f.Conv != nil {
		return fmt.Errorf("%w: %s: both mapping and converter set", ErrInvalidField, f.Name)
	}
	if f.ReadOnly != (r == regmap.RegionRAM) {
		return fmt.Errorf("%w: %s: read-only must match the RAM region", ErrInvalidField, f.Name)
	}
	if u := f.UnitField; u != nil {
		if u.Mask == 0 || u.Mask&(u.Mask+1) != 0 || int(u.Shift)+bits.Len16(u.Mask) > 16 {
			return fmt.Errorf("%w: %s: bad unit selector", ErrInvalidField, f.Name)
		}
		if (f.Mask<<f.Shift)&(u.Mask<<u.Shift) != 0 {
			return fmt.Errorf("%w: %s: unit selector overlaps value bits", ErrInvalidField, f.Name)
		}
		if len(u.Units) == 0 {
			return fmt.Errorf("%w: %s: unit selector without units", ErrInvalidField, f.Name)
		}
	}
	return nil
}
