// Package register reads and writes engineering values in a register memory
// image through the field catalog.
package register

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/regmap"
)

var (
	ErrReadOnly     = errors.New("field is read only")
	ErrUnknownUnit  = errors.New("unknown unit")
	ErrNotTimed     = errors.New("field has no unit selector")
	ErrNotInMapping = field.ErrNotInMapping

	// ErrDurationRange reports a duration no unit of the field can hold.
	ErrDurationRange = errors.New("duration out of range")
)

// Thermistor converts thermistor input voltages to temperatures and back.
// Without one, thermal fields read and write volts.
type Thermistor interface {
	Celsius(volts float64) float64
	Volts(celsius float64) float64
}

// Driver maps field IDs to values held in an Image.
type Driver struct {
	img   *regmap.Image
	sense float64
	therm Thermistor
	log   *slog.Logger
}

type Option func(*Driver)

// WithSenseResistor sets the current-sense resistor in ohms.
func WithSenseResistor(ohms float64) Option {
	return func(d *Driver) { d.sense = ohms }
}

func WithThermistor(t Thermistor) Option {
	return func(d *Driver) { d.therm = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.log = l }
}

func New(img *regmap.Image, opts ...Option) *Driver {
	d := &Driver{img: img, sense: 0.001, log: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Image returns the backing memory image.
func (d *Driver) Image() *regmap.Image { return d.img }

// Config lists the writable EEPROM fields.
func (d *Driver) Config() []field.Field { return field.Config() }

// Status lists the read-only RAM fields.
func (d *Driver) Status() []field.Field { return field.Status() }

// Gain decodes the current-sense amplifier gain from RAM.
func (d *Driver) Gain() (float64, error) {
	v, err := d.Read(field.CurrentGain)
	if err != nil {
		return 0, err
	}
	return v.Num, nil
}

func (d *Driver) deps() field.Deps {
	return field.Deps{SenseResistor: d.sense}
}

func (d *Driver) Read(id field.ID) (Value, error) {
	f, err := field.Get(id)
	if err != nil {
		return Value{}, err
	}
	deps := d.deps()
	if f.DependsOnGain {
		g, err := d.Gain()
		if err != nil {
			return Value{}, fmt.Errorf("%s: gain: %w", f.Name, err)
		}
		deps.Gain = g
	}
	return d.decode(f, deps)
}

func (d *Driver) ReadName(name string) (Value, error) {
	id, err := field.Lookup(name)
	if err != nil {
		return Value{}, err
	}
	return d.Read(id)
}

// decode reads the whole word once so a timed field's value and unit come
// from the same snapshot.
func (d *Driver) decode(f field.Field, deps field.Deps) (Value, error) {
	word, err := d.img.Read16(f.Address, 0, 0xFFFF)
	if err != nil {
		return Value{}, fmt.Errorf("%s: %w", f.Name, err)
	}
	raw := word >> f.Shift & f.Mask

	switch f.Kind() {
	case field.KindFlag:
		return Value{Num: float64(raw), Label: strconv.FormatBool(raw != 0)}, nil

	case field.KindMapped:
		c, ok := f.Mapping.Lookup(raw)
		if !ok {
			return Value{}, fmt.Errorf("%s: %w: 0x%X", f.Name, field.ErrUnmappedCode, raw)
		}
		return Value{Num: c.Value, Unit: f.Unit, Label: c.Label}, nil

	case field.KindTimed:
		u := f.UnitField
		c, ok := u.Units.Lookup(word >> u.Shift & u.Mask)
		if !ok {
			return Value{}, fmt.Errorf("%s: unit: %w", f.Name, field.ErrUnmappedCode)
		}
		return Value{Num: float64(raw), Unit: c.Label}, nil
	}

	v, err := f.Decode(raw, deps)
	if err != nil {
		return Value{}, err
	}
	if f.Thermal && d.therm != nil {
		return Value{Num: d.therm.Celsius(v), Unit: "°C"}, nil
	}
	return Value{Num: v, Unit: f.Unit}, nil
}

func (d *Driver) writable(id field.ID) (field.Field, error) {
	f, err := field.Get(id)
	if err != nil {
		return field.Field{}, err
	}
	if f.ReadOnly {
		return field.Field{}, fmt.Errorf("%s: %w", f.Name, ErrReadOnly)
	}
	return f, nil
}

// Write encodes v into the field's bits. Timed fields keep their current
// unit; thermal fields take °C when a Thermistor is set.
func (d *Driver) Write(id field.ID, v float64) error {
	f, err := d.writable(id)
	if err != nil {
		return err
	}
	if f.Thermal && d.therm != nil {
		v = d.therm.Volts(v)
	}
	raw, err := f.Encode(v, d.deps())
	if err != nil {
		return err
	}
	return d.store(f, raw, f.Mask, f.Shift)
}

func (d *Driver) WriteName(name string, v float64) error {
	id, err := field.Lookup(name)
	if err != nil {
		return err
	}
	return d.Write(id, v)
}

// WriteBool sets or clears a flag.
func (d *Driver) WriteBool(id field.ID, on bool) error {
	if on {
		return d.Write(id, 1)
	}
	return d.Write(id, 0)
}

// WriteTimed stores a value and its unit selector in one masked write.
func (d *Driver) WriteTimed(id field.ID, v float64, unit string) error {
	f, err := d.writable(id)
	if err != nil {
		return err
	}
	u := f.UnitField
	if u == nil {
		return fmt.Errorf("%s: %w", f.Name, ErrNotTimed)
	}
	c, ok := u.Units.ByLabel(unit)
	if !ok {
		return fmt.Errorf("%s: %w %q", f.Name, ErrUnknownUnit, unit)
	}
	raw, err := f.Encode(v, d.deps())
	if err != nil {
		return err
	}
	word := (raw&f.Mask)<<f.Shift | (c.Raw&u.Mask)<<u.Shift
	return d.store(f, word, f.Footprint(), 0)
}

// WriteDuration stores dur in the coarsest unit that holds it exactly, or
// else rounded in the finest unit that can hold it.
func (d *Driver) WriteDuration(id field.ID, dur time.Duration) error {
	f, err := d.writable(id)
	if err != nil {
		return err
	}
	if f.UnitField == nil {
		return fmt.Errorf("%s: %w", f.Name, ErrNotTimed)
	}
	exact, fallback := -1, -1
	for i, c := range f.UnitField.Units {
		n := dur.Seconds() / c.Value
		r := math.Round(n)
		if r > float64(f.Mask) {
			continue
		}
		if math.Abs(n-r) < 1e-9 {
			exact = i
		}
		if fallback < 0 {
			fallback = i
		}
	}
	pick := exact
	if pick < 0 {
		pick = fallback
	}
	if pick < 0 {
		return fmt.Errorf("%s: %w: %s", f.Name, ErrDurationRange, dur)
	}
	c := f.UnitField.Units[pick]
	return d.WriteTimed(id, math.Round(dur.Seconds()/c.Value), c.Label)
}

// WriteLabel writes a mapped field by label, or a flag by "true"/"false".
func (d *Driver) WriteLabel(id field.ID, label string) error {
	f, err := d.writable(id)
	if err != nil {
		return err
	}
	switch f.Kind() {
	case field.KindMapped:
		c, ok := f.Mapping.ByLabel(label)
		if !ok {
			return fmt.Errorf("%s: %w: %q", f.Name, ErrNotInMapping, label)
		}
		return d.store(f, c.Raw, f.Mask, f.Shift)
	case field.KindFlag:
		on, err := strconv.ParseBool(label)
		if err != nil {
			return fmt.Errorf("%s: %w: %q", f.Name, ErrNotInMapping, label)
		}
		return d.WriteBool(id, on)
	}
	return fmt.Errorf("%s: %w: %s field has no labels", f.Name, ErrNotInMapping, f.Kind())
}

func (d *Driver) store(f field.Field, raw, mask uint16, shift uint8) error {
	word, err := d.img.Write16(f.Address, raw, mask, shift)
	if err != nil {
		return fmt.Errorf("%s: %w", f.Name, err)
	}
	d.log.Debug("register write", slog.String("field", f.Name), slog.Int("addr", int(f.Address)),
		slog.String("word", fmt.Sprintf("0x%04X", word)))
	return nil
}
