package field

import "math"

// Conversion constants of the AFE's 12-bit ADC (1.8 V reference).
const (
	adcFullScale = 4095.0
	adcRef       = 1.8

	// CellVoltageLSB is the cell voltage per LSB (8/3 input divider).
	CellVoltageLSB = (adcRef * 8.0) / (adcFullScale * 3.0)
	// PackVoltageLSB is the pack voltage per LSB (32x divider).
	PackVoltageLSB = (adcRef * 32.0) / adcFullScale
	// VRGOLSB is the regulator output voltage per LSB (2x divider).
	VRGOLSB = (adcRef * 2.0) / adcFullScale
	// ThermalLSB is the thermistor input voltage per LSB.
	ThermalLSB = adcRef / adcFullScale
	// SenseLSB is the current-sense amplifier output voltage per LSB.
	SenseLSB = adcRef / adcFullScale

	internalTempSlope   = 1.8527 // mV/K
	kelvinOffset        = 273.15
	defaultSenseOhms    = 0.001
	maxEncodedMagnitude = math.MaxUint32
)

// Deps carries the values a dependent field needs at conversion time.
type Deps struct {
	Gain          float64 // current-sense amplifier gain, decoded from RAM
	SenseResistor float64 // ohms
}

// Converter is a pure raw <-> engineering conversion.
type Converter interface {
	Decode(raw uint16, d Deps) float64
	Encode(v float64, d Deps) uint16
}

// quantize rounds to the nearest LSB. Negative values become 0; anything
// wider than the field is truncated later by its mask.
func quantize(x float64) uint16 {
	if math.IsNaN(x) || x <= 0 {
		return 0
	}
	r := math.Round(x)
	if r > maxEncodedMagnitude {
		r = maxEncodedMagnitude
	}
	return uint16(uint32(r))
}

// Linear scales the raw value by a fixed multiplier.
type Linear float64

func (l Linear) Decode(raw uint16, _ Deps) float64 { return float64(raw) * float64(l) }
func (l Linear) Encode(v float64, _ Deps) uint16  { return quantize(v / float64(l)) }

var (
	CellVoltage     Converter = Linear(CellVoltageLSB)
	PackVoltageConv Converter = Linear(PackVoltageLSB)
	VRGOVoltageConv Converter = Linear(VRGOLSB)
	Thermal         Converter = Linear(ThermalLSB)
	Count           Converter = Linear(1)
)

// InternalTemperatureConv converts the on-die temperature sensor reading to °C.
var InternalTemperatureConv Converter = internalTemperature{}

type internalTemperature struct{}

func (internalTemperature) Decode(raw uint16, _ Deps) float64 {
	mV := float64(raw) * ThermalLSB * 1000
	return mV/internalTempSlope - kelvinOffset
}

func (internalTemperature) Encode(c float64, _ Deps) uint16 {
	mV := (c + kelvinOffset) * internalTempSlope
	return quantize(mV / 1000 / ThermalLSB)
}

// SenseCurrent converts the sense amplifier output to amperes using the
// decoded gain and the board's sense resistor.
var SenseCurrent Converter = senseCurrent{}

type senseCurrent struct{}

func (senseCurrent) Decode(raw uint16, d Deps) float64 {
	if d.Gain == 0 {
		return 0
	}
	r := d.SenseResistor
	if r == 0 {
		r = defaultSenseOhms
	}
	return float64(raw) * SenseLSB / d.Gain / r
}

func (senseCurrent) Encode(a float64, d Deps) uint16 {
	if d.Gain == 0 {
		return 0
	}
	r := d.SenseResistor
	if r == 0 {
		r = defaultSenseOhms
	}
	return quantize(a * r * d.Gain / SenseLSB)
}
