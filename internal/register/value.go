package register

import (
	"math"
	"strconv"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Value is a decoded register. Mapped fields and flags carry a Label; timed
// fields carry their unit selector in Unit.
type Value struct {
	Num   float64
	Unit  string
	Label string
}

var unitSeconds = map[string]float64{
	"µs":  1e-6,
	"ms":  1e-3,
	"s":   1,
	"min": 60,
}

var unitDecimals = map[string]int{
	"V":  3,
	"A":  3,
	"°C": 1,
}

func (v Value) Bool() bool { return v.Num != 0 }

func (v Value) String() string {
	if v.Label != "" {
		return v.Label
	}
	prec := -1
	if p, ok := unitDecimals[v.Unit]; ok {
		prec = p
	}
	s := strconv.FormatFloat(v.Num, 'f', prec, 64)
	if v.Unit == "" {
		return s
	}
	return s + " " + v.Unit
}

// Duration returns the value as a duration when its unit is a time unit, and
// zero otherwise.
func (v Value) Duration() time.Duration {
	sec, ok := unitSeconds[v.Unit]
	if !ok {
		return 0
	}
	return time.Duration(math.Round(v.Num * sec * float64(time.Second)))
}

func (v Value) ElectricPotential() physic.ElectricPotential {
	switch v.Unit {
	case "V":
		return physic.ElectricPotential(math.Round(v.Num * float64(physic.Volt)))
	case "mV":
		return physic.ElectricPotential(math.Round(v.Num * float64(physic.MilliVolt)))
	}
	return 0
}

func (v Value) ElectricCurrent() physic.ElectricCurrent {
	if v.Unit != "A" {
		return 0
	}
	return physic.ElectricCurrent(math.Round(v.Num * float64(physic.Ampere)))
}

// Temperature converts a °C value; other units return absolute zero.
func (v Value) Temperature() physic.Temperature {
	if v.Unit != "°C" {
		return 0
	}
	return physic.ZeroCelsius + physic.Temperature(math.Round(v.Num*float64(physic.Celsius)))
}
