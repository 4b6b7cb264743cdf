package afebms

import (
	"github.com/jonamat/go-afe-bms/internal/bms"
	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
	"github.com/jonamat/go-afe-bms/internal/regmap"
	"github.com/jonamat/go-afe-bms/internal/transport"
)

var New = bms.New

type Device = bms.Device
type Option = bms.Option
type Firmware = bms.Firmware
type FETs = bms.FETs
type StatusData = bms.StatusData
type AllData = bms.AllData
type PackData = bms.PackData
type CellVoltageRangeData = bms.CellVoltageRangeData

var (
	WithLogger         = bms.WithLogger
	WithSerialConfig   = bms.WithSerialConfig
	WithRetries        = bms.WithRetries
	WithBackoff        = bms.WithBackoff
	WithSessionOptions = bms.WithSessionOptions
	WithDriverOptions  = bms.WithDriverOptions
)

type FieldID = field.ID
type Field = field.Field
type Value = register.Value
type Readings = register.Readings
type BatchError = register.BatchError
type Thermistor = register.Thermistor
type Opcode = protocol.Opcode

var (
	LookupField   = field.Lookup
	Fields        = field.All
	DefaultEEPROM = field.DefaultEEPROM
)

var (
	ErrNotConnected = bms.ErrNotConnected

	ErrOutOfRange     = regmap.ErrOutOfRange
	ErrLengthMismatch = regmap.ErrLengthMismatch

	ErrUnmappedCode = field.ErrUnmappedCode
	ErrUnknownField = field.ErrUnknownField

	ErrReadOnly     = register.ErrReadOnly
	ErrNotInMapping = register.ErrNotInMapping
	ErrUnknownUnit  = register.ErrUnknownUnit

	ErrChecksum      = protocol.ErrChecksum
	ErrIncomplete    = protocol.ErrIncomplete
	ErrUnknownOpcode = protocol.ErrUnknownOpcode
	ErrPayloadLength = protocol.ErrPayloadLength

	ErrTimeout        = transport.ErrTimeout
	ErrRequestPending = transport.ErrRequestPending
	ErrRejected       = transport.ErrRejected
	ErrClosed         = transport.ErrClosed
)
