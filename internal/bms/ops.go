package bms

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/protocol"
	"github.com/jonamat/go-afe-bms/internal/register"
)

// Firmware is the version reported by ping.
type Firmware struct {
	Major, Minor byte
}

func (f Firmware) String() string { return fmt.Sprintf("%d.%d", f.Major, f.Minor) }

// Ping checks the link and returns the firmware version.
func (bms *Device) Ping(ctx context.Context) (Firmware, error) {
	resp, err := bms.sendRequest(ctx, protocol.OpPing, nil)
	if err != nil {
		return Firmware{}, err
	}
	return Firmware{Major: resp[0], Minor: resp[1]}, nil
}

// Refresh reads the whole device memory into the local image.
func (bms *Device) Refresh(ctx context.Context) error {
	_, err := bms.sendRequest(ctx, protocol.OpReadAll, nil)
	return err
}

// RefreshRAM reads the status and measurement registers only.
func (bms *Device) RefreshRAM(ctx context.Context) error {
	_, err := bms.sendRequest(ctx, protocol.OpReadRAM, nil)
	return err
}

// ReadEEPROM reads the configuration into the local image.
func (bms *Device) ReadEEPROM(ctx context.Context) error {
	_, err := bms.sendRequest(ctx, protocol.OpReadEEPROM, nil)
	return err
}

func (bms *Device) ReadUserEEPROM(ctx context.Context) error {
	_, err := bms.sendRequest(ctx, protocol.OpReadUserEEPROM, nil)
	return err
}

// WriteEEPROM sends the local configuration to the device.
func (bms *Device) WriteEEPROM(ctx context.Context) error {
	_, err := bms.sendRequest(ctx, protocol.OpWriteEEPROM, bms.img.EEPROM())
	return err
}

// WriteUserEEPROM stores b (exactly 8 bytes) locally and on the device.
func (bms *Device) WriteUserEEPROM(ctx context.Context, b []byte) error {
	if err := bms.img.SetUserEEPROM(b); err != nil {
		return err
	}
	_, err := bms.sendRequest(ctx, protocol.OpWriteUserEEPROM, b)
	return err
}

// LoadDefaults replaces the local configuration with the factory defaults.
// Call WriteEEPROM to apply it.
func (bms *Device) LoadDefaults() error {
	return bms.img.SetEEPROM(field.DefaultEEPROM())
}

// FETs selects the power switches driven by SetFETs.
type FETs struct {
	Discharge, Charge, Precharge bool
}

func (f FETs) bits() byte {
	var b byte
	if f.Discharge {
		b |= protocol.FETDischarge
	}
	if f.Charge {
		b |= protocol.FETCharge
	}
	if f.Precharge {
		b |= protocol.FETPrecharge
	}
	return b
}

// SetFETs switches the power FETs. The device must have host FET control
// enabled for this to have an effect.
func (bms *Device) SetFETs(ctx context.Context, f FETs) error {
	_, err := bms.sendRequest(ctx, protocol.OpFETControl, []byte{f.bits()})
	return err
}

// Sleep puts the device into its low-power mode.
func (bms *Device) Sleep(ctx context.Context) error {
	_, err := bms.sendRequest(ctx, protocol.OpSleep, nil)
	return err
}

// StatusData is the operating state of the pack.
type StatusData struct {
	NumberOfCells     int
	ConnectedCells    []int
	IsChargerPresent  bool
	IsLoadPresent     bool
	IsCharging        bool
	IsDischarging     bool
	CellBalanceActive bool
	Mode              string
	FETs              FETs
	CurrentGain       float64
}

// GetStatus refreshes the device memory and decodes the operating state.
func (bms *Device) GetStatus(ctx context.Context) (*StatusData, error) {
	if err := bms.Refresh(ctx); err != nil {
		return nil, err
	}
	return bms.status()
}

func (bms *Device) status() (*StatusData, error) {
	cells, err := bms.connectedCells()
	if err != nil {
		return nil, err
	}
	gain, err := bms.drv.Gain()
	if err != nil {
		return nil, err
	}

	flags, err := bms.flags(
		field.ChargerPresent, field.LoadPresent, field.Charging, field.Discharging,
		field.CellBalanceActive, field.InIdle, field.InDoze, field.InSleep,
		field.DischargeFETOn, field.ChargeFETOn, field.PrechargeFETOn,
	)
	if err != nil {
		return nil, err
	}

	mode := "normal"
	switch {
	case flags[field.InSleep]:
		mode = "sleep"
	case flags[field.InDoze]:
		mode = "doze"
	case flags[field.InIdle]:
		mode = "idle"
	}

	return &StatusData{
		NumberOfCells:     len(cells),
		ConnectedCells:    cells,
		IsChargerPresent:  flags[field.ChargerPresent],
		IsLoadPresent:     flags[field.LoadPresent],
		IsCharging:        flags[field.Charging],
		IsDischarging:     flags[field.Discharging],
		CellBalanceActive: flags[field.CellBalanceActive],
		Mode:              mode,
		FETs: FETs{
			Discharge: flags[field.DischargeFETOn],
			Charge:    flags[field.ChargeFETOn],
			Precharge: flags[field.PrechargeFETOn],
		},
		CurrentGain: gain,
	}, nil
}

func (bms *Device) flags(ids ...field.ID) (map[field.ID]bool, error) {
	out := make(map[field.ID]bool, len(ids))
	for _, id := range ids {
		v, err := bms.drv.Read(id)
		if err != nil {
			return nil, err
		}
		out[id] = v.Bool()
	}
	return out, nil
}

var cellInputs = [8]field.ID{
	field.Cell1Voltage, field.Cell2Voltage, field.Cell3Voltage, field.Cell4Voltage,
	field.Cell5Voltage, field.Cell6Voltage, field.Cell7Voltage, field.Cell8Voltage,
}

// connectedCells lists the cell inputs (1..8) enabled by the cell
// configuration byte, one bit per input.
func (bms *Device) connectedCells() ([]int, error) {
	if _, err := bms.drv.Read(field.CellCount); err != nil {
		return nil, err
	}
	f, err := field.Get(field.CellCount)
	if err != nil {
		return nil, err
	}
	raw, err := bms.img.Read16(f.Address, f.Shift, f.Mask)
	if err != nil {
		return nil, err
	}
	var cells []int
	for i := range cellInputs {
		if raw&(1<<i) != 0 {
			cells = append(cells, i+1)
		}
	}
	return cells, nil
}

// GetCellVoltages returns the voltage of each connected cell, keyed by
// input number.
func (bms *Device) GetCellVoltages(ctx context.Context) (map[int]float64, error) {
	if err := bms.Refresh(ctx); err != nil {
		return nil, err
	}
	return bms.cellVoltages()
}

func (bms *Device) cellVoltages() (map[int]float64, error) {
	cells, err := bms.connectedCells()
	if err != nil {
		return nil, err
	}
	out := make(map[int]float64, len(cells))
	for _, n := range cells {
		v, err := bms.drv.Read(cellInputs[n-1])
		if err != nil {
			return nil, err
		}
		out[n] = v.Num
	}
	return out, nil
}

var faultFields = []field.ID{
	field.OVFault, field.OVLOFault, field.UVFault, field.UVLOFault,
	field.DischargeOTFault, field.DischargeUTFault, field.ChargeOTFault, field.ChargeUTFault,
	field.InternalOTFault, field.ChargeOCFault, field.DischargeOCFault, field.ShortCircuitFault,
	field.CellFailFault, field.OpenWireFault, field.ECCFail,
}

// GetFaults refreshes RAM and returns the names of the active faults.
func (bms *Device) GetFaults(ctx context.Context) ([]string, error) {
	if err := bms.RefreshRAM(ctx); err != nil {
		return nil, err
	}
	return bms.faults()
}

func (bms *Device) faults() ([]string, error) {
	found := []string{}
	for _, id := range faultFields {
		v, err := bms.drv.Read(id)
		if err != nil {
			return nil, err
		}
		if v.Bool() {
			found = append(found, id.String())
		}
	}
	return found, nil
}

// CellVoltageRangeData is the spread reported by the device.
type CellVoltageRangeData struct {
	HighestVoltage float64
	LowestVoltage  float64
}

// PackData holds the pack level measurements.
type PackData struct {
	Voltage             float64
	Current             float64
	InternalTemperature float64
	VRGO                float64
	XT1                 register.Value
	XT2                 register.Value
}

type AllData struct {
	Status           *StatusData
	CellVoltages     map[int]float64
	CellVoltageRange *CellVoltageRangeData
	Pack             *PackData
	Faults           []string
	Readings         register.Readings
}

// GetAllData refreshes the device memory once and decodes everything. When
// only some fields fail to decode the data is still returned together with
// a *register.BatchError.
func (bms *Device) GetAllData(ctx context.Context) (*AllData, error) {
	if err := bms.Refresh(ctx); err != nil {
		return nil, err
	}

	readings, readErr := bms.drv.ReadAll()
	var batch *register.BatchError
	if readErr != nil && !errors.As(readErr, &batch) {
		return nil, readErr
	}

	data := &AllData{Readings: readings}
	var err error
	if !failed(batch, field.CellCount, field.CurrentGain) {
		if data.Status, err = bms.status(); err != nil {
			return nil, err
		}
		if data.CellVoltages, err = bms.cellVoltages(); err != nil {
			return nil, err
		}
	}
	if data.Faults, err = bms.faults(); err != nil {
		return nil, err
	}

	get := func(id field.ID) register.Value {
		v, _ := readings.Get(id)
		return v
	}
	data.CellVoltageRange = &CellVoltageRangeData{
		HighestVoltage: get(field.CellMaxVoltage).Num,
		LowestVoltage:  get(field.CellMinVoltage).Num,
	}
	data.Pack = &PackData{
		Voltage:             get(field.PackVoltage).Num,
		Current:             get(field.PackCurrent).Num,
		InternalTemperature: get(field.InternalTemperature).Num,
		VRGO:                get(field.VRGOVoltage).Num,
		XT1:                 get(field.XT1Voltage),
		XT2:                 get(field.XT2Voltage),
	}

	if batch != nil {
		return data, batch
	}
	return data, nil
}

func failed(batch *register.BatchError, ids ...field.ID) bool {
	if batch == nil {
		return false
	}
	for _, id := range ids {
		if batch.Failed(id) {
			return true
		}
	}
	return false
}
