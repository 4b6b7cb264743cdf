package field

import "fmt"

// ID names one field of the catalog. The set is closed: every ID below has
// exactly one descriptor.
type ID uint8

// EEPROM configuration fields.
const (
	OverVoltageThreshold ID = iota
	ChargeDetectPulseWidth
	OverVoltageRecovery
	LoadDetectPulseWidth
	UnderVoltageThreshold
	UnderVoltageRecovery
	OverVoltageLockout
	UnderVoltageLockout
	EndOfCharge
	LowVoltageCharge

	OverVoltageDelay
	UnderVoltageDelay
	OpenWireTiming

	DischargeOverCurrentDelay
	DischargeOverCurrentThreshold
	ChargeOverCurrentDelay
	ChargeOverCurrentThreshold
	ShortCircuitDelay
	ShortCircuitThreshold

	CBLowerLimit
	CBUpperLimit
	CBMinDelta
	CBMaxDelta
	CBOnTime
	CBOffTime

	CBUnderTemp
	CBUnderTempRecovery
	CBOverTemp
	CBOverTempRecovery
	ChargeOverTemp
	ChargeOverTempRecovery
	ChargeUnderTemp
	ChargeUnderTempRecovery
	DischargeOverTemp
	DischargeOverTempRecovery
	DischargeUnderTemp
	DischargeUnderTempRecovery
	InternalOverTemp
	InternalOverTempRecovery

	SleepVoltage
	SleepDelay
	WatchdogTimer
	IdleDozeTimer
	SleepModeTimer

	CellCount

	CellBalanceDuringCharge
	CellBalanceDuringDischarge
	OpenWireScanDisable
	OpenWireSetsPSD
	XT2FETSensor
	TemperatureGain
	PrechargeFETEnable
	CellBalanceAtEOC
	UVLOPowerdown
	OVLOSetsPSD
	CellFailSetsPSD
	HostFETControl

	numConfig
)

// RAM status and measurement fields.
const (
	OVFault ID = iota + numConfig
	OVLOFault
	UVFault
	UVLOFault
	DischargeOTFault
	DischargeUTFault
	ChargeOTFault
	ChargeUTFault

	InternalOTFault
	ChargeOCFault
	DischargeOCFault
	ShortCircuitFault
	CellFailFault
	OpenWireFault
	EOCReached

	LoadPresent
	ChargerPresent
	Charging
	Discharging
	ECCUsed
	ECCFail

	CellBalanceActive
	InIdle
	InDoze
	InSleep

	CellBalanceFETs
	CurrentGain
	DischargeFETOn
	ChargeFETOn
	PrechargeFETOn

	CellMinVoltage
	CellMaxVoltage
	PackCurrent
	Cell1Voltage
	Cell2Voltage
	Cell3Voltage
	Cell4Voltage
	Cell5Voltage
	Cell6Voltage
	Cell7Voltage
	Cell8Voltage
	InternalTemperature
	XT1Voltage
	XT2Voltage
	PackVoltage
	VRGOVoltage

	numIDs
)

// NumIDs is the size of the catalog.
const NumIDs = int(numIDs)

func cellV(id ID, name string, g Group, addr uint8) Field {
	return Field{ID: id, Name: name, Group: g, Address: addr, Mask: 0x0FFF, Unit: "V", Conv: CellVoltage}
}

func thermal(id ID, name string, addr uint8) Field {
	return Field{ID: id, Name: name, Group: GroupTemperatureLimits, Address: addr, Mask: 0x0FFF, Unit: "V", Conv: Thermal, Thermal: true}
}

// timed builds a 10-bit delay with a 2-bit unit selector at bits 10..11.
func timed(id ID, name string, g Group, addr uint8) Field {
	return Field{ID: id, Name: name, Group: g, Address: addr, Mask: 0x03FF,
		UnitField: &UnitField{Shift: 10, Mask: 0x3, Units: TimeUnits}}
}

func threshold(id ID, name string, addr uint8, codes Mapping) Field {
	return Field{ID: id, Name: name, Group: GroupCurrentLimits, Address: addr, Shift: 12, Mask: 0x7, Unit: "mV", Mapping: codes}
}

func option(id ID, name string, bit uint8) Field {
	return Field{ID: id, Name: name, Group: GroupPackOptions, Address: 0x4A, Shift: bit, Mask: 0x1}
}

func status(id ID, name string, addr, bit uint8) Field {
	return Field{ID: id, Name: name, Group: GroupStatus, Address: addr, Shift: bit, Mask: 0x1, ReadOnly: true}
}

func measure(id ID, name string, addr uint8, unit string, conv Converter) Field {
	return Field{ID: id, Name: name, Group: GroupMeasurements, Address: addr, Mask: 0x0FFF, Unit: unit, Conv: conv, ReadOnly: true}
}

var catalog = [numIDs]Field{
	OverVoltageThreshold:   cellV(OverVoltageThreshold, "overvoltage_threshold", GroupVoltageLimits, 0x00),
	ChargeDetectPulseWidth: {ID: ChargeDetectPulseWidth, Name: "charge_detect_pulse_width", Group: GroupTiming, Address: 0x00, Shift: 12, Mask: 0xF, Unit: "ms", Conv: Count},
	OverVoltageRecovery:    cellV(OverVoltageRecovery, "overvoltage_recovery", GroupVoltageLimits, 0x02),
	LoadDetectPulseWidth:   {ID: LoadDetectPulseWidth, Name: "load_detect_pulse_width", Group: GroupTiming, Address: 0x02, Shift: 12, Mask: 0xF, Unit: "ms", Conv: Count},
	UnderVoltageThreshold:  cellV(UnderVoltageThreshold, "undervoltage_threshold", GroupVoltageLimits, 0x04),
	UnderVoltageRecovery:   cellV(UnderVoltageRecovery, "undervoltage_recovery", GroupVoltageLimits, 0x06),
	OverVoltageLockout:     cellV(OverVoltageLockout, "overvoltage_lockout", GroupVoltageLimits, 0x08),
	UnderVoltageLockout:    cellV(UnderVoltageLockout, "undervoltage_lockout", GroupVoltageLimits, 0x0A),
	EndOfCharge:            cellV(EndOfCharge, "end_of_charge", GroupVoltageLimits, 0x0C),
	LowVoltageCharge:       cellV(LowVoltageCharge, "low_voltage_charge", GroupVoltageLimits, 0x0E),

	OverVoltageDelay:  timed(OverVoltageDelay, "overvoltage_delay", GroupTiming, 0x10),
	UnderVoltageDelay: timed(UnderVoltageDelay, "undervoltage_delay", GroupTiming, 0x12),
	OpenWireTiming: {ID: OpenWireTiming, Name: "open_wire_timing", Group: GroupTiming, Address: 0x14, Mask: 0x01FF,
		UnitField: &UnitField{Shift: 9, Mask: 0x1, Units: OpenWireUnits}},

	DischargeOverCurrentDelay:     timed(DischargeOverCurrentDelay, "discharge_overcurrent_delay", GroupCurrentLimits, 0x16),
	DischargeOverCurrentThreshold: threshold(DischargeOverCurrentThreshold, "discharge_overcurrent_threshold", 0x16, DischargeOverCurrentCodes),
	ChargeOverCurrentDelay:        timed(ChargeOverCurrentDelay, "charge_overcurrent_delay", GroupCurrentLimits, 0x18),
	ChargeOverCurrentThreshold:    threshold(ChargeOverCurrentThreshold, "charge_overcurrent_threshold", 0x18, ChargeOverCurrentCodes),
	ShortCircuitDelay:             timed(ShortCircuitDelay, "short_circuit_delay", GroupCurrentLimits, 0x1A),
	ShortCircuitThreshold:         threshold(ShortCircuitThreshold, "short_circuit_threshold", 0x1A, ShortCircuitCodes),

	CBLowerLimit: cellV(CBLowerLimit, "cb_lower_limit", GroupCellBalance, 0x1C),
	CBUpperLimit: cellV(CBUpperLimit, "cb_upper_limit", GroupCellBalance, 0x1E),
	CBMinDelta:   cellV(CBMinDelta, "cb_min_delta", GroupCellBalance, 0x20),
	CBMaxDelta:   cellV(CBMaxDelta, "cb_max_delta", GroupCellBalance, 0x22),
	CBOnTime:     timed(CBOnTime, "cb_on_time", GroupCellBalance, 0x24),
	CBOffTime:    timed(CBOffTime, "cb_off_time", GroupCellBalance, 0x26),

	CBUnderTemp:                thermal(CBUnderTemp, "cb_under_temp", 0x28),
	CBUnderTempRecovery:        thermal(CBUnderTempRecovery, "cb_under_temp_recovery", 0x2A),
	CBOverTemp:                 thermal(CBOverTemp, "cb_over_temp", 0x2C),
	CBOverTempRecovery:         thermal(CBOverTempRecovery, "cb_over_temp_recovery", 0x2E),
	ChargeOverTemp:             thermal(ChargeOverTemp, "charge_over_temp", 0x30),
	ChargeOverTempRecovery:     thermal(ChargeOverTempRecovery, "charge_over_temp_recovery", 0x32),
	ChargeUnderTemp:            thermal(ChargeUnderTemp, "charge_under_temp", 0x34),
	ChargeUnderTempRecovery:    thermal(ChargeUnderTempRecovery, "charge_under_temp_recovery", 0x36),
	DischargeOverTemp:          thermal(DischargeOverTemp, "discharge_over_temp", 0x38),
	DischargeOverTempRecovery:  thermal(DischargeOverTempRecovery, "discharge_over_temp_recovery", 0x3A),
	DischargeUnderTemp:         thermal(DischargeUnderTemp, "discharge_under_temp", 0x3C),
	DischargeUnderTempRecovery: thermal(DischargeUnderTempRecovery, "discharge_under_temp_recovery", 0x3E),
	InternalOverTemp: {ID: InternalOverTemp, Name: "internal_over_temp", Group: GroupTemperatureLimits, Address: 0x40,
		Mask: 0x0FFF, Unit: "°C", Conv: InternalTemperatureConv},
	InternalOverTempRecovery: {ID: InternalOverTempRecovery, Name: "internal_over_temp_recovery", Group: GroupTemperatureLimits, Address: 0x42,
		Mask: 0x0FFF, Unit: "°C", Conv: InternalTemperatureConv},

	SleepVoltage: cellV(SleepVoltage, "sleep_voltage", GroupVoltageLimits, 0x44),
	SleepDelay: {ID: SleepDelay, Name: "sleep_delay", Group: GroupTiming, Address: 0x46, Mask: 0x01FF,
		UnitField: &UnitField{Shift: 9, Mask: 0x3, Units: TimeUnits}},
	WatchdogTimer:  {ID: WatchdogTimer, Name: "watchdog_timer", Group: GroupTiming, Address: 0x46, Shift: 11, Mask: 0x1F, Unit: "s", Conv: Count},
	IdleDozeTimer:  {ID: IdleDozeTimer, Name: "idle_doze_timer", Group: GroupTiming, Address: 0x48, Mask: 0xF, Unit: "min", Conv: Count},
	SleepModeTimer: {ID: SleepModeTimer, Name: "sleep_mode_timer", Group: GroupTiming, Address: 0x48, Shift: 4, Mask: 0xF, Unit: "min", Conv: Count},

	CellCount: {ID: CellCount, Name: "cell_count", Group: GroupCellCount, Address: 0x49, Mask: 0xFF, Mapping: CellCountCodes},

	// 0x4A/0x4B feature bits, addressed through the 0x4A word.
	CellBalanceDuringCharge:    option(CellBalanceDuringCharge, "cell_balance_during_charge", 0),
	CellBalanceDuringDischarge: option(CellBalanceDuringDischarge, "cell_balance_during_discharge", 1),
	OpenWireScanDisable:        option(OpenWireScanDisable, "open_wire_scan_disable", 2),
	OpenWireSetsPSD:            option(OpenWireSetsPSD, "open_wire_sets_psd", 3),
	XT2FETSensor:               option(XT2FETSensor, "xt2_fet_sensor", 4),
	TemperatureGain:            option(TemperatureGain, "temperature_gain", 5),
	PrechargeFETEnable:         option(PrechargeFETEnable, "precharge_fet_enable", 6),
	CellBalanceAtEOC:           option(CellBalanceAtEOC, "cell_balance_at_eoc", 7),
	UVLOPowerdown:              option(UVLOPowerdown, "uvlo_powerdown", 8),
	OVLOSetsPSD:                option(OVLOSetsPSD, "ovlo_sets_psd", 9),
	CellFailSetsPSD:            option(CellFailSetsPSD, "cell_fail_sets_psd", 10),
	HostFETControl:             option(HostFETControl, "host_fet_control", 11),

	OVFault:          status(OVFault, "ov_fault", 0x80, 0),
	OVLOFault:        status(OVLOFault, "ovlo_fault", 0x80, 1),
	UVFault:          status(UVFault, "uv_fault", 0x80, 2),
	UVLOFault:        status(UVLOFault, "uvlo_fault", 0x80, 3),
	DischargeOTFault: status(DischargeOTFault, "discharge_ot_fault", 0x80, 4),
	DischargeUTFault: status(DischargeUTFault, "discharge_ut_fault", 0x80, 5),
	ChargeOTFault:    status(ChargeOTFault, "charge_ot_fault", 0x80, 6),
	ChargeUTFault:    status(ChargeUTFault, "charge_ut_fault", 0x80, 7),

	InternalOTFault:   status(InternalOTFault, "internal_ot_fault", 0x81, 0),
	ChargeOCFault:     status(ChargeOCFault, "charge_oc_fault", 0x81, 1),
	DischargeOCFault:  status(DischargeOCFault, "discharge_oc_fault", 0x81, 2),
	ShortCircuitFault: status(ShortCircuitFault, "short_circuit_fault", 0x81, 3),
	CellFailFault:     status(CellFailFault, "cell_fail_fault", 0x81, 4),
	OpenWireFault:     status(OpenWireFault, "open_wire_fault", 0x81, 5),
	EOCReached:        status(EOCReached, "eoc_reached", 0x81, 7),

	LoadPresent:    status(LoadPresent, "load_present", 0x82, 0),
	ChargerPresent: status(ChargerPresent, "charger_present", 0x82, 1),
	Charging:       status(Charging, "charging", 0x82, 2),
	Discharging:    status(Discharging, "discharging", 0x82, 3),
	ECCUsed:        status(ECCUsed, "ecc_used", 0x82, 4),
	ECCFail:        status(ECCFail, "ecc_fail", 0x82, 5),

	CellBalanceActive: status(CellBalanceActive, "cell_balance_active", 0x83, 0),
	InIdle:            status(InIdle, "in_idle", 0x83, 4),
	InDoze:            status(InDoze, "in_doze", 0x83, 5),
	InSleep:           status(InSleep, "in_sleep", 0x83, 6),

	CellBalanceFETs: {ID: CellBalanceFETs, Name: "cell_balance_fets", Group: GroupStatus, Address: 0x84, Mask: 0xFF, Conv: Count, ReadOnly: true},
	CurrentGain:     {ID: CurrentGain, Name: "current_gain", Group: GroupCurrentGain, Address: 0x85, Shift: 4, Mask: 0x3, Mapping: GainCodes, ReadOnly: true},
	DischargeFETOn:  status(DischargeFETOn, "discharge_fet_on", 0x86, 0),
	ChargeFETOn:     status(ChargeFETOn, "charge_fet_on", 0x86, 1),
	PrechargeFETOn:  status(PrechargeFETOn, "precharge_fet_on", 0x86, 2),

	CellMinVoltage: measure(CellMinVoltage, "cell_min_voltage", 0x8A, "V", CellVoltage),
	CellMaxVoltage: measure(CellMaxVoltage, "cell_max_voltage", 0x8C, "V", CellVoltage),
	PackCurrent: {ID: PackCurrent, Name: "pack_current", Group: GroupMeasurements, Address: 0x8E, Mask: 0x0FFF, Unit: "A",
		Conv: SenseCurrent, DependsOnGain: true, ReadOnly: true},
	Cell1Voltage:        measure(Cell1Voltage, "cell1_voltage", 0x90, "V", CellVoltage),
	Cell2Voltage:        measure(Cell2Voltage, "cell2_voltage", 0x92, "V", CellVoltage),
	Cell3Voltage:        measure(Cell3Voltage, "cell3_voltage", 0x94, "V", CellVoltage),
	Cell4Voltage:        measure(Cell4Voltage, "cell4_voltage", 0x96, "V", CellVoltage),
	Cell5Voltage:        measure(Cell5Voltage, "cell5_voltage", 0x98, "V", CellVoltage),
	Cell6Voltage:        measure(Cell6Voltage, "cell6_voltage", 0x9A, "V", CellVoltage),
	Cell7Voltage:        measure(Cell7Voltage, "cell7_voltage", 0x9C, "V", CellVoltage),
	Cell8Voltage:        measure(Cell8Voltage, "cell8_voltage", 0x9E, "V", CellVoltage),
	InternalTemperature: measure(InternalTemperature, "internal_temperature", 0xA0, "°C", InternalTemperatureConv),
	XT1Voltage:          thermalMeasure(XT1Voltage, "xt1_voltage", 0xA2),
	XT2Voltage:          thermalMeasure(XT2Voltage, "xt2_voltage", 0xA4),
	PackVoltage:         measure(PackVoltage, "pack_voltage", 0xA6, "V", PackVoltageConv),
	VRGOVoltage:         measure(VRGOVoltage, "vrgo_voltage", 0xA8, "V", VRGOVoltageConv),
}

func thermalMeasure(id ID, name string, addr uint8) Field {
	f := measure(id, name, addr, "V", Thermal)
	f.Thermal = true
	return f
}

var byName = func() map[string]ID {
	m := make(map[string]ID, numIDs)
	for i := range catalog {
		m[catalog[i].Name] = ID(i)
	}
	return m
}()

func (id ID) String() string {
	if id >= numIDs {
		return fmt.Sprintf("field(%d)", uint8(id))
	}
	return catalog[id].Name
}

// Valid reports whether id names a catalog entry.
func (id ID) Valid() bool { return id < numIDs }

// Get returns the descriptor for id.
func Get(id ID) (Field, error) {
	if id >= numIDs {
		return Field{}, fmt.Errorf("%w: %d", ErrUnknownField, uint8(id))
	}
	return catalog[id], nil
}

// Lookup resolves a field name.
func Lookup(name string) (ID, error) {
	id, ok := byName[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return id, nil
}

// All returns every descriptor in ID order.
func All() []Field {
	out := make([]Field, numIDs)
	copy(out, catalog[:])
	return out
}

// Config returns the writable EEPROM fields.
func Config() []Field {
	out := make([]Field, numConfig)
	copy(out, catalog[:numConfig])
	return out
}

// Status returns the read-only RAM fields.
func Status() []Field {
	out := make([]Field, numIDs-numConfig)
	copy(out, catalog[numConfig:])
	return out
}

// ByGroup returns the fields of one functional group in ID order.
func ByGroup(g Group) []Field {
	var out []Field
	for _, f := range catalog {
		if f.Group == g {
			out = append(out, f)
		}
	}
	return out
}
