package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/jonamat/go-afe-bms/internal/bms"
	"github.com/jonamat/go-afe-bms/internal/register"
)

func runStatus(args []string) error {
	fs := newFlagSet("status", "status [flags]", "Print pack status, cell voltages and faults")
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	dev, done, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer done()

	fw, err := dev.Ping(ctx)
	if err != nil {
		return err
	}
	fmt.Println("Firmware: ", fw)

	data, err := dev.GetAllData(ctx)
	var batch *register.BatchError
	if err != nil && !errors.As(err, &batch) {
		return err
	}
	printAllData(os.Stdout, data)
	if batch != nil {
		fmt.Fprintln(os.Stdout, "Decode errors: ", batch)
	}
	return nil
}

func printAllData(w io.Writer, data *bms.AllData) {
	if st := data.Status; st != nil {
		fmt.Fprintln(w, "Mode: ", st.Mode)
		fmt.Fprintln(w, "Number of cells: ", st.NumberOfCells)
		fmt.Fprintln(w, "Is charger present: ", st.IsChargerPresent)
		fmt.Fprintln(w, "Is load present: ", st.IsLoadPresent)
		fmt.Fprintln(w, "Charging: ", st.IsCharging)
		fmt.Fprintln(w, "Discharging: ", st.IsDischarging)
		fmt.Fprintln(w, "Cell balancing: ", st.CellBalanceActive)
		fmt.Fprintln(w, "Discharge FET: ", st.FETs.Discharge)
		fmt.Fprintln(w, "Charge FET: ", st.FETs.Charge)
		fmt.Fprintln(w, "Precharge FET: ", st.FETs.Precharge)
		fmt.Fprintln(w, "Current gain: ", st.CurrentGain)
	}

	cells := make([]int, 0, len(data.CellVoltages))
	for n := range data.CellVoltages {
		cells = append(cells, n)
	}
	sort.Ints(cells)
	for _, n := range cells {
		fmt.Fprintf(w, "Cell %d voltage:  %.3f V\n", n, data.CellVoltages[n])
	}

	fmt.Fprintf(w, "Highest voltage:  %.3f V\n", data.CellVoltageRange.HighestVoltage)
	fmt.Fprintf(w, "Lowest voltage:  %.3f V\n", data.CellVoltageRange.LowestVoltage)
	fmt.Fprintf(w, "Pack voltage:  %.2f V\n", data.Pack.Voltage)
	fmt.Fprintf(w, "Pack current:  %.3f A\n", data.Pack.Current)
	fmt.Fprintf(w, "Internal temperature:  %.1f °C\n", data.Pack.InternalTemperature)
	fmt.Fprintln(w, "XT1: ", data.Pack.XT1)
	fmt.Fprintln(w, "XT2: ", data.Pack.XT2)
	fmt.Fprintln(w, "Faults: ", data.Faults)
}
