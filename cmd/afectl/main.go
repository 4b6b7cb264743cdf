// Command afectl configures and monitors a battery AFE over a serial link.
//
// Usage:
//
//	afectl <command> [flags] [args]
//
// Commands:
//
//	fields    List the register catalog
//	dump      Print the device memory as hex
//	read      Read fields from the device
//	write     Write configuration fields and commit them
//	status    Print pack status, cell voltages and faults
//	monitor   Poll the device and serve Prometheus metrics
//	console   Interactive register console
//	simulate  Run a device emulator on a pseudo terminal
//	capture   Print a protocol capture file
//
// Examples:
//
//	# Read the voltage limits
//	afectl read -port /dev/ttyUSB0 -group voltage_limits
//
//	# Lower the overvoltage threshold and the delay
//	afectl write -port /dev/ttyUSB0 overvoltage_threshold=4.2 overvoltage_delay=1s
//
//	# Try the tool without hardware
//	afectl simulate &
//	afectl status -port /dev/pts/5
package main

import (
	"flag"
	"fmt"
	"os"
)

const usage = `afectl - battery AFE configuration tool

Usage:
  afectl <command> [flags] [args]

Commands:
  fields    List the register catalog
  dump      Print the device memory as hex
  read      Read fields from the device
  write     Write configuration fields and commit them
  status    Print pack status, cell voltages and faults
  monitor   Poll the device and serve Prometheus metrics
  console   Interactive register console
  simulate  Run a device emulator on a pseudo terminal
  capture   Print a protocol capture file

Use "afectl <command> -help" for more information about a command.
`

var commands = map[string]func(args []string) error{
	"fields":   runFields,
	"dump":     runDump,
	"read":     runRead,
	"write":    runWrite,
	"status":   runStatus,
	"monitor":  runMonitor,
	"console":  runConsole,
	"simulate": runSimulate,
	"capture":  runCapture,
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	}

	run, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err := run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(name, synopsis, help string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "afectl %s - %s\n\nUsage:\n  afectl %s\n\nFlags:\n", name, help, synopsis)
		fs.PrintDefaults()
	}
	return fs
}
