package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jonamat/go-afe-bms/internal/bms"
)

func runWrite(args []string) error {
	fs := newFlagSet("write", "write [flags] name=value...", "Write configuration fields and commit them")
	g := addGlobalFlags(fs)
	dryRun := fs.Bool("dry-run", false, "Print the result without writing to the device")
	defaults := fs.Bool("defaults", false, "Start from the factory defaults instead of the device configuration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 && !*defaults {
		fs.Usage()
		return fmt.Errorf("nothing to write")
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

	if *defaults {
		if err := dev.LoadDefaults(); err != nil {
			return err
		}
	}
	var names []string
	for _, arg := range fs.Args() {
		name, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("bad assignment %q, want name=value", arg)
		}
		if err := assign(dev.Driver(), name, value); err != nil {
			return err
		}
		names = append(names, name)
	}

	if len(names) > 0 {
		if err := printFields(os.Stdout, dev.Driver(), "", names); err != nil {
			return err
		}
	}
	if *dryRun {
		return nil
	}
	return commit(ctx, os.Stdout, dev)
}

// commit writes the local EEPROM and reads it back.
func commit(ctx context.Context, w io.Writer, dev *bms.Device) error {
	want := dev.Image().EEPROM()
	if err := dev.WriteEEPROM(ctx); err != nil {
		return err
	}
	if err := dev.ReadEEPROM(ctx); err != nil {
		return fmt.Errorf("read back: %w", err)
	}
	if got := dev.Image().EEPROM(); !bytes.Equal(got, want) {
		return fmt.Errorf("read back: EEPROM differs from what was written")
	}
	fmt.Fprintln(w, "EEPROM written")
	return nil
}
