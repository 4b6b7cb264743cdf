package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/jonamat/go-afe-bms/internal/regmap"
)

func runDump(args []string) error {
	fs := newFlagSet("dump", "dump [flags]", "Print the device memory as hex")
	g := addGlobalFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := g.load()
	if err != nil {
		return err
	}

	dev, done, err := connect(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer done()

	dumpImage(os.Stdout, dev.Image())
	return nil
}

// dumpImage prints each region with device addresses.
func dumpImage(w io.Writer, img *regmap.Image) {
	regions := []struct {
		name string
		base int
		data []byte
	}{
		{"EEPROM", regmap.EEPROMBase, img.EEPROM()},
		{"user EEPROM", regmap.UserEEPROMBase, img.UserEEPROM()},
		{"RAM", regmap.RAMBase, img.RAM()},
	}
	for _, r := range regions {
		fmt.Fprintf(w, "%s (0x%02X-0x%02X)\n", r.name, r.base, r.base+len(r.data)-1)
		for off := 0; off < len(r.data); off += 16 {
			end := min(off+16, len(r.data))
			fmt.Fprintf(w, "  %02X: % X\n", r.base+off, r.data[off:end])
		}
	}
}
