package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jonamat/go-afe-bms/internal/field"
)

func runFields(args []string) error {
	fs := newFlagSet("fields", "fields [-group name]", "List the register catalog")
	group := fs.String("group", "", "Only list one group ("+strings.Join(groupNames(), ", ")+")")
	if err := fs.Parse(args); err != nil {
		return err
	}

	fields := field.All()
	if *group != "" {
		g, ok := field.ParseGroup(*group)
		if !ok {
			return fmt.Errorf("unknown group %q", *group)
		}
		fields = field.ByGroup(g)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tGROUP\tKIND\tADDR\tBITS\tUNIT\tACCESS\tVALUES")
	for _, f := range fields {
		access := "rw"
		if f.ReadOnly {
			access = "ro"
		}
		unit := f.Unit
		values := ""
		switch {
		case f.UnitField != nil:
			unit = strings.Join(f.UnitField.Units.Labels(), "|")
		case f.Mapping != nil:
			values = strings.Join(f.Mapping.Labels(), ",")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t0x%02X\t%s\t%s\t%s\t%s\n",
			f.Name, f.Group, f.Kind(), f.Address, bitRange(f), unit, access, values)
	}
	return w.Flush()
}

func bitRange(f field.Field) string {
	lo := int(f.Shift)
	hi := lo + f.Width() - 1
	if hi == lo {
		return fmt.Sprintf("%d", lo)
	}
	return fmt.Sprintf("%d..%d", hi, lo)
}

func groupNames() []string {
	var out []string
	for _, g := range field.Groups() {
		out = append(out, g.String())
	}
	return out
}
