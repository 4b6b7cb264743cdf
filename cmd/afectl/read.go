package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jonamat/go-afe-bms/internal/field"
	"github.com/jonamat/go-afe-bms/internal/register"
)

func runRead(args []string) error {
	fs := newFlagSet("read", "read [flags] [field...]", "Read fields from the device")
	g := addGlobalFlags(fs)
	group := fs.String("group", "", "Read one group instead of named fields")
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

	return printFields(os.Stdout, dev.Driver(), *group, fs.Args())
}

// printFields prints the named fields, one group, or every field.
func printFields(w io.Writer, drv *register.Driver, group string, names []string) error {
	var (
		rs  register.Readings
		err error
	)
	switch {
	case len(names) > 0:
		for _, name := range names {
			id, lerr := field.Lookup(name)
			if lerr != nil {
				return lerr
			}
			f, _ := field.Get(id)
			v, rerr := drv.Read(id)
			if rerr != nil {
				return rerr
			}
			rs = append(rs, register.Reading{Field: f, Value: v})
		}
	case group != "":
		g, ok := field.ParseGroup(group)
		if !ok {
			return fmt.Errorf("unknown group %q", group)
		}
		rs, err = drv.ReadGroup(g)
	default:
		rs, err = drv.ReadAll()
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range rs {
		fmt.Fprintf(tw, "%s\t%s\n", r.Field.Name, r.Value)
	}
	var batch *register.BatchError
	if errors.As(err, &batch) {
		for _, fe := range batch.Errs {
			fmt.Fprintf(tw, "%s\terror: %v\n", fe.Field, fe.Err)
		}
		err = nil
	}
	if ferr := tw.Flush(); err == nil {
		err = ferr
	}
	return err
}

// assign parses value for the named field and writes it to the local image.
// Timed fields take Go durations ("250ms", "2s"); mapped fields and flags
// take one of their labels.
func assign(drv *register.Driver, name, value string) error {
	id, err := field.Lookup(name)
	if err != nil {
		return err
	}
	f, err := field.Get(id)
	if err != nil {
		return err
	}

	switch f.Kind() {
	case field.KindTimed:
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: want a duration like 500ms: %w", name, err)
		}
		return drv.WriteDuration(id, d)
	case field.KindMapped, field.KindFlag:
		err := drv.WriteLabel(id, value)
		if errors.Is(err, register.ErrNotInMapping) {
			if v, perr := strconv.ParseFloat(value, 64); perr == nil {
				return drv.Write(id, v)
			}
		}
		return err
	}

	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%s: want a number: %w", name, err)
	}
	return drv.Write(id, v)
}
