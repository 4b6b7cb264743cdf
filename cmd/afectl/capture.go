package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonamat/go-afe-bms/internal/capture"
	"github.com/jonamat/go-afe-bms/internal/protocol"
)

func runCapture(args []string) error {
	fs := newFlagSet("capture", "capture [flags] <file>", "Print a protocol capture file")
	session := fs.String("session", "", "Filter by session ID")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	kind := fs.String("kind", "", "Filter by kind (frame, error, state)")
	opcode := fs.String("op", "", "Filter by opcode name or number, e.g. read_ram or 0x13")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		fs.Usage()
		return errors.New("capture file path required")
	}

	filter := capture.Filter{SessionID: *session}
	if *direction != "" {
		d, err := parseDirection(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *kind != "" {
		k, err := parseKind(*kind)
		if err != nil {
			return err
		}
		filter.Kind = &k
	}
	if *opcode != "" {
		op, err := parseOpcode(*opcode)
		if err != nil {
			return err
		}
		filter.Opcode = &op
	}

	r, err := capture.NewReader(fs.Arg(0), filter)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		printEvent(os.Stdout, e)
	}
}

func printEvent(w io.Writer, e capture.Event) {
	ts := e.Timestamp.Format(time.TimeOnly + ".000")
	sid := e.SessionID
	if len(sid) > 8 {
		sid = sid[:8]
	}
	switch e.Kind {
	case capture.KindFrame:
		fmt.Fprintf(w, "%s %s %-3s %-18s %s\n", ts, sid, e.Direction, protocol.Opcode(e.Opcode), hex.EncodeToString(e.Data))
	case capture.KindError:
		fmt.Fprintf(w, "%s %s %-3s error: %s\n", ts, sid, e.Direction, e.Error)
	case capture.KindState:
		if e.Error != "" {
			fmt.Fprintf(w, "%s %s     %s (%s)\n", ts, sid, e.State, e.Error)
			return
		}
		fmt.Fprintf(w, "%s %s     %s\n", ts, sid, e.State)
	}
}

func parseDirection(s string) (capture.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return capture.DirectionIn, nil
	case "out":
		return capture.DirectionOut, nil
	}
	return 0, fmt.Errorf("unknown direction %q (want in or out)", s)
}

func parseKind(s string) (capture.Kind, error) {
	for _, k := range []capture.Kind{capture.KindFrame, capture.KindError, capture.KindState} {
		if strings.EqualFold(s, k.String()) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown kind %q (want frame, error or state)", s)
}

func parseOpcode(s string) (uint8, error) {
	for _, c := range protocol.Commands() {
		if c.Name == s {
			return uint8(c.Opcode), nil
		}
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown opcode %q", s)
	}
	return uint8(n), nil
}
