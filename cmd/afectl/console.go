package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"

	"github.com/jonamat/go-afe-bms/internal/bms"
	"github.com/jonamat/go-afe-bms/internal/field"
)

func runConsole(args []string) error {
	fs := newFlagSet("console", "console [flags]", "Interactive register console")
	g := addGlobalFlags(fs)
	history := fs.String("history", "", "History file")
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

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "afe> ",
		HistoryFile:     *history,
		AutoComplete:    consoleCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	c := &console{dev: dev, out: rl.Stdout()}
	c.printHelp()
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		parts := strings.Fields(input)
		if parts[0] == "exit" || parts[0] == "quit" {
			return nil
		}
		if err := c.exec(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

func consoleCompleter() *readline.PrefixCompleter {
	names := func(string) []string {
		var out []string
		for _, f := range field.All() {
			out = append(out, f.Name)
		}
		return out
	}
	writable := func(string) []string {
		var out []string
		for _, f := range field.Config() {
			out = append(out, f.Name+"=")
		}
		return out
	}
	return readline.NewPrefixCompleter(
		readline.PcItem("read", readline.PcItemDynamic(names)),
		readline.PcItem("write", readline.PcItemDynamic(writable)),
		readline.PcItem("group", readline.PcItemDynamic(func(string) []string { return groupNames() })),
		readline.PcItem("refresh"),
		readline.PcItem("commit"),
		readline.PcItem("defaults"),
		readline.PcItem("status"),
		readline.PcItem("dump"),
		readline.PcItem("ping"),
		readline.PcItem("fets"),
		readline.PcItem("sleep"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	)
}

type console struct {
	dev *bms.Device
	out io.Writer
}

func (c *console) exec(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "?":
		c.printHelp()
	case "read", "r":
		return printFields(c.out, c.dev.Driver(), "", args)
	case "group", "g":
		if len(args) != 1 {
			return fmt.Errorf("usage: group <name>")
		}
		return printFields(c.out, c.dev.Driver(), args[0], nil)
	case "write", "w":
		if len(args) == 0 {
			return fmt.Errorf("usage: write name=value...")
		}
		for _, a := range args {
			name, value, ok := strings.Cut(a, "=")
			if !ok {
				return fmt.Errorf("bad assignment %q", a)
			}
			if err := assign(c.dev.Driver(), name, value); err != nil {
				return err
			}
		}
		fmt.Fprintln(c.out, "staged, run commit to write the EEPROM")
	case "refresh":
		return c.dev.Refresh(ctx)
	case "commit":
		return commit(ctx, c.out, c.dev)
	case "defaults":
		if err := c.dev.LoadDefaults(); err != nil {
			return err
		}
		fmt.Fprintln(c.out, "defaults staged, run commit to write the EEPROM")
	case "status", "s":
		data, err := c.dev.GetAllData(ctx)
		if data == nil {
			return err
		}
		printAllData(c.out, data)
		return err
	case "dump":
		dumpImage(c.out, c.dev.Image())
	case "ping":
		fw, err := c.dev.Ping(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, "firmware", fw)
	case "fets":
		var f bms.FETs
		for _, a := range args {
			switch a {
			case "discharge", "d":
				f.Discharge = true
			case "charge", "c":
				f.Charge = true
			case "precharge", "p":
				f.Precharge = true
			case "off":
			default:
				return fmt.Errorf("unknown FET %q", a)
			}
		}
		return c.dev.SetFETs(ctx, f)
	case "sleep":
		return c.dev.Sleep(ctx)
	default:
		return fmt.Errorf("unknown command %q, type help", cmd)
	}
	return nil
}

func (c *console) printHelp() {
	fmt.Fprint(c.out, `Commands:
  read [field...]         Show fields from the local image (all if none)
  group <name>            Show one group
  write name=value...     Stage configuration changes
  commit                  Write the EEPROM and read it back
  defaults                Stage the factory defaults
  refresh                 Reload the image from the device
  status                  Refresh and print the pack status
  dump                    Hex dump of the local image
  ping                    Print the firmware version
  fets [d] [c] [p] | off  Switch the power FETs
  sleep                   Put the device to sleep
  exit                    Leave the console
`)
}
