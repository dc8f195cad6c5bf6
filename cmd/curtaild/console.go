package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/timzifer/curtail/config"
	"github.com/timzifer/curtail/curtailment"
	"github.com/timzifer/curtail/tenant"
)

const consoleHelp = `commands:
  set <category> <level> [time]   record a custom level (now when time is omitted)
  get <category> <time>           level in force at time
  current <category>              level in force now
  standard <category>             standard level
  combined [time]                 combined level of all categories
  history <category>              recorded custom levels
  tenant [name]                   show or switch the tenant session
  tenants                         list open tenant sessions
  save                            write a snapshot of the tenant session
  quit                            leave the console
time is RFC 3339 or unix seconds, levels are fractions or percentages`

var errQuit = errors.New("quit")

type console struct {
	registry *tenant.Registry
	store    *curtailment.Store
	out      io.Writer
}

func newConsole(registry *tenant.Registry, name string, out io.Writer) (*console, error) {
	store, err := registry.Open(name)
	if err != nil {
		return nil, err
	}
	return &console{registry: registry, store: store, out: out}, nil
}

// run executes one command per line until quit or end of input.
func (c *console) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		err := c.execute(scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (c *console) execute(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "quit", "exit":
		return errQuit
	case "help":
		fmt.Fprintln(c.out, consoleHelp)
		return nil
	case "set":
		return c.set(args)
	case "get":
		if len(args) != 2 {
			return errors.New("usage: get <category> <time>")
		}
		category, err := curtailment.ParseCategory(args[0])
		if err != nil {
			return err
		}
		ts, err := parseTimestamp(args[1])
		if err != nil {
			return err
		}
		level, err := c.store.GetLevel(category, ts)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s at %s: %s\n", category, ts.UTC().Format(time.RFC3339Nano), formatLevel(level))
		return nil
	case "current", "standard", "history":
		if len(args) != 1 {
			return fmt.Errorf("usage: %s <category>", cmd)
		}
		category, err := curtailment.ParseCategory(args[0])
		if err != nil {
			return err
		}
		return c.inspect(cmd, category)
	case "combined":
		return c.combined(args)
	case "tenant":
		if len(args) == 0 {
			fmt.Fprintln(c.out, c.store.Tenant())
			return nil
		}
		store, err := c.registry.Open(args[0])
		if err != nil {
			return err
		}
		c.store = store
		fmt.Fprintf(c.out, "tenant %s\n", store.Tenant())
		return nil
	case "tenants":
		fmt.Fprintln(c.out, strings.Join(c.registry.Tenants(), "\n"))
		return nil
	case "save":
		if err := c.registry.Save(c.store.Tenant()); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "saved %s\n", c.store.Tenant())
		return nil
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

func (c *console) set(args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errors.New("usage: set <category> <level> [time]")
	}
	category, err := curtailment.ParseCategory(args[0])
	if err != nil {
		return err
	}
	// Range checks happen in the store so rejected writes are logged and counted.
	fraction, err := config.ParseFraction(args[1])
	if err != nil {
		return err
	}
	level := fraction.InexactFloat64()
	if len(args) == 2 {
		if err := c.store.SetCustomLevelNow(category, level); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s set to %s\n", category, formatLevel(level))
		return nil
	}
	ts, err := parseTimestamp(args[2])
	if err != nil {
		return err
	}
	if err := c.store.SetCustomLevel(category, level, ts); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s set to %s from %s\n", category, formatLevel(level), ts.UTC().Format(time.RFC3339Nano))
	return nil
}

func (c *console) inspect(cmd string, category curtailment.Category) error {
	switch cmd {
	case "current":
		level, err := c.store.GetCurrentLevel(category)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s: %s\n", category, formatLevel(level))
	case "standard":
		level, err := c.store.GetStandardLevel(category)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%s standard: %s\n", category, formatLevel(level))
	case "history":
		entries, err := c.store.Entries(category)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintf(c.out, "%s: no custom levels\n", category)
			return nil
		}
		for _, entry := range entries {
			fmt.Fprintf(c.out, "%s %s\n", entry.EffectiveFrom.Format(time.RFC3339Nano), formatLevel(entry.Level))
		}
	}
	return nil
}

func (c *console) combined(args []string) error {
	var (
		level float64
		err   error
	)
	switch len(args) {
	case 0:
		level, err = c.store.GetCurrentCombinedLevel()
	case 1:
		var ts time.Time
		ts, err = parseTimestamp(args[0])
		if err == nil {
			level, err = c.store.GetCombinedLevel(ts)
		}
	default:
		return errors.New("usage: combined [time]")
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "combined: %s\n", formatLevel(level))
	return nil
}

// parseTimestamp accepts RFC 3339 timestamps and integer unix seconds.
func parseTimestamp(raw string) (time.Time, error) {
	if seconds, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: expected RFC 3339 or unix seconds", raw)
	}
	return ts, nil
}
