/*
 * Copyright 2025 Ted Dunning
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package console interprets ccuctl commands against a clock tree.
package console

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/shlex"

	"nkm/src/ccu"
	"nkm/src/config"
)

var (
	ErrUsage   = errors.New("usage")
	ErrUnknown = errors.New("unknown command")
)

type command struct {
	args  string
	help  string
	nargs []int
	run   func(c *Console, args []string) error
}

// commands is filled in by init since help refers back to it.
var commands map[string]command

func init() {
	commands = map[string]command{
		"clocks":  {"", "list clocks and their rates", []int{0}, (*Console).clocks},
		"status":  {"[clock]", "rate, gate, lock and factors", []int{0, 1}, (*Console).status},
		"recalc":  {"<clock>", "rate read back from the register", []int{1}, (*Console).recalc},
		"round":   {"<clock> <rate>", "closest rate not above <rate>", []int{2}, (*Console).round},
		"set":     {"<clock> <rate>", "program the closest rate not above <rate>", []int{2}, (*Console).set},
		"enable":  {"<clock>", "ungate", []int{1}, (*Console).enable},
		"disable": {"<clock>", "gate", []int{1}, (*Console).disable},
		"dump":    {"<clock>", "decode the control register", []int{1}, (*Console).dump},
		"help":    {"", "this list", []int{0}, (*Console).help},
	}
}

type Console struct {
	tree *ccu.Tree
	out  io.Writer
}

func New(tree *ccu.Tree, out io.Writer) *Console {
	return &Console{tree: tree, out: out}
}

// Exec runs one command line. Blank lines and comments do nothing.
func (c *Console) Exec(line string) error {
	words, err := shlex.Split(line)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if len(words) == 0 {
		return nil
	}
	cmd, ok := commands[words[0]]
	if !ok {
		return fmt.Errorf("%w %q, try help", ErrUnknown, words[0])
	}
	args := words[1:]
	for _, n := range cmd.nargs {
		if len(args) == n {
			return cmd.run(c, args)
		}
	}
	return fmt.Errorf("%w: %s %s", ErrUsage, words[0], cmd.args)
}

// Run executes a script, one command per line, and stops at the first
// failure.
func (c *Console) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for n := 1; scanner.Scan(); n++ {
		if err := c.Exec(scanner.Text()); err != nil {
			return fmt.Errorf("line %d: %w", n, err)
		}
	}
	return scanner.Err()
}

func (c *Console) clocks(args []string) error {
	for _, name := range c.tree.Names() {
		r, err := c.tree.Rate(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%-12s %s\n", name, config.FormatRate(r))
	}
	return nil
}

func (c *Console) status(args []string) error {
	names := args
	if len(names) == 0 {
		names = c.tree.Names()
	}
	for _, name := range names {
		n, err := c.tree.Lookup(name)
		if err != nil {
			return err
		}
		r, err := n.Clock.RecalcRate(n.Parent)
		if err != nil {
			return err
		}
		nkm, ok := n.Clock.(*ccu.NKM)
		if !ok {
			fmt.Fprintf(c.out, "%-12s %s\n", name, config.FormatRate(r))
			continue
		}
		st, err := nkm.Status()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "%-12s %s from %s %v %s %s\n", name, config.FormatRate(r), config.FormatRate(n.Parent),
			st.Factors, onOff(st.Enabled, "on", "off"), onOff(st.Locked, "locked", "unlocked"))
	}
	return nil
}

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}

func (c *Console) recalc(args []string) error {
	r, err := c.tree.Rate(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, config.FormatRate(r))
	return nil
}

func (c *Console) round(args []string) error {
	rate, err := config.ParseRate(args[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	r, err := c.tree.RoundRate(args[0], rate)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, config.FormatRate(r))
	return nil
}

// set reports a lock timeout but doesn't fail on it, the rate has changed
// either way.
func (c *Console) set(args []string) error {
	rate, err := config.ParseRate(args[1])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	r, err := c.tree.SetRate(args[0], rate)
	switch {
	case errors.Is(err, ccu.ErrLockTimeout):
		fmt.Fprintf(c.out, "%s (not locked)\n", config.FormatRate(r))
		return nil
	case err != nil:
		return err
	}
	fmt.Fprintln(c.out, config.FormatRate(r))
	return nil
}

func (c *Console) enable(args []string) error {
	return c.tree.Enable(args[0])
}

func (c *Console) disable(args []string) error {
	return c.tree.Disable(args[0])
}

func (c *Console) dump(args []string) error {
	n, err := c.tree.Lookup(args[0])
	if err != nil {
		return err
	}
	nkm, ok := n.Clock.(*ccu.NKM)
	if !ok {
		return fmt.Errorf("%s has no control register to dump", args[0])
	}
	st, err := nkm.Status()
	if err != nil {
		return err
	}
	cfg := nkm.Config()
	fmt.Fprintf(c.out, "reg %#05x = %#08x\n", cfg.Reg, st.Word)
	fmt.Fprintf(c.out, "  n%-8v raw %2d  n = %d\n", cfg.N, cfg.N.Decode(st.Word), st.Factors.N)
	fmt.Fprintf(c.out, "  k%-8v raw %2d  k = %d\n", cfg.K, cfg.K.Decode(st.Word), st.Factors.K)
	fmt.Fprintf(c.out, "  m%-8v raw %2d  m = %d\n", cfg.M, cfg.M.Decode(st.Word), st.Factors.M)
	if cfg.Gate != 0 {
		fmt.Fprintf(c.out, "  gate %#08x %s\n", cfg.Gate, onOff(st.Enabled, "on", "off"))
	}
	if cfg.Lock != 0 {
		fmt.Fprintf(c.out, "  lock %#08x %s\n", cfg.Lock, onOff(st.Locked, "locked", "unlocked"))
	}
	return nil
}

func (c *Console) help(args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(c.out, "  %-24s %s\n", strings.TrimSpace(name+" "+cmd.args), cmd.help)
	}
	return nil
}
