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

// Command ccuctl inspects and programs NKM clocks.
//
//	ccuctl [-config ccu.yaml] [-backend sim|mmio|i2c|uboot] [-device dev] [-q|-v] [-script file | -shell | command...]
//
// With no command it prints the status of every clock.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-tty"

	"nkm/src/ccu"
	"nkm/src/config"
	"nkm/src/console"
	"nkm/src/logger"
	"nkm/src/regs"
)

type bank interface {
	ccu.Registers
	io.Closer
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("ccuctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "YAML description of the register bank (default: A31 PLLs on a simulator)")
	backend := fs.String("backend", "", "override the backend type: sim, mmio, i2c or uboot")
	device := fs.String("device", "", "override the backend device")
	quiet := fs.Bool("q", false, "only log warnings and errors")
	verbose := fs.Bool("v", false, "log every factor choice")
	script := fs.String("script", "", "run commands from a file")
	shell := fs.Bool("shell", false, "interactive console on the terminal")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	logger.Setup(stderr, *quiet, *verbose)
	log := logger.For("ccuctl")

	cfg, err := loadConfig(*configPath, *backend, *device)
	if err != nil {
		log.WithError(err).Error("config")
		return 1
	}
	b, err := openBank(cfg)
	if err != nil {
		log.WithError(err).Error("backend")
		return 1
	}
	defer b.Close()

	tree, err := cfg.Tree(b)
	if err != nil {
		log.WithError(err).Error("clocks")
		return 1
	}
	con := console.New(tree, stdout)

	switch {
	case *script != "":
		err = runScript(con, *script)
	case *shell:
		err = runShell(con)
	case fs.NArg() > 0:
		err = con.Exec(strings.Join(fs.Args(), " "))
	default:
		err = con.Exec("status")
	}
	if err != nil {
		fmt.Fprintf(stderr, "ccuctl: %v\n", err)
		return 1
	}
	return 0
}

func loadConfig(path, backend, device string) (*config.Config, error) {
	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if backend != "" {
		cfg.Backend.Type = backend
	}
	if device != "" {
		cfg.Backend.Device = device
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openBank(cfg *config.Config) (bank, error) {
	b := cfg.Backend
	switch b.Type {
	case "sim":
		return cfg.Simulator(), nil
	case "mmio":
		return regs.OpenMMIO(deviceOr(b.Device, "/dev/mem"), b.Base, b.Size)
	case "i2c":
		return regs.OpenI2C(b.Device, b.Addr)
	case "uboot":
		return regs.OpenUBoot(deviceOr(b.Device, "/dev/ttyUSB0"), b.Baud, b.Base, b.Prompt)
	}
	return nil, fmt.Errorf("unknown backend %q", b.Type)
}

func deviceOr(dev, def string) string {
	if dev == "" {
		return def
	}
	return dev
}

func runScript(con *console.Console, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return con.Run(f)
}

// runShell reads commands from the terminal until quit. Failed commands are
// reported and the shell carries on.
func runShell(con *console.Console) error {
	t, err := tty.Open()
	if err != nil {
		return fmt.Errorf("shell: %w", err)
	}
	defer t.Close()
	out := t.Output()
	for {
		fmt.Fprint(out, "ccu> ")
		line, err := t.ReadString()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("shell: %w", err)
		}
		switch strings.TrimSpace(line) {
		case "quit", "exit":
			return nil
		}
		if err := con.Exec(line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
