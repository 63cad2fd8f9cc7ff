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

// Package config describes a register bank and the clocks in it.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"periph.io/x/conn/v3/physic"

	"nkm/src/ccu"
	"nkm/src/regs"
	"nkm/src/support"
)

// Config is the top level of a ccuctl YAML file.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Clocks  []ClockConfig `yaml:"clocks"`
}

// BackendConfig says how the register bank is reached. Type is one of sim,
// mmio, i2c or uboot; the other fields apply to some of them.
type BackendConfig struct {
	Type   string `yaml:"type"`
	Device string `yaml:"device"` // /dev/mem, I2C bus name or serial port
	Base   uint64 `yaml:"base"`   // physical base for mmio and uboot
	Size   uint32 `yaml:"size"`   // mmio window
	Addr   uint16 `yaml:"addr"`   // i2c bridge address
	Baud   int    `yaml:"baud"`
	Prompt string `yaml:"prompt"`

	// SettleReads is how many reads the simulated lock bit takes to come on.
	// 0 locks at once and a negative count never locks. Unset means 3.
	SettleReads *int `yaml:"settle_reads"`
}

type FieldConfig struct {
	Shift uint32 `yaml:"shift"`
	Width uint32 `yaml:"width"`
	Max   uint64 `yaml:"max"` // optional cap below 1 << width
}

func (f FieldConfig) Field() support.Field {
	return support.Field{Shift: f.Shift, Width: f.Width}
}

type ClockConfig struct {
	Name   string      `yaml:"name"`
	Reg    uint32      `yaml:"reg"`
	Parent string      `yaml:"parent"` // e.g. "24MHz"
	N      FieldConfig `yaml:"n"`
	K      FieldConfig `yaml:"k"`
	M      FieldConfig `yaml:"m"`
	Gate   *uint32     `yaml:"gate"` // bit index
	Lock   *uint32     `yaml:"lock"` // bit index

	PostDiv      uint64 `yaml:"post_div"`
	LockTimeout  string `yaml:"lock_timeout"`
	PollInterval string `yaml:"poll_interval"`

	// Reset is the power-on value of the register on the sim backend.
	Reset uint32 `yaml:"reset"`
}

func bit(i uint32) *uint32 {
	return &i
}

func count(i int) *int {
	return &i
}

// Default describes the A31 pll-cpu and pll-mipi on a simulated bank.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			Type:        "sim",
			Base:        0x01c2_0000,
			Size:        0x400,
			Baud:        115200,
			Prompt:      "=> ",
			SettleReads: count(3),
		},
		Clocks: []ClockConfig{
			{
				Name:         "pll-cpu",
				Reg:          0x000,
				Parent:       "24MHz",
				N:            FieldConfig{Shift: 8, Width: 5},
				K:            FieldConfig{Shift: 4, Width: 2},
				M:            FieldConfig{Shift: 0, Width: 2},
				Gate:         bit(31),
				Lock:         bit(28),
				PostDiv:      1,
				LockTimeout:  "70ms",
				PollInterval: "100us",
				Reset:        0x0000_1000,
			},
			{
				Name:         "pll-mipi",
				Reg:          0x040,
				Parent:       "297MHz",
				N:            FieldConfig{Shift: 8, Width: 4},
				K:            FieldConfig{Shift: 4, Width: 2},
				M:            FieldConfig{Shift: 0, Width: 4},
				Gate:         bit(31),
				Lock:         bit(28),
				PostDiv:      1,
				LockTimeout:  "70ms",
				PollInterval: "100us",
				Reset:        0x0000_0515,
			},
		},
	}
}

// Load reads a YAML file and fills in defaults. A file without clocks gets
// the default ones.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func Parse(data []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func applyDefaults(c *Config) {
	d := Default()
	b := &c.Backend
	if b.Type == "" {
		b.Type = d.Backend.Type
	}
	if b.Base == 0 && (b.Type == "mmio" || b.Type == "uboot") {
		b.Base = d.Backend.Base
	}
	if b.Size == 0 {
		b.Size = d.Backend.Size
	}
	if b.Device == "" {
		switch b.Type {
		case "mmio":
			b.Device = "/dev/mem"
		case "uboot":
			b.Device = "/dev/ttyUSB0"
		}
	}
	if b.Baud == 0 {
		b.Baud = d.Backend.Baud
	}
	if b.Prompt == "" {
		b.Prompt = d.Backend.Prompt
	}
	if b.SettleReads == nil {
		b.SettleReads = d.Backend.SettleReads
	}
	if len(c.Clocks) == 0 {
		c.Clocks = d.Clocks
	}
	for i := range c.Clocks {
		k := &c.Clocks[i]
		if k.Parent == "" {
			k.Parent = "24MHz"
		}
		if k.PostDiv == 0 {
			k.PostDiv = 1
		}
		if k.LockTimeout == "" {
			k.LockTimeout = ccu.DefaultLockTimeout.String()
		}
		if k.PollInterval == "" {
			k.PollInterval = ccu.DefaultPollInterval.String()
		}
	}
}

var ErrConfig = errors.New("bad config")

func (c *Config) Validate() error {
	switch c.Backend.Type {
	case "sim", "mmio", "i2c", "uboot":
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrConfig, c.Backend.Type)
	}
	seen := map[string]bool{}
	for i := range c.Clocks {
		k := &c.Clocks[i]
		if k.Name == "" {
			return fmt.Errorf("%w: clock %d has no name", ErrConfig, i)
		}
		if seen[k.Name] {
			return fmt.Errorf("%w: clock %q defined twice", ErrConfig, k.Name)
		}
		seen[k.Name] = true
		cfg, err := k.NKM()
		if err != nil {
			return err
		}
		if err := support.CheckDisjoint([]support.Field{cfg.N, cfg.K, cfg.M}, cfg.Gate, cfg.Lock); err != nil {
			return fmt.Errorf("%w: clock %q: %w", ErrConfig, k.Name, err)
		}
		if _, err := k.ParentRate(); err != nil {
			return err
		}
	}
	return nil
}

func (k *ClockConfig) ParentRate() (uint64, error) {
	r, err := ParseRate(k.Parent)
	if err != nil {
		return 0, fmt.Errorf("%w: clock %q parent: %v", ErrConfig, k.Name, err)
	}
	return r, nil
}

func mask(i *uint32) (uint32, error) {
	if i == nil {
		return 0, nil
	}
	if *i > 31 {
		return 0, fmt.Errorf("bit %d beyond a 32 bit register", *i)
	}
	return 1 << *i, nil
}

// NKM translates the clock into controller terms. Field layout problems are
// left for ccu.NewNKM to find.
func (k *ClockConfig) NKM() (ccu.Config, error) {
	wrap := func(what string, err error) (ccu.Config, error) {
		return ccu.Config{}, fmt.Errorf("%w: clock %q %s: %v", ErrConfig, k.Name, what, err)
	}
	gate, err := mask(k.Gate)
	if err != nil {
		return wrap("gate", err)
	}
	lock, err := mask(k.Lock)
	if err != nil {
		return wrap("lock", err)
	}
	if k.Reg%4 != 0 {
		return wrap("reg", fmt.Errorf("offset %#x is not word aligned", k.Reg))
	}
	timeout, err := time.ParseDuration(k.LockTimeout)
	if err != nil {
		return wrap("lock_timeout", err)
	}
	poll, err := time.ParseDuration(k.PollInterval)
	if err != nil {
		return wrap("poll_interval", err)
	}
	return ccu.Config{
		Name:    k.Name,
		Reg:     k.Reg,
		N:       k.N.Field(),
		K:       k.K.Field(),
		M:       k.M.Field(),
		Limits:  support.Limits{MaxN: k.N.Max, MaxK: k.K.Max, MaxM: k.M.Max},
		Gate:    gate,
		Lock:    lock,
		PostDiv: k.PostDiv,
		Wait:    ccu.LockWait{Timeout: timeout, PollInterval: poll},
	}, nil
}

// Tree builds every clock on one shared register context.
func (c *Config) Tree(regs ccu.Registers) (*ccu.Tree, error) {
	common := ccu.NewCommon(regs)
	tree := ccu.NewTree()
	for i := range c.Clocks {
		k := &c.Clocks[i]
		cfg, err := k.NKM()
		if err != nil {
			return nil, err
		}
		parent, err := k.ParentRate()
		if err != nil {
			return nil, err
		}
		clk, err := ccu.NewNKM(common, cfg)
		if err != nil {
			return nil, err
		}
		if err := tree.Add(k.Name, parent, clk); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func (c *Config) settleReads() int {
	if c.Backend.SettleReads == nil {
		return *Default().Backend.SettleReads
	}
	return *c.Backend.SettleReads
}

// Simulator returns a register file holding the reset value of every clock,
// with lock bits that settle after Backend.SettleReads reads.
func (c *Config) Simulator() *regs.Memory {
	mem := regs.NewMemory()
	for i := range c.Clocks {
		k := &c.Clocks[i]
		mem.Poke(k.Reg, k.Reset)
		if lock, err := mask(k.Lock); err == nil && lock != 0 {
			mem.Settle(k.Reg, lock, c.settleReads())
		}
	}
	return mem
}

// ParseRate reads a rate such as "600MHz", "1.2GHz" or "1008000000". Hz is
// assumed when no unit is given. Fractions of a hertz are rejected.
func ParseRate(s string) (uint64, error) {
	var f physic.Frequency
	if err := f.Set(s); err != nil {
		return 0, err
	}
	if f <= 0 {
		return 0, fmt.Errorf("rate %q must be positive", s)
	}
	if f%physic.Hertz != 0 {
		return 0, fmt.Errorf("rate %q is not a whole number of Hz", s)
	}
	return uint64(f / physic.Hertz), nil
}

// FormatRate prints hz with an SI prefix when that is exact, and as plain Hz
// otherwise.
func FormatRate(hz uint64) string {
	if hz <= uint64(math.MaxInt64/physic.Hertz) {
		s := (physic.Frequency(hz) * physic.Hertz).String()
		if back, err := ParseRate(s); err == nil && back == hz {
			return s
		}
	}
	return fmt.Sprintf("%dHz", hz)
}
