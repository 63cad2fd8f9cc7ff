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

package ccu

import (
	"errors"
	"fmt"
	"math"
	"math/bits"

	"github.com/sirupsen/logrus"

	"nkm/src/logger"
	"nkm/src/support"
)

// Config describes one NKM clock inside a register bank.
type Config struct {
	Name string
	Reg  uint32

	N, K, M support.Field

	// Limits caps factors below what their fields can hold. Zero entries
	// leave the field maximum in place.
	Limits support.Limits

	// Gate and Lock are bit masks in the same register. Either may be zero.
	Gate uint32
	Lock uint32

	// PostDiv is a fixed divider after the PLL output. Zero means 1.
	PostDiv uint64

	Wait LockWait
}

/*
NKM is a clock whose output is parent * N * K / M, divided by a fixed post
divider. N, K and M live in bit fields of one control register as value-1.

Rate changes are computed by support.FindBest, written with a single locked
read-modify-write that touches only the three factor fields, and followed by a
bounded wait for the lock bit with the shared lock released. Rate queries read
the register once and need no lock.
*/
type NKM struct {
	common *Common
	cfg    Config
	gate   Gate
	lim    support.Limits
	log    *logrus.Entry
}

// NewNKM checks the register layout and builds the clock. Overlapping fields,
// fields that don't fit the register and limits beyond a field are rejected
// here rather than on every call.
func NewNKM(common *Common, cfg Config) (*NKM, error) {
	if common == nil || common.Regs == nil || common.Lock == nil {
		return nil, errors.New("ccu: clock needs registers and a shared lock")
	}
	if err := support.CheckDisjoint([]support.Field{cfg.N, cfg.K, cfg.M}, cfg.Gate, cfg.Lock); err != nil {
		return nil, fmt.Errorf("clock %q: %w", cfg.Name, err)
	}
	lim := support.LimitsOf(cfg.N, cfg.K, cfg.M)
	var err error
	if lim.MaxN, err = capLimit("n", cfg.Limits.MaxN, lim.MaxN); err != nil {
		return nil, fmt.Errorf("clock %q: %w", cfg.Name, err)
	}
	if lim.MaxK, err = capLimit("k", cfg.Limits.MaxK, lim.MaxK); err != nil {
		return nil, fmt.Errorf("clock %q: %w", cfg.Name, err)
	}
	if lim.MaxM, err = capLimit("m", cfg.Limits.MaxM, lim.MaxM); err != nil {
		return nil, fmt.Errorf("clock %q: %w", cfg.Name, err)
	}
	if cfg.PostDiv == 0 {
		cfg.PostDiv = 1
	}
	cfg.Wait = cfg.Wait.withDefaults()

	return &NKM{
		common: common,
		cfg:    cfg,
		gate:   NewGate(common, cfg.Reg, cfg.Gate),
		lim:    lim,
		log:    logger.For("ccu").WithField("clock", cfg.Name),
	}, nil
}

func capLimit(name string, limit, fieldMax uint64) (uint64, error) {
	switch {
	case limit == 0:
		return fieldMax, nil
	case limit > fieldMax:
		return 0, fmt.Errorf("%w: max %s = %d but the field holds %d", support.ErrInvalidField, name, limit, fieldMax)
	}
	return limit, nil
}

func (c *NKM) Name() string {
	return c.cfg.Name
}

// Config returns the configuration with defaults filled in.
func (c *NKM) Config() Config {
	return c.cfg
}

func (c *NKM) Limits() support.Limits {
	return c.lim
}

func (c *NKM) Enable() error {
	return c.gate.Enable()
}

func (c *NKM) Disable() error {
	return c.gate.Disable()
}

func (c *NKM) IsEnabled() (bool, error) {
	return c.gate.IsEnabled()
}

// Factors decodes the factors currently in the register. Values programmed by
// someone else are reported as they are.
func (c *NKM) Factors() (support.Factors, error) {
	w, err := c.common.read(c.cfg.Reg)
	if err != nil {
		return support.Factors{}, fmt.Errorf("clock %q: %w", c.cfg.Name, err)
	}
	return c.decode(w), nil
}

func (c *NKM) decode(w uint32) support.Factors {
	return support.Factors{N: c.cfg.N.Value(w), K: c.cfg.K.Value(w), M: c.cfg.M.Value(w)}
}

func (c *NKM) encode(w uint32, f support.Factors) uint32 {
	w = c.cfg.N.Encode(w, f.N)
	w = c.cfg.K.Encode(w, f.K)
	return c.cfg.M.Encode(w, f.M)
}

func (c *NKM) output(parent uint64, f support.Factors) uint64 {
	return support.Rate(parent, f) / c.cfg.PostDiv
}

// RecalcRate reads the register and returns the rate it produces.
func (c *NKM) RecalcRate(parent uint64) (uint64, error) {
	f, err := c.Factors()
	if err != nil {
		return 0, err
	}
	return c.output(parent, f), nil
}

// best runs the search at PLL level, so the target is scaled up by the post
// divider first.
func (c *NKM) best(rate, parent uint64) (support.Factors, error) {
	hi, target := bits.Mul64(rate, c.cfg.PostDiv)
	if hi != 0 {
		target = math.MaxUint64
	}
	f, err := support.FindBest(parent, target, c.lim)
	if err != nil {
		c.log.WithFields(logrus.Fields{"rate": rate, "parent": parent}).Warn("unachievable rate")
		return support.Factors{}, fmt.Errorf("clock %q: %w", c.cfg.Name, err)
	}
	return f, nil
}

// RoundRate returns the closest rate not above rate that the clock can make
// from parent. Nothing is written. When even the slowest setting is too fast
// the result is 0 with support.ErrUnachievable.
func (c *NKM) RoundRate(rate, parent uint64) (uint64, error) {
	f, err := c.best(rate, parent)
	if err != nil {
		return 0, err
	}
	out := c.output(parent, f)
	c.log.WithFields(logrus.Fields{"rate": rate, "parent": parent, "factors": f, "result": out}).Debug("round")
	return out, nil
}

/*
SetRate programs the factors for the closest rate not above rate.

An unachievable rate leaves the register untouched. Otherwise the N, K and M
fields are rewritten under the shared lock and every other bit, the gate
included, keeps its value. The lock bit is then awaited without holding the
lock. A clock that doesn't lock in time has still been reprogrammed; the
result wraps ErrLockTimeout so callers can tell the two apart.
*/
func (c *NKM) SetRate(rate, parent uint64) error {
	f, err := c.best(rate, parent)
	if err != nil {
		return err
	}
	before, after, err := c.common.modify(c.cfg.Reg, func(w uint32) uint32 {
		return c.encode(w, f)
	})
	if err != nil {
		return fmt.Errorf("clock %q: %w", c.cfg.Name, err)
	}
	c.log.WithFields(logrus.Fields{
		"rate":    rate,
		"parent":  parent,
		"factors": f,
		"before":  fmt.Sprintf("%#08x", before),
		"after":   fmt.Sprintf("%#08x", after),
	}).Debug("set")

	if err := WaitForLock(c.common.Regs, c.cfg.Reg, c.cfg.Lock, c.cfg.Wait); err != nil {
		c.log.WithError(err).Warn("pll did not lock")
		return fmt.Errorf("clock %q: %w", c.cfg.Name, err)
	}
	return nil
}

// Status is a snapshot of one register read.
type Status struct {
	Word    uint32
	Factors support.Factors
	Enabled bool
	Locked  bool
}

func (c *NKM) Status() (Status, error) {
	w, err := c.common.read(c.cfg.Reg)
	if err != nil {
		return Status{}, fmt.Errorf("clock %q: %w", c.cfg.Name, err)
	}
	return Status{
		Word:    w,
		Factors: c.decode(w),
		Enabled: c.cfg.Gate == 0 || w&c.cfg.Gate == c.cfg.Gate,
		Locked:  c.cfg.Lock == 0 || w&c.cfg.Lock == c.cfg.Lock,
	}, nil
}
