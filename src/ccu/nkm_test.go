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
	"sync"
	"testing"
	"time"

	"nkm/src/regs"
	"nkm/src/support"
)

var _ Registers = (*regs.Memory)(nil)
var _ Clock = (*NKM)(nil)

const (
	gateBit = 1 << 31
	lockBit = 1 << 28
)

var seed = int64(1)

func rand() float64 {
	seed = 25214903917*seed + 11
	return float64(seed&0xffff_ffff_ffff) / float64(1<<48)
}

// pll has N, K and M widths of 5, 2 and 4, so factors go up to 32, 4 and 16.
func pll(t *testing.T, mem *regs.Memory, cfg Config) *NKM {
	t.Helper()
	cfg.N = support.Field{Shift: 8, Width: 5}
	cfg.K = support.Field{Shift: 4, Width: 2}
	cfg.M = support.Field{Shift: 0, Width: 4}
	if cfg.Name == "" {
		cfg.Name = "pll-test"
	}
	c, err := NewNKM(NewCommon(mem), cfg)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func Test_setRate(t *testing.T) {
	mem := regs.NewMemory()
	mem.Settle(0, lockBit, 2)
	mem.Poke(0, gateBit|1<<24)
	c := pll(t, mem, Config{Gate: gateBit, Lock: lockBit})

	round, err := c.RoundRate(600e6, 24e6)
	if err != nil {
		t.Fatal(err)
	}
	if round != 600e6 {
		t.Errorf("RoundRate = %d, want 600000000", round)
	}
	if err := c.SetRate(600e6, 24e6); err != nil {
		t.Fatal(err)
	}
	got, err := c.RecalcRate(24e6)
	if err != nil {
		t.Fatal(err)
	}
	if got != round {
		t.Errorf("RecalcRate = %d, want %d", got, round)
	}
	if w := mem.Peek(0); w != gateBit|lockBit|1<<24|0x1800 {
		t.Errorf("register = %#08x", w)
	}
	st, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !st.Locked || !st.Enabled || st.Factors != (support.Factors{N: 25, K: 1, M: 1}) {
		t.Errorf("Status = %+v", st)
	}
}

func Test_roundTripRandom(t *testing.T) {
	mem := regs.NewMemory()
	c := pll(t, mem, Config{})
	for i := 0; i < 200; i++ {
		parent := uint64(rand()*50e6) + 1e6
		rate := uint64(rand()*2e9) + parent
		round, err := c.RoundRate(rate, parent)
		if err != nil {
			t.Fatalf("%d from %d: %v", rate, parent, err)
		}
		if round > rate {
			t.Errorf("%d from %d: rounded up to %d", rate, parent, round)
		}
		if err := c.SetRate(rate, parent); err != nil {
			t.Fatal(err)
		}
		if got, _ := c.RecalcRate(parent); got != round {
			t.Errorf("%d from %d: RecalcRate = %d, RoundRate = %d", rate, parent, got, round)
		}
	}
}

func Test_recalcForeignValue(t *testing.T) {
	mem := regs.NewMemory()
	// n=32 k=4 m=16 written by someone else
	mem.Poke(0, 0x1f3f)
	c := pll(t, mem, Config{})
	if got, _ := c.RecalcRate(24e6); got != 24e6*32*4/16 {
		t.Errorf("RecalcRate = %d", got)
	}
	if f, _ := c.Factors(); f != (support.Factors{N: 32, K: 4, M: 16}) {
		t.Errorf("Factors = %v", f)
	}
}

func Test_unachievable(t *testing.T) {
	mem := regs.NewMemory()
	mem.Poke(0, 0x1800)
	c := pll(t, mem, Config{})
	// 24MHz / 16 is the slowest this clock goes
	if r, err := c.RoundRate(1e6, 24e6); !errors.Is(err, support.ErrUnachievable) || r != 0 {
		t.Errorf("RoundRate = %d, %v", r, err)
	}
	if err := c.SetRate(1e6, 24e6); !errors.Is(err, support.ErrUnachievable) {
		t.Errorf("SetRate = %v", err)
	}
	if _, writes := mem.Counts(); writes != 0 {
		t.Errorf("register written %d times", writes)
	}
	if mem.Peek(0) != 0x1800 {
		t.Errorf("register changed to %#x", mem.Peek(0))
	}
}

func Test_lockTimeout(t *testing.T) {
	mem := regs.NewMemory()
	mem.Settle(0, lockBit, -1)
	c := pll(t, mem, Config{Lock: lockBit, Wait: LockWait{Timeout: 3 * time.Millisecond, PollInterval: 200 * time.Microsecond}})
	start := time.Now()
	err := c.SetRate(600e6, 24e6)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("SetRate = %v, want ErrLockTimeout", err)
	}
	if d := time.Since(start); d > time.Second {
		t.Errorf("gave up after %v", d)
	}
	// the write still happened
	if got, _ := c.RecalcRate(24e6); got != 600e6 {
		t.Errorf("RecalcRate = %d", got)
	}
}

func Test_gate(t *testing.T) {
	mem := regs.NewMemory()
	c := pll(t, mem, Config{Gate: gateBit})
	if on, _ := c.IsEnabled(); on {
		t.Errorf("fresh clock is enabled")
	}
	if err := c.Enable(); err != nil {
		t.Fatal(err)
	}
	_ = c.SetRate(288e6, 24e6)
	if on, _ := c.IsEnabled(); !on {
		t.Errorf("Enable then SetRate left the clock off")
	}
	if err := c.Disable(); err != nil {
		t.Fatal(err)
	}
	_ = c.SetRate(600e6, 24e6)
	if on, _ := c.IsEnabled(); on {
		t.Errorf("Disable then SetRate left the clock on")
	}
	if got, _ := c.RecalcRate(24e6); got != 600e6 {
		t.Errorf("rate changed while disabled: %d", got)
	}

	// no gate bit means always on
	free := pll(t, regs.NewMemory(), Config{})
	if err := free.Disable(); err != nil {
		t.Fatal(err)
	}
	if on, _ := free.IsEnabled(); !on {
		t.Errorf("ungated clock reports off")
	}
}

func Test_newNKM(t *testing.T) {
	common := NewCommon(regs.NewMemory())
	n, k, m := support.Field{Shift: 8, Width: 5}, support.Field{Shift: 4, Width: 2}, support.Field{Shift: 0, Width: 2}
	tests := []struct {
		name string
		cfg  Config
	}{
		{"overlap", Config{N: n, K: support.Field{Shift: 10, Width: 2}, M: m}},
		{"gate in a field", Config{N: n, K: k, M: m, Gate: 1 << 9}},
		{"lock in a field", Config{N: n, K: k, M: m, Lock: 1 << 1}},
		{"zero width", Config{N: n, K: support.Field{Shift: 4}, M: m}},
		{"limit beyond field", Config{N: n, K: k, M: m, Limits: support.Limits{MaxK: 5}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewNKM(common, tt.cfg); !errors.Is(err, support.ErrInvalidField) {
				t.Errorf("expected ErrInvalidField, got %v", err)
			}
		})
	}
	if _, err := NewNKM(&Common{}, Config{N: n, K: k, M: m}); err == nil {
		t.Errorf("missing registers accepted")
	}
	c, err := NewNKM(common, Config{N: n, K: k, M: m, Limits: support.Limits{MaxN: 16}})
	if err != nil {
		t.Fatal(err)
	}
	if c.Limits() != (support.Limits{MaxN: 16, MaxK: 4, MaxM: 4}) {
		t.Errorf("Limits = %+v", c.Limits())
	}
	cfg := c.Config()
	if cfg.PostDiv != 1 || cfg.Wait.Timeout != DefaultLockTimeout || cfg.Wait.PollInterval != DefaultPollInterval {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func Test_limits(t *testing.T) {
	mem := regs.NewMemory()
	c := pll(t, mem, Config{Limits: support.Limits{MaxN: 16}})
	if err := c.SetRate(600e6, 24e6); err != nil {
		t.Fatal(err)
	}
	f, _ := c.Factors()
	if f.N > 16 {
		t.Errorf("N = %d beyond the cap", f.N)
	}
	if got, _ := c.RecalcRate(24e6); got > 600e6 {
		t.Errorf("RecalcRate = %d", got)
	}
}

func Test_postDiv(t *testing.T) {
	mem := regs.NewMemory()
	c := pll(t, mem, Config{PostDiv: 4})
	r, err := c.RoundRate(150e6, 24e6)
	if err != nil {
		t.Fatal(err)
	}
	if r != 150e6 {
		t.Errorf("RoundRate = %d", r)
	}
	if err := c.SetRate(150e6, 24e6); err != nil {
		t.Fatal(err)
	}
	if f, _ := c.Factors(); f != (support.Factors{N: 25, K: 1, M: 1}) {
		t.Errorf("Factors = %v", f)
	}
	if got, _ := c.RecalcRate(24e6); got != 150e6 {
		t.Errorf("RecalcRate = %d", got)
	}
}

// Two clocks packed into one register must not lose each other's updates.
func Test_siblings(t *testing.T) {
	mem := regs.NewMemory()
	common := NewCommon(mem)
	a, err := NewNKM(common, Config{
		Name: "a",
		N:    support.Field{Shift: 8, Width: 5},
		K:    support.Field{Shift: 4, Width: 2},
		M:    support.Field{Shift: 0, Width: 2},
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewNKM(common, Config{
		Name: "b",
		N:    support.Field{Shift: 16, Width: 4},
		K:    support.Field{Shift: 20, Width: 2},
		M:    support.Field{Shift: 24, Width: 2},
	})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for _, job := range []struct {
		c     *NKM
		rates []uint64
	}{
		{a, []uint64{288e6, 600e6}},
		{b, []uint64{48e6, 96e6}},
	} {
		wg.Add(1)
		go func(c *NKM, rates []uint64) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				if err := c.SetRate(rates[i%2], 24e6); err != nil {
					t.Error(err)
					return
				}
			}
		}(job.c, job.rates)
	}
	wg.Wait()

	// the last pass of each writer used the second rate
	if got, _ := a.RecalcRate(24e6); got != 600e6 {
		t.Errorf("a = %d, want 600000000", got)
	}
	if got, _ := b.RecalcRate(24e6); got != 96e6 {
		t.Errorf("b = %d, want 96000000", got)
	}
}
