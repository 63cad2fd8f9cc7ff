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

/*
Package regs holds the register banks a clock can be driven through: a
simulated register file, /dev/mem, an I2C register bridge and a U-Boot
console on a serial line.

Each bank serializes its own transport, so a single Read32 or Write32 is
always consistent. Read-modify-write ordering is the caller's business.
*/
package regs

import (
	"errors"
	"fmt"
	"sync"
)

var ErrUnaligned = errors.New("register offset is not word aligned")

type settle struct {
	mask  uint32
	reads int
	left  int
}

/*
Memory is a simulated register file. Unwritten registers read as zero.

Settle makes a register behave like a PLL control word: every write clears the
lock bits and they come back on by themselves after a number of reads. This is
how the lock wait gets exercised without hardware.
*/
type Memory struct {
	mu     sync.Mutex
	words  map[uint32]uint32
	settle map[uint32]*settle
	reads  int
	writes int
}

func NewMemory() *Memory {
	return &Memory{words: map[uint32]uint32{}, settle: map[uint32]*settle{}}
}

// Settle sets lock bits mask of register off after reads reads following each
// write. Zero reads locks at once, a negative count never locks.
func (m *Memory) Settle(off, mask uint32, reads int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settle[off] = &settle{mask: mask, reads: reads}
	if reads == 0 {
		m.words[off] |= mask
	}
}

func (m *Memory) Read32(off uint32) (uint32, error) {
	if off%4 != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrUnaligned, off)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if s, ok := m.settle[off]; ok && s.left > 0 {
		s.left--
		if s.left == 0 {
			m.words[off] |= s.mask
		}
	}
	return m.words[off], nil
}

func (m *Memory) Write32(off, v uint32) error {
	if off%4 != 0 {
		return fmt.Errorf("%w: %#x", ErrUnaligned, off)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	if s, ok := m.settle[off]; ok {
		// lock bits belong to the hardware
		if s.reads == 0 {
			v |= s.mask
		} else {
			v &^= s.mask
			s.left = max(s.reads, 0)
		}
	}
	m.words[off] = v
	return nil
}

// Poke stores v without counting a write or touching lock bits.
func (m *Memory) Poke(off, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.words[off] = v
}

// Peek reads without counting a read or advancing a settling register.
func (m *Memory) Peek(off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[off]
}

// Counts returns the number of reads and writes so far.
func (m *Memory) Counts() (reads, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads, m.writes
}

func (m *Memory) Close() error {
	return nil
}
