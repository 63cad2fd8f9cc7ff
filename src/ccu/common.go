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
Package ccu drives clock units whose rate is set by N, K and M factor fields in
a 32 bit control register.

A register bank is reached through Registers. Sibling clocks that share the
bank also share a Common, and with it the one mutex that orders every
read-modify-write of the bank. Reads of a single word don't take the lock; the
register backends make those consistent on their own.
*/
package ccu

import (
	"fmt"
	"sync"
)

// Registers is a bank of 32 bit registers addressed by byte offset. Accesses
// are whole words.
type Registers interface {
	Read32(off uint32) (uint32, error)
	Write32(off, v uint32) error
}

// Common is the register context shared by every clock of a bank.
type Common struct {
	Regs Registers
	Lock *sync.Mutex
}

// NewCommon wraps regs with a fresh lock. Hand the result to each sibling.
func NewCommon(regs Registers) *Common {
	return &Common{Regs: regs, Lock: &sync.Mutex{}}
}

// modify does a read-modify-write of one register while holding the shared
// lock and returns the word before and after.
func (c *Common) modify(off uint32, update func(word uint32) uint32) (before, after uint32, err error) {
	c.Lock.Lock()
	defer c.Lock.Unlock()

	before, err = c.Regs.Read32(off)
	if err != nil {
		return 0, 0, fmt.Errorf("read %#04x: %w", off, err)
	}
	after = update(before)
	if err = c.Regs.Write32(off, after); err != nil {
		return before, before, fmt.Errorf("write %#04x: %w", off, err)
	}
	return before, after, nil
}

func (c *Common) read(off uint32) (uint32, error) {
	w, err := c.Regs.Read32(off)
	if err != nil {
		return 0, fmt.Errorf("read %#04x: %w", off, err)
	}
	return w, nil
}
