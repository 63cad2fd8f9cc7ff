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
	"time"
)

var ErrLockTimeout = errors.New("timeout waiting for clock lock")

const (
	DefaultLockTimeout  = 70 * time.Millisecond
	DefaultPollInterval = 100 * time.Microsecond
)

// LockWait bounds the wait for a lock bit. Zero fields take the defaults.
type LockWait struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

func (lw LockWait) withDefaults() LockWait {
	if lw.Timeout <= 0 {
		lw.Timeout = DefaultLockTimeout
	}
	if lw.PollInterval <= 0 {
		lw.PollInterval = DefaultPollInterval
	}
	return lw
}

type deadline struct {
	t time.Time
}

func newDeadline(timeout time.Duration) deadline {
	return deadline{t: time.Now().Add(timeout)}
}

func (d deadline) expired() bool {
	return time.Now().After(d.t)
}

/*
WaitForLock polls register off of regs until every bit of mask reads as set.

The register is checked at least once, and once more after the deadline has
passed, so a slow poll can't turn a locked clock into a timeout. A zero mask
means the clock has no lock indicator and returns immediately.

On timeout the result wraps ErrLockTimeout.
*/
func WaitForLock(regs Registers, off, mask uint32, lw LockWait) error {
	if mask == 0 {
		return nil
	}
	lw = lw.withDefaults()
	dl := newDeadline(lw.Timeout)
	for {
		late := dl.expired()
		w, err := regs.Read32(off)
		if err != nil {
			return fmt.Errorf("read %#04x: %w", off, err)
		}
		if w&mask == mask {
			return nil
		}
		if late {
			return fmt.Errorf("%w: register %#04x = %#08x after %v", ErrLockTimeout, off, w, lw.Timeout)
		}
		time.Sleep(lw.PollInterval)
	}
}
