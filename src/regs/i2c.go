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

package regs

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/mmr"
	"periph.io/x/host/v3"

	"nkm/src/logger"
)

/*
I2C reaches a register bank through an I2C bridge that exposes a 16 bit byte
address space. A transfer starts with the register address followed by four
data bytes, all little endian.
*/
type I2C struct {
	mu     sync.Mutex
	dev    mmr.Dev16
	closer io.Closer
}

// NewI2C talks to the bridge at addr on bus. The bus stays owned by the
// caller.
func NewI2C(bus i2c.Bus, addr uint16) *I2C {
	return &I2C{
		dev: mmr.Dev16{
			Conn:  &i2c.Dev{Bus: bus, Addr: addr},
			Order: binary.LittleEndian,
		},
	}
}

// OpenI2C initializes the host drivers and opens the named bus. An empty name
// picks the first bus found.
func OpenI2C(name string, addr uint16) (*I2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2c: host init: %w", err)
	}
	bus, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c: open %q: %w", name, err)
	}
	r := NewI2C(bus, addr)
	r.closer = bus
	logger.For("regs").WithField("bus", bus.String()).Infof("i2c bridge at %#02x", addr)
	return r, nil
}

func (r *I2C) reg(off uint32) (uint16, error) {
	if off%4 != 0 {
		return 0, fmt.Errorf("%w: %#x", ErrUnaligned, off)
	}
	if off > 0xfffc {
		return 0, fmt.Errorf("i2c: offset %#x beyond a 16 bit address space", off)
	}
	return uint16(off), nil
}

func (r *I2C) Read32(off uint32) (uint32, error) {
	reg, err := r.reg(off)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	v, err := r.dev.ReadUint32(reg)
	if err != nil {
		return 0, fmt.Errorf("i2c: read %#04x: %w", off, err)
	}
	return v, nil
}

func (r *I2C) Write32(off, v uint32) error {
	reg, err := r.reg(off)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dev.WriteUint32(reg, v); err != nil {
		return fmt.Errorf("i2c: write %#04x: %w", off, err)
	}
	return nil
}

func (r *I2C) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
