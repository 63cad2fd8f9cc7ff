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
	"fmt"

	"periph.io/x/conn/v3/physic"
	"tinygo.org/x/drivers"
)

/*
TinyGoBus lets the I2C bridge run over a TinyGo bus such as machine.I2C0.
Speed is fixed by the board configuration. On a board the wiring is

	machine.I2C0.Configure(machine.I2CConfig{Frequency: 400 * machine.KHz})
	bank := regs.NewI2C(regs.TinyGoBus{Bus: machine.I2C0}, 0x40)
	cpu, err := ccu.NewNKM(ccu.NewCommon(bank), cfg)

after which the clock is driven exactly as on Linux.
*/
type TinyGoBus struct {
	Bus drivers.I2C
}

func (b TinyGoBus) String() string {
	return fmt.Sprintf("tinygo(%T)", b.Bus)
}

func (b TinyGoBus) Tx(addr uint16, w, r []byte) error {
	return b.Bus.Tx(addr, w, r)
}

func (b TinyGoBus) SetSpeed(f physic.Frequency) error {
	return fmt.Errorf("tinygo i2c: speed is set when the bus is configured, not %s", f)
}
