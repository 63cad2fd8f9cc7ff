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

// Gate turns a clock on and off with bits of its control register. A gate
// with an empty mask is always on and Enable and Disable do nothing.
type Gate struct {
	common *Common
	reg    uint32
	mask   uint32
}

func NewGate(common *Common, reg, mask uint32) Gate {
	return Gate{common: common, reg: reg, mask: mask}
}

func (g Gate) Enable() error {
	if g.mask == 0 {
		return nil
	}
	_, _, err := g.common.modify(g.reg, func(w uint32) uint32 { return w | g.mask })
	return err
}

func (g Gate) Disable() error {
	if g.mask == 0 {
		return nil
	}
	_, _, err := g.common.modify(g.reg, func(w uint32) uint32 { return w &^ g.mask })
	return err
}

// IsEnabled reports whether every bit of the mask is set.
func (g Gate) IsEnabled() (bool, error) {
	if g.mask == 0 {
		return true, nil
	}
	w, err := g.common.read(g.reg)
	if err != nil {
		return false, err
	}
	return w&g.mask == g.mask, nil
}
