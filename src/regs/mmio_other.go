//go:build !linux

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

import "errors"

var errNoMMIO = errors.New("mmio: /dev/mem is only supported on linux")

type MMIO struct{}

func OpenMMIO(path string, base uint64, size uint32) (*MMIO, error) {
	return nil, errNoMMIO
}

func (m *MMIO) Read32(off uint32) (uint32, error) {
	return 0, errNoMMIO
}

func (m *MMIO) Write32(off, v uint32) error {
	return errNoMMIO
}

func (m *MMIO) Close() error {
	return nil
}
