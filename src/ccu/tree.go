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
)

var ErrNoClock = errors.New("no such clock")

// Clock is what a clock tree needs from a clock unit. The parent rate is
// passed on every call since a unit doesn't track its parent.
type Clock interface {
	Enable() error
	Disable() error
	IsEnabled() (bool, error)
	RecalcRate(parent uint64) (uint64, error)
	RoundRate(rate, parent uint64) (uint64, error)
	SetRate(rate, parent uint64) error
}

type Node struct {
	Name   string
	Parent uint64
	Clock  Clock
}

// Tree is a flat set of named clocks with fixed parent rates. It is built once
// and then only read, so it has no lock of its own.
type Tree struct {
	nodes map[string]*Node
	order []string
}

func NewTree() *Tree {
	return &Tree{nodes: map[string]*Node{}}
}

func (t *Tree) Add(name string, parent uint64, c Clock) error {
	if _, ok := t.nodes[name]; ok {
		return fmt.Errorf("clock %q registered twice", name)
	}
	if parent == 0 {
		return fmt.Errorf("clock %q: parent rate must be positive", name)
	}
	t.nodes[name] = &Node{Name: name, Parent: parent, Clock: c}
	t.order = append(t.order, name)
	return nil
}

// Names lists the clocks in registration order.
func (t *Tree) Names() []string {
	return append([]string(nil), t.order...)
}

func (t *Tree) Lookup(name string) (*Node, error) {
	n, ok := t.nodes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoClock, name)
	}
	return n, nil
}

func (t *Tree) Rate(name string) (uint64, error) {
	n, err := t.Lookup(name)
	if err != nil {
		return 0, err
	}
	return n.Clock.RecalcRate(n.Parent)
}

func (t *Tree) RoundRate(name string, rate uint64) (uint64, error) {
	n, err := t.Lookup(name)
	if err != nil {
		return 0, err
	}
	return n.Clock.RoundRate(rate, n.Parent)
}

// SetRate programs the clock and reads back the rate it ended up at. A lock
// timeout still reports the new rate together with the error.
func (t *Tree) SetRate(name string, rate uint64) (uint64, error) {
	n, err := t.Lookup(name)
	if err != nil {
		return 0, err
	}
	setErr := n.Clock.SetRate(rate, n.Parent)
	if setErr != nil && !errors.Is(setErr, ErrLockTimeout) {
		return 0, setErr
	}
	got, err := n.Clock.RecalcRate(n.Parent)
	if err != nil {
		return 0, err
	}
	return got, setErr
}

func (t *Tree) Enable(name string) error {
	n, err := t.Lookup(name)
	if err != nil {
		return err
	}
	return n.Clock.Enable()
}

func (t *Tree) Disable(name string) error {
	n, err := t.Lookup(name)
	if err != nil {
		return err
	}
	return n.Clock.Disable()
}

func (t *Tree) IsEnabled(name string) (bool, error) {
	n, err := t.Lookup(name)
	if err != nil {
		return false, err
	}
	return n.Clock.IsEnabled()
}
