package phase

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type (
	// Timer records nested named phases of one compilation.
	// A nil *Timer is valid and records nothing.
	Timer struct {
		mu    sync.Mutex
		root  Phase
		stack []*Phase

		now func() time.Time
	}

	Phase struct {
		Name     string
		Start    time.Time
		End      time.Time
		Children []*Phase
	}

	// Guard closes its phase. End is safe to call more than once and on nil.
	Guard struct {
		t *Timer
		p *Phase
	}
)

func New() *Timer {
	return &Timer{now: time.Now}
}

// Start opens a phase nested in the innermost open one.
func (t *Timer) Start(name string) *Guard {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	parent := &t.root
	if n := len(t.stack); n != 0 {
		parent = t.stack[n-1]
	}

	p := &Phase{Name: name, Start: t.now()}

	parent.Children = append(parent.Children, p)
	t.stack = append(t.stack, p)

	return &Guard{t: t, p: p}
}

// End closes the phase and any phase still open inside it.
func (g *Guard) End() {
	if g == nil || g.t == nil {
		return
	}

	t := g.t
	g.t = nil

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	for i := len(t.stack) - 1; i >= 0; i-- {
		if t.stack[i] != g.p {
			continue
		}

		for _, p := range t.stack[i:] {
			p.End = now
		}

		t.stack = t.stack[:i]

		return
	}
}

// Open reports the number of phases started and not yet ended.
func (t *Timer) Open() int {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.stack)
}

// Phases returns top level phases.
func (t *Timer) Phases() []*Phase {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.root.Children
}

// Find returns the first phase with the name in depth first order.
func (t *Timer) Find(name string) *Phase {
	if t == nil {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return t.root.find(name)
}

func (p *Phase) find(name string) *Phase {
	for _, c := range p.Children {
		if c.Name == name {
			return c
		}

		if r := c.find(name); r != nil {
			return r
		}
	}

	return nil
}

func (p *Phase) Duration() time.Duration {
	if p.End.IsZero() {
		return 0
	}

	return p.End.Sub(p.Start)
}

// Report renders the phase tree with durations.
func (t *Timer) Report(b []byte) []byte {
	if t == nil {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	var rec func(b []byte, p *Phase, d int) []byte
	rec = func(b []byte, p *Phase, d int) []byte {
		b = fmt.Appendf(b, "%s%-*s %v\n", strings.Repeat("  ", d), 40-2*d, p.Name, p.Duration())

		for _, c := range p.Children {
			b = rec(b, c, d+1)
		}

		return b
	}

	for _, p := range t.root.Children {
		b = rec(b, p, 0)
	}

	return b
}
