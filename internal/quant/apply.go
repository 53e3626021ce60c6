// Package quant is the low-bit weight backend. It rewrites a module tree in
// place, swapping full-precision linear layers for int8 or NF4 ones.
package quant

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"strings"

	"golang.org/x/sync/errgroup"

	"captiond/internal/nn"
	"captiond/internal/runtime"
)

// ErrUnsupportedScheme is returned for 4-bit schemes other than nf4.
var ErrUnsupportedScheme = errors.New("unsupported 4-bit quant type")

// Stats summarises an Apply pass.
type Stats struct {
	Quantized int
	Skipped   int
	// Bytes is the packed weight footprint of the quantized layers.
	Bytes int64
}

type target struct {
	path   string
	parent runtime.ChildReplacer
	name   string
	src    *nn.Linear
	dst    runtime.Module
}

// Apply quantizes every *nn.Linear below root whose dotted path does not
// contain a component listed in cfg.SkipModules. Layers must still be on
// the host. A config without a bit-width is a no-op.
func Apply(root runtime.Module, cfg runtime.QuantConfig) (Stats, error) {
	var st Stats
	bits := cfg.Bits()
	if bits == 0 {
		return st, nil
	}
	if bits == 4 && !strings.EqualFold(cfg.QuantType, "nf4") {
		return st, fmt.Errorf("%w: %q", ErrUnsupportedScheme, cfg.QuantType)
	}

	var targets []*target
	err := runtime.Walk(root, func(path string, m runtime.Module) error {
		if skipped(path, cfg.SkipModules) {
			st.Skipped++
			return runtime.SkipChildren
		}
		parent, ok := m.(runtime.ChildReplacer)
		if !ok {
			return nil
		}
		for _, c := range m.Children() {
			lin, ok := c.Module.(*nn.Linear)
			if !ok {
				continue
			}
			p := runtime.JoinPath(path, c.Name)
			if skipped(p, cfg.SkipModules) {
				continue
			}
			if lin.Device() != runtime.DeviceCPU {
				return fmt.Errorf("quantize %s: layer must be on host, is on %s", p, lin.Device())
			}
			targets = append(targets, &target{path: p, parent: parent, name: c.Name, src: lin})
		}
		return nil
	})
	if err != nil {
		return st, err
	}

	var g errgroup.Group
	g.SetLimit(goruntime.GOMAXPROCS(0))
	for _, t := range targets {
		g.Go(func() error {
			switch bits {
			case 8:
				t.dst = NewLinear8bit(t.src)
			case 4:
				t.dst = NewLinear4bit(t.src, computeOrDefault(cfg.ComputeDType), cfg.DoubleQuant)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	// Replacement mutates parents, so it runs after all workers finish.
	for _, t := range targets {
		if err := t.parent.ReplaceChild(t.name, t.dst); err != nil {
			return st, fmt.Errorf("install %s: %w", t.path, err)
		}
		st.Quantized++
		switch q := t.dst.(type) {
		case *Linear8bitLt:
			st.Bytes += q.footprint()
		case *Linear4bit:
			st.Bytes += q.footprint()
		}
	}
	return st, nil
}

func computeOrDefault(dt runtime.DType) runtime.DType {
	if dt.IsFloat() {
		return dt
	}
	return runtime.Float32
}

func skipped(path string, skip []string) bool {
	if path == "" || len(skip) == 0 {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		for _, s := range skip {
			if seg == s {
				return true
			}
		}
	}
	return false
}
