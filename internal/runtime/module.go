package runtime

import (
	"errors"
	"strings"
)

// Module is a node of a model's submodule tree.
type Module interface {
	// TypeName is the implementation class name, e.g. "Linear4bit".
	TypeName() string
	// Children returns direct submodules in registration order.
	Children() []Child
	// To moves the module (recursively) to dev and casts floating weights
	// to dt. Auto keeps the current dtype.
	To(dev Device, dt DType) error
	Device() Device
	DType() DType
}

// Child is a named edge in the module tree.
type Child struct {
	Name   string
	Module Module
}

// PrecisionReporter is implemented by modules that can state how their
// weights are stored.
type PrecisionReporter interface {
	Precision() Precision
}

// ChildReplacer is implemented by containers whose children can be swapped,
// which is how a quantization backend installs low-bit layers.
type ChildReplacer interface {
	ReplaceChild(name string, m Module) error
}

// SkipChildren may be returned by a Walk callback to prune a subtree.
var SkipChildren = errors.New("skip children")

// Walk visits root and every module reachable from it, depth first. path is
// the dotted name relative to root ("" for root itself).
func Walk(root Module, fn func(path string, m Module) error) error {
	if root == nil {
		return nil
	}
	return walk("", root, fn)
}

func walk(path string, m Module, fn func(string, Module) error) error {
	if err := fn(path, m); err != nil {
		if errors.Is(err, SkipChildren) {
			return nil
		}
		return err
	}
	for _, c := range m.Children() {
		if c.Module == nil {
			continue
		}
		if err := walk(JoinPath(path, c.Name), c.Module, fn); err != nil {
			return err
		}
	}
	return nil
}

// JoinPath joins dotted module path segments.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

// Lookup resolves a dotted path below root, returning nil when absent.
func Lookup(root Module, path string) Module {
	cur := root
	if path == "" {
		return cur
	}
	for _, seg := range strings.Split(path, ".") {
		if cur == nil {
			return nil
		}
		var next Module
		for _, c := range cur.Children() {
			if c.Name == seg {
				next = c.Module
				break
			}
		}
		cur = next
	}
	return cur
}
