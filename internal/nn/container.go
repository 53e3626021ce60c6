package nn

import (
	"fmt"

	"captiond/internal/runtime"
)

// Container is an ordered set of named submodules.
type Container struct {
	typeName string
	names    []string
	mods     map[string]runtime.Module
}

// NewContainer returns an empty container reporting typeName.
func NewContainer(typeName string) *Container {
	return &Container{typeName: typeName, mods: make(map[string]runtime.Module)}
}

// Add registers m under name and returns it.
func (c *Container) Add(name string, m runtime.Module) runtime.Module {
	if _, ok := c.mods[name]; !ok {
		c.names = append(c.names, name)
	}
	c.mods[name] = m
	return m
}

// Get returns the child registered under name, or nil.
func (c *Container) Get(name string) runtime.Module { return c.mods[name] }

func (c *Container) TypeName() string { return c.typeName }

func (c *Container) Children() []runtime.Child {
	out := make([]runtime.Child, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, runtime.Child{Name: n, Module: c.mods[n]})
	}
	return out
}

func (c *Container) ReplaceChild(name string, m runtime.Module) error {
	if _, ok := c.mods[name]; !ok {
		return fmt.Errorf("%s has no child %q", c.typeName, name)
	}
	c.mods[name] = m
	return nil
}

// To moves every child. It stops at the first failure; children already
// moved keep their new placement.
func (c *Container) To(dev runtime.Device, dt runtime.DType) error {
	for _, n := range c.names {
		if err := c.mods[n].To(dev, dt); err != nil {
			return fmt.Errorf("%s: %w", n, err)
		}
	}
	return nil
}

// Device reports the device of the first child, or host when empty.
func (c *Container) Device() runtime.Device {
	for _, n := range c.names {
		return c.mods[n].Device()
	}
	return runtime.DeviceCPU
}

// DType reports the first floating dtype found among children.
func (c *Container) DType() runtime.DType {
	for _, n := range c.names {
		if dt := c.mods[n].DType(); dt.IsFloat() {
			return dt
		}
	}
	return runtime.Auto
}
