package pipeline

import (
	"fmt"
	"strings"
)

// FilterSpec is a parsed "Name=arg1,arg2" descriptor.
type FilterSpec struct {
	Name string
	Args []string
}

func (s FilterSpec) String() string {
	if len(s.Args) == 0 {
		return s.Name
	}
	return s.Name + "=" + strings.Join(s.Args, ",")
}

// ParseFilterSpec parses a descriptor. Arguments are trimmed; an empty
// argument list is allowed.
func ParseFilterSpec(descriptor string) (FilterSpec, error) {
	name, args, hasArgs := strings.Cut(strings.TrimSpace(descriptor), "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return FilterSpec{}, fmt.Errorf("filter descriptor %q has no name", descriptor)
	}

	spec := FilterSpec{Name: name}
	if hasArgs {
		for _, a := range strings.Split(args, ",") {
			spec.Args = append(spec.Args, strings.TrimSpace(a))
		}
	}
	return spec, nil
}

// Constructor builds a filter from descriptor arguments.
type Constructor func(args []string) (Filter, error)

// Factory turns filter descriptors into stages.
type Factory struct {
	constructors map[string]Constructor
}

// NewFactory creates an empty factory.
func NewFactory() *Factory {
	return &Factory{constructors: make(map[string]Constructor)}
}

// Register binds name to c, replacing any earlier binding.
func (f *Factory) Register(name string, c Constructor) {
	f.constructors[name] = c
}

// Build creates one stage per descriptor, all at order. Stages keep the
// descriptor order among themselves.
func (f *Factory) Build(descriptors []string, order int) ([]StageConfig, error) {
	stages := make([]StageConfig, 0, len(descriptors))
	for _, d := range descriptors {
		spec, err := ParseFilterSpec(d)
		if err != nil {
			return nil, err
		}
		c, ok := f.constructors[spec.Name]
		if !ok {
			return nil, fmt.Errorf("unknown filter %q", spec.Name)
		}
		filter, err := c(spec.Args)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", spec, err)
		}
		stages = append(stages, StageConfig{Name: spec.Name, Order: order, Filter: filter})
	}
	return stages, nil
}
