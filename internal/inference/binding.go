package inference

import (
	"fmt"
	"strings"

	"github.com/dudu/faceswap/internal/faceerr"
)

// Role names what a model input carries.
type Role string

const (
	RoleImage     Role = "image"
	RoleEmbedding Role = "embedding"
)

// Binding matches a role to an input whose lower-cased name contains any of
// Patterns.
type Binding struct {
	Role     Role
	Patterns []string
}

// BindingTable declares the inputs of one model, in positional order.
type BindingTable []Binding

// Tables for the bundled models.
var (
	ImageOnly = BindingTable{{Role: RoleImage}}

	SwapperInputs = BindingTable{
		{Role: RoleImage, Patterns: []string{"target", "image"}},
		{Role: RoleEmbedding, Patterns: []string{"source", "embed", "latent"}},
	}
)

// Resolve assigns every role an input name. Roles are matched by pattern
// first; if not every role matched, the table falls back to positional
// binding (role i takes input i).
func (t BindingTable) Resolve(inputs []string) (map[Role]string, error) {
	if len(inputs) < len(t) {
		return nil, fmt.Errorf("model has %d inputs, binding needs %d", len(inputs), len(t))
	}

	resolved := make(map[Role]string, len(t))
	claimed := make([]bool, len(inputs))
	for _, b := range t {
		for i, name := range inputs {
			if claimed[i] || !matches(name, b.Patterns) {
				continue
			}
			resolved[b.Role] = name
			claimed[i] = true
			break
		}
	}
	if len(resolved) == len(t) {
		return resolved, nil
	}

	for i, b := range t {
		resolved[b.Role] = inputs[i]
	}
	return resolved, nil
}

func matches(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Model is a Session whose inputs were bound to roles at load time.
type Model struct {
	Session
	index map[Role]int
}

// Bind resolves table against s's inputs.
func Bind(s Session, table BindingTable) (*Model, error) {
	names := s.InputNames()
	resolved, err := table.Resolve(names)
	if err != nil {
		return nil, err
	}
	if len(names) != len(table) {
		return nil, fmt.Errorf("model has %d inputs, binding declares %d", len(names), len(table))
	}
	index := make(map[Role]int, len(resolved))
	for role, name := range resolved {
		for i, n := range names {
			if n == name {
				index[role] = i
			}
		}
	}
	return &Model{Session: s, index: index}, nil
}

// Input returns the input name bound to role.
func (m *Model) Input(role Role) string {
	i, ok := m.index[role]
	if !ok {
		return ""
	}
	return m.InputNames()[i]
}

// RunRoles runs the model with inputs keyed by role.
func (m *Model) RunRoles(inputs map[Role]Tensor) ([]Tensor, error) {
	ordered := make([]Tensor, len(m.InputNames()))
	for role, i := range m.index {
		t, ok := inputs[role]
		if !ok {
			return nil, faceerr.Errorf(faceerr.KindInference, m.Name(), "missing input for role %s", role)
		}
		ordered[i] = t
	}
	outputs, err := m.Session.Run(ordered)
	if err != nil {
		return nil, faceerr.Classify(faceerr.KindInference, m.Name(), err)
	}
	if len(outputs) == 0 {
		return nil, faceerr.Errorf(faceerr.KindInference, m.Name(), "model produced no outputs")
	}
	return outputs, nil
}

// RunImage runs a single-input image model.
func (m *Model) RunImage(t Tensor) ([]Tensor, error) {
	return m.RunRoles(map[Role]Tensor{RoleImage: t})
}
