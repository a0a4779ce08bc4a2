package record

import (
	"fmt"
	"strings"
)

// MatchSpec is a lenient package requirement: a package name and an opaque
// version constraint. The dispatch core never interprets the constraint; it
// is handed verbatim to the solver collaborator.
type MatchSpec struct {
	Name       string
	Constraint string
}

// ParseMatchSpec splits a requirement string such as "python >=3.9,<3.12"
// into a name and its constraint. The constraint may be empty.
func ParseMatchSpec(s string) (MatchSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return MatchSpec{}, fmt.Errorf("empty match spec")
	}
	name, constraint, _ := strings.Cut(s, " ")
	if idx := strings.IndexAny(name, "=<>!~"); idx > 0 {
		// "name>=1.0" without a space
		constraint = name[idx:] + constraint
		name = name[:idx]
	}
	return MatchSpec{Name: name, Constraint: strings.TrimSpace(constraint)}, nil
}

func (m MatchSpec) String() string {
	if m.Constraint == "" {
		return m.Name
	}
	return m.Name + " " + m.Constraint
}
