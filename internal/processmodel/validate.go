package processmodel

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks operator arity and activity uniqueness. In strict mode a
// label may appear once; in tolerant mode later repeats are kept and marked
// with Node.Copy.
func (m *Model) Validate(tolerant bool) error {
	if m == nil || m.Root == nil {
		return errors.New("model is empty")
	}
	var errs []error
	counts := make(map[string]int)
	var dups []string

	walk(m.Root, 1, func(n *Node, depth int) {
		if depth > MaxDepth {
			errs = append(errs, fmt.Errorf("model is nested deeper than %d levels", MaxDepth))
			return
		}
		switch n.Kind {
		case KindSequence:
			if len(n.Children) < 1 {
				errs = append(errs, errors.New("sequence needs at least one child"))
			}
		case KindChoice, KindParallel:
			if len(n.Children) < 2 {
				errs = append(errs, fmt.Errorf("%s needs at least two children, got %d", n.Kind, len(n.Children)))
			}
		case KindLoop:
			if n.Do == nil {
				errs = append(errs, errors.New("loop is missing its do part"))
			}
		case KindActivity:
			n.Copy = counts[n.Label]
			if n.Copy == 1 {
				dups = append(dups, n.Label)
			}
			counts[n.Label]++
		}
	})

	if len(dups) > 0 && !tolerant {
		quoted := make([]string, len(dups))
		for i, d := range dups {
			quoted[i] = fmt.Sprintf("%q", d)
		}
		errs = append(errs, fmt.Errorf("activities %s appear more than once; each activity may occur only once, use a loop or a choice instead of repeating it", strings.Join(quoted, ", ")))
	}
	return errors.Join(errs...)
}
