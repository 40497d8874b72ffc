package domain

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/heimdalr/dag"
)

var capabilityIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:/-]*$`)

// ValidCapabilityID reports whether id is a well-formed capability reference.
func ValidCapabilityID(id string) bool {
	return capabilityIDPattern.MatchString(id)
}

// Validate checks the spec before anything is persisted. The dependency graph
// is loaded into a DAG so cycles surface as a SpecError instead of a stuck
// scheduler.
func (w *WorkflowSpec) Validate() error {
	if w == nil {
		return NewSpecError("spec", "workflow spec is nil")
	}
	if w.Name == "" {
		return NewSpecError("name", "workflow name is required")
	}
	if len(w.Steps) == 0 {
		return NewSpecError("steps", "workflow must declare at least one step")
	}
	if w.MaxExecutionTime < 0 {
		return NewSpecError("max_execution_time", "must not be negative")
	}

	seen := make(map[string]struct{}, len(w.Steps))
	for i, step := range w.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if step.Name == "" {
			return NewSpecError(field+".name", "step name is required")
		}
		if _, dup := seen[step.Name]; dup {
			return NewSpecError(field+".name", fmt.Sprintf("duplicate step name %q", step.Name))
		}
		seen[step.Name] = struct{}{}

		if !step.Kind.valid() {
			return NewSpecError(field+".kind", fmt.Sprintf("unknown step kind %q", step.Kind))
		}
		if !step.RiskLevel.valid() {
			return NewSpecError(field+".risk_level", fmt.Sprintf("unknown risk level %q", step.RiskLevel))
		}
		if step.MaxRetries < 0 {
			return NewSpecError(field+".max_retries", "must not be negative")
		}
		if step.Kind.InvokesCapability() && !ValidCapabilityID(step.CapabilityID) {
			return NewSpecError(field+".capability_id", fmt.Sprintf("malformed capability id %q", step.CapabilityID))
		}
		if step.Compensation != nil && !ValidCapabilityID(step.Compensation.CapabilityID) {
			return NewSpecError(field+".compensation.capability_id",
				fmt.Sprintf("malformed capability id %q", step.Compensation.CapabilityID))
		}
	}

	_, err := w.DependencyGraph()
	return err
}

// DependencyGraph builds the step DAG with one edge per dependency.
func (w *WorkflowSpec) DependencyGraph() (*dag.DAG, error) {
	graph := dag.NewDAG()
	for _, step := range w.Steps {
		if err := graph.AddVertexByID(step.Name, step.Name); err != nil {
			return nil, NewSpecError("steps", fmt.Sprintf("add step %q: %v", step.Name, err))
		}
	}

	for _, step := range w.Steps {
		for _, dep := range step.DependsOn {
			if dep == step.Name {
				return nil, NewSpecError("depends_on", fmt.Sprintf("step %q depends on itself", step.Name))
			}
			if _, ok := w.Step(dep); !ok {
				return nil, NewSpecError("depends_on", fmt.Sprintf("step %q depends on unknown step %q", step.Name, dep))
			}

			err := graph.AddEdge(dep, step.Name)
			if err == nil {
				continue
			}

			var loop dag.EdgeLoopError
			var dupEdge dag.EdgeDuplicateError
			switch {
			case errors.As(err, &loop):
				return nil, NewSpecError("depends_on",
					fmt.Sprintf("circular dependency between %q and %q", dep, step.Name))
			case errors.As(err, &dupEdge):
				continue
			default:
				return nil, NewSpecError("depends_on", fmt.Sprintf("dependency %q -> %q: %v", dep, step.Name, err))
			}
		}
	}

	return graph, nil
}
