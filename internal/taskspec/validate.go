package taskspec

import "fmt"

// Validate checks the invariants declared in spec.md §3: the dependency
// graph has no cycles, and every predecessor named in Dependencies exists in
// the task set.
func (w WorkflowSpec) Validate() error {
	ids := make(map[string]struct{}, len(w.Tasks))
	for _, t := range w.Tasks {
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("taskspec: duplicate task id %q", t.ID)
		}
		ids[t.ID] = struct{}{}
	}
	for task, preds := range w.Dependencies {
		if _, ok := ids[task]; !ok {
			return fmt.Errorf("taskspec: dependency entry for unknown task %q", task)
		}
		for _, p := range preds {
			if _, ok := ids[p]; !ok {
				return fmt.Errorf("taskspec: task %q depends on unknown predecessor %q", task, p)
			}
		}
	}
	if cycle := w.findCycle(); cycle != nil {
		return fmt.Errorf("taskspec: dependency cycle detected: %v", cycle)
	}
	return nil
}

// findCycle runs a DFS over the dependency graph (task -> predecessors) and
// returns the first cycle found, or nil if the graph is acyclic.
func (w WorkflowSpec) findCycle() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(w.Tasks))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range w.Dependencies[id] {
			switch color[dep] {
			case white:
				if visit(dep) {
					return true
				}
			case gray:
				// Found a back-edge; extract the cycle portion of path.
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append([]string{}, path[start:]...)
				cycle = append(cycle, dep)
				return true
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for _, t := range w.Tasks {
		if color[t.ID] == white {
			if visit(t.ID) {
				return cycle
			}
		}
	}
	return nil
}

// EligibleTasks returns the IDs of tasks whose predecessors are all present
// in completed, excluding any task already present in done.
func (w WorkflowSpec) EligibleTasks(completed map[string]struct{}, done map[string]struct{}) []string {
	var eligible []string
	for _, t := range w.Tasks {
		if _, already := done[t.ID]; already {
			continue
		}
		ready := true
		for _, dep := range w.Dependencies[t.ID] {
			if _, ok := completed[dep]; !ok {
				ready = false
				break
			}
		}
		if ready {
			eligible = append(eligible, t.ID)
		}
	}
	return eligible
}
