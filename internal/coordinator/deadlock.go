package coordinator

// DeadlockResult reports the outcome of a deadlock detection sweep.
type DeadlockResult struct {
	Detected          bool
	Cycle             []string // agent ids forming the cycle, in wait order
	AffectedResources []string
}

// DetectDeadlock builds the current wait-for graph and runs a depth-first
// search for a cycle, grounded on the same three-color DFS idiom used by
// taskspec.WorkflowSpec.findCycle, adapted from a dependency graph to an
// agent wait-for graph. Returns the first cycle found.
func (c *Coordinator) DetectDeadlock() DeadlockResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(c.waitFor))
	var path []string
	var cycle []string

	var visit func(agent string) bool
	visit = func(agent string) bool {
		color[agent] = gray
		path = append(path, agent)
		for blockedOn := range c.waitFor[agent] {
			switch color[blockedOn] {
			case white:
				if visit(blockedOn) {
					return true
				}
			case gray:
				start := 0
				for i, p := range path {
					if p == blockedOn {
						start = i
						break
					}
				}
				cycle = append([]string{}, path[start:]...)
				return true
			}
		}
		path = path[:len(path)-1]
		color[agent] = black
		return false
	}

	for agent := range c.waitFor {
		if color[agent] == white {
			if visit(agent) {
				return DeadlockResult{
					Detected:          true,
					Cycle:             cycle,
					AffectedResources: c.resourcesHeldBy(cycle),
				}
			}
		}
	}
	return DeadlockResult{Detected: false}
}

// resourcesHeldBy returns every resource currently held by any agent in
// agents. Must be called with c.mu held.
func (c *Coordinator) resourcesHeldBy(agents []string) []string {
	inCycle := make(map[string]struct{}, len(agents))
	for _, a := range agents {
		inCycle[a] = struct{}{}
	}
	var resources []string
	for resource, holders := range c.holders {
		for _, l := range holders {
			if _, ok := inCycle[l.AgentID]; ok {
				resources = append(resources, resource)
				break
			}
		}
	}
	return resources
}

// LocksHeldBy returns every lock currently held by agentID, used by the
// mitigator to pick a deadlock victim.
func (c *Coordinator) LocksHeldBy(agentID string) []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	var held []Lock
	for _, holders := range c.holders {
		for _, l := range holders {
			if l.AgentID == agentID {
				held = append(held, l)
			}
		}
	}
	return held
}
