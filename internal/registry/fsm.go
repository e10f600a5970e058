package registry

// legalTransitions enumerates every (from, to) pair §4.1's state diagram
// allows. SetState and Archive, the only writers of State, reject anything
// not in this table with state_conflict.
var legalTransitions = map[State]map[State]bool{
	StateStopped: {
		StateStarting: true,
		StateArchived: true,
	},
	StateStarting: {
		StateLoading: true, // container_up
		StateFailed:  true, // fail
	},
	StateLoading: {
		StateRunning: true, // ready
		StateFailed:  true, // fail
	},
	StateRunning: {
		StateStopped: true, // stop
		StateFailed:  true, // set error
	},
	StateFailed: {
		StateStarting: true, // start (recoverable)
		StateArchived: true,
	},
	StateArchived: {
		StateStopped: true, // un-archive
	},
}

// CanTransition reports whether from -> to is a legal FSM edge.
func CanTransition(from, to State) bool {
	if from == to {
		return false
	}
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// RequiresContainer reports whether a Model in this state must have a
// non-null container_name and port (§3 invariant).
func RequiresContainer(s State) bool {
	return s == StateStarting || s == StateLoading || s == StateRunning
}
