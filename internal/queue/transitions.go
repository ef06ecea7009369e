package queue

// The transition tables below are the complete state graphs. Any persisted
// transition must appear here; engines consult these before mutating state.

var observationTransitions = map[State][]State{
	// pending may go straight to media upload when the remote entity already
	// exists from an earlier attempt.
	StatePending:           {StateUploadingMetadata, StateUploadingMedia},
	StateUploadingMetadata: {StateUploadingMedia, StateFailed},
	StateUploadingMedia:    {StateComplete, StatePartial, StateFailed},
	StateFailed:            {StatePending},
	StatePartial:           {StateUploadingMedia, StatePending},
	StateComplete:          {},
}

var taskTransitions = map[State][]State{
	StatePending:      {StateTranscribing},
	StateTranscribing: {StateReview, StateFailed},
	StateReview:       {StateAccepted},
	StateAccepted:     {StateUploading},
	StateUploading:    {StateComplete, StateFailed},
	StateFailed:       {StatePending, StateReview, StateAccepted},
	StateComplete:     {},
}

var observationStates = statesOf(observationTransitions)

var taskStates = statesOf(taskTransitions)

func statesOf(graph map[State][]State) map[State]struct{} {
	set := make(map[State]struct{}, len(graph))
	for from, tos := range graph {
		set[from] = struct{}{}
		for _, to := range tos {
			set[to] = struct{}{}
		}
	}
	return set
}

// ObservationCanTransition reports whether the edge exists in the
// observation state graph.
func ObservationCanTransition(from, to State) bool {
	return canTransition(observationTransitions, from, to)
}

// TaskCanTransition reports whether the edge exists in the task state graph.
func TaskCanTransition(from, to State) bool {
	return canTransition(taskTransitions, from, to)
}

func canTransition(graph map[State][]State, from, to State) bool {
	for _, next := range graph[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidObservationState reports whether the state appears in the observation graph.
func ValidObservationState(state State) bool {
	_, ok := observationStates[state]
	return ok
}

// ValidTaskState reports whether the state appears in the task graph.
func ValidTaskState(state State) bool {
	_, ok := taskStates[state]
	return ok
}

// InProgress reports whether a state marks an in-flight operation that a
// process crash would leave unresolved.
func (s State) InProgress() bool {
	switch s {
	case StateUploadingMetadata, StateUploadingMedia, StateTranscribing, StateUploading:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further automatic transition exists.
func (s State) Terminal() bool {
	return s == StateComplete
}

// Retryable reports whether a manual retry may be applied.
func (s State) Retryable() bool {
	return s == StateFailed || s == StatePartial
}

// DemoteInterrupted rolls an observation caught mid-operation back to a
// retryable state. A crash during a remote call leaves no guarantee about
// what the backend received, so the item is failed (or partial when some
// parts already completed) and annotated for the user.
func (o *Observation) DemoteInterrupted() bool {
	if !o.State.InProgress() {
		return false
	}
	for i := range o.Parts {
		if o.Parts[i].State == PartUploading {
			o.Parts[i].State = PartFailed
			o.Parts[i].LastError = InterruptReason
		}
	}
	if o.CompletedParts() > 0 {
		o.State = StatePartial
	} else {
		o.State = StateFailed
	}
	o.LastError = InterruptReason
	return true
}

// DemoteInterrupted rolls a task caught mid-operation back to failed.
func (t *Task) DemoteInterrupted() bool {
	if !t.State.InProgress() {
		return false
	}
	t.State = StateFailed
	t.LastError = InterruptReason
	return true
}

// RetryTarget returns the state a manual retry should resume from, given how
// much progress is already durable. Side effects that already succeeded are
// never re-run: an observation whose remote entity exists skips entity
// creation on the next pipeline pass, and a task keeps any transcription it
// already earned. The retry target is always a resting state so an idle item
// is never mistaken for interrupted work.
func (o *Observation) RetryTarget() State {
	return StatePending
}

// RetryTarget returns the state a manual retry should resume from.
func (t *Task) RetryTarget() State {
	switch {
	case t.EditedTranscription != "":
		return StateAccepted
	case t.Transcription != "":
		return StateReview
	default:
		return StatePending
	}
}
