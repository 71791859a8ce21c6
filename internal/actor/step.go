package actor

// Step applies a reducer to a single (state, input) pair and returns the next
// state and effects without running them. Reducer tests drive state machines
// through Step.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}

// Steps folds inputs through reducer and returns the final state plus the
// effects of every step, in order.
func Steps[S any](state S, reducer ReducerFunc[S], inputs ...Input) (S, [][]Effect) {
	all := make([][]Effect, 0, len(inputs))
	for _, in := range inputs {
		var effects []Effect
		state, effects = reducer(state, in)
		all = append(all, effects)
	}
	return state, all
}
