package coordinator

import "github.com/sokinpui/streamedit/model"

// legal lists every allowed state change. Anything else is rejected.
var legal = map[model.StateKind]map[model.StateKind]bool{
	model.StateIdle: {
		model.StateStreaming: true,
	},
	model.StateStreaming: {
		model.StateValidating: true,
		model.StateBlocked:    true,
	},
	model.StateValidating: {
		model.StateBlocked: true,
		model.StateEmpty:   true,
		model.StateReady:   true,
	},
	model.StateBlocked: {model.StateIdle: true},
	model.StateEmpty:   {model.StateIdle: true},
	model.StateReady:   {model.StateIdle: true},
}

// CanTransition reports whether from → to is a legal state change.
func CanTransition(from, to model.StateKind) bool {
	return legal[from][to]
}
