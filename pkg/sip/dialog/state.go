package dialog

import (
	"context"

	"github.com/looplab/fsm"
)

// Dialog states. A dialog the registry has never seen is in no state at all.
const (
	StateStarted    = "started"
	StateConfirmed  = "confirmed"
	StateTerminated = "terminated"
)

const (
	eventConfirm   = "confirm"
	eventTerminate = "terminate"
)

// State tracks the life cycle of one dialog:
//
//	started --confirm--> confirmed --terminate--> terminated
//	started --terminate--> terminated
type State struct {
	machine *fsm.FSM
}

func newState(onChange func(from, to string)) *State {
	s := &State{}
	s.machine = fsm.NewFSM(
		StateStarted,
		fsm.Events{
			// to-tag learned
			{Name: eventConfirm, Src: []string{StateStarted}, Dst: StateConfirmed},
			// BYE answered or the dialog failed
			{Name: eventTerminate, Src: []string{StateStarted, StateConfirmed}, Dst: StateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				if onChange != nil {
					onChange(e.Src, e.Dst)
				}
			},
		},
	)
	return s
}

// Current returns the current state name.
func (s *State) Current() string {
	return s.machine.Current()
}

// fire triggers event if it is allowed in the current state.
func (s *State) fire(event string) bool {
	if !s.machine.Can(event) {
		return false
	}
	return s.machine.Event(context.Background(), event) == nil
}
