package stream

// State is the attachment state of the active item
type State string

const (
	StateIdle         State = "idle"
	StateAttaching    State = "attaching"
	StatePlaying      State = "playing"
	StateRecovering   State = "recovering"
	StateFailed       State = "failed"
	StateAuthRequired State = "auth_required"
)

type signal string

const (
	sigAttach    signal = "attach"
	sigNeedAuth  signal = "need_auth"
	sigSuccess   signal = "success"
	sigFault     signal = "fault"
	sigExhausted signal = "exhausted"
	sigDetach    signal = "detach"
)

func transitions() []Transition[State, signal] {
	table := []Transition[State, signal]{
		{From: StateIdle, Event: sigAttach, To: StateAttaching},
		{From: StateAuthRequired, Event: sigAttach, To: StateAttaching},
		{From: StateIdle, Event: sigNeedAuth, To: StateAuthRequired},

		{From: StateAttaching, Event: sigSuccess, To: StatePlaying},
		{From: StatePlaying, Event: sigSuccess, To: StatePlaying},
		{From: StateRecovering, Event: sigSuccess, To: StatePlaying},

		{From: StateAttaching, Event: sigFault, To: StateRecovering},
		{From: StatePlaying, Event: sigFault, To: StateRecovering},
		{From: StateRecovering, Event: sigFault, To: StateRecovering},

		{From: StateRecovering, Event: sigExhausted, To: StateFailed},
	}
	for _, s := range []State{StateIdle, StateAttaching, StatePlaying, StateRecovering, StateFailed, StateAuthRequired} {
		table = append(table, Transition[State, signal]{From: s, Event: sigDetach, To: StateIdle})
	}
	return table
}

func newMachine() *Machine[State, signal] {
	m, err := NewMachine(StateIdle, transitions())
	if err != nil {
		panic(err)
	}
	return m
}
