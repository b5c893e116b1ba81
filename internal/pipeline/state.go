package pipeline

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/da-ingest/internal/model"
)

// transitions lists the legal successors of each run state. Any state may
// move to Failed; Done and Failed are terminal.
var transitions = map[model.RunState][]model.RunState{
	model.RunStateStarting:     {model.RunStateResuming, model.RunStateFetchingPage},
	model.RunStateResuming:     {model.RunStateFetchingPage},
	model.RunStateFetchingPage: {model.RunStateParsing},
	// Parsing goes straight back to FetchingPage when an unrecognized page is skipped.
	model.RunStateParsing:     {model.RunStateNormalizing, model.RunStateFetchingPage},
	model.RunStateNormalizing: {model.RunStateWriting},
	model.RunStateWriting:     {model.RunStateFetchingPage, model.RunStateCompleted},
	model.RunStateCompleted:   {model.RunStateDone},
}

// machine tracks and logs the state of one run.
type machine struct {
	state model.RunState
	log   *zap.Logger
	// history records every state entered, in order.
	history []model.RunState
}

func newMachine(log *zap.Logger) *machine {
	return &machine{
		state:   model.RunStateStarting,
		log:     log,
		history: []model.RunState{model.RunStateStarting},
	}
}

// to moves the machine to next, rejecting transitions not in the table.
func (m *machine) to(next model.RunState) error {
	if !canTransition(m.state, next) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", m.state, next)
	}
	m.log.Debug("run state", zap.String("from", string(m.state)), zap.String("to", string(next)))
	m.state = next
	m.history = append(m.history, next)
	return nil
}

func (m *machine) fail() {
	if m.state == model.RunStateFailed || m.state == model.RunStateDone {
		return
	}
	m.log.Debug("run state", zap.String("from", string(m.state)), zap.String("to", string(model.RunStateFailed)))
	m.state = model.RunStateFailed
	m.history = append(m.history, model.RunStateFailed)
}

func canTransition(from, to model.RunState) bool {
	if to == model.RunStateFailed {
		return from != model.RunStateDone && from != model.RunStateFailed
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
