// Package pump implements the bounded FIFO message pump that drives
// in-process inter-agent delivery.
//
// Because agents are in-process, "delivery" is an ordinary function call
// carrying structured metadata; message_history exists for observability,
// not for delivery guarantees.
package pump

import "tripctl/internal/state"

// Recipient is anything that can receive a message and optionally reply.
type Recipient interface {
	ReceiveMessage(msg state.Message) (*state.Message, error)
}

// Registry resolves an agent id to a Recipient. A missing recipient is a
// no-op, per spec.
type Registry interface {
	Lookup(agentID string) (Recipient, bool)
}

// Enqueue appends msg to both the pending queue and the append-only history.
func Enqueue(s *state.State, msg state.Message) {
	s.MessageQueue = append(s.MessageQueue, msg)
	s.MessageHistory = append(s.MessageHistory, msg)
}

// Deliver routes msg to its recipient. A raised error sets the recipient's
// status to error and stops the chain; a missing recipient is a no-op.
func Deliver(s *state.State, reg Registry, msg state.Message) {
	agent, ok := reg.Lookup(msg.Recipient)
	if !ok {
		return
	}
	reply, err := agent.ReceiveMessage(msg)
	if err != nil {
		s.SetError(msg.Recipient, "message delivery failed: "+err.Error())
		return
	}
	if reply != nil {
		s.MessageHistory = append(s.MessageHistory, *reply)
		s.MessageQueue = append(s.MessageQueue, *reply)
	}
}

// Drain pops and delivers up to maxSteps pending messages, then returns.
// This is the pump's sole backpressure mechanism: no stage may drain more
// than maxSteps messages in one call, preventing runaway cascades.
func Drain(s *state.State, reg Registry, maxSteps int) {
	steps := 0
	for len(s.MessageQueue) > 0 && steps < maxSteps {
		msg := s.MessageQueue[0]
		s.MessageQueue = s.MessageQueue[1:]
		Deliver(s, reg, msg)
		steps++
	}
}
