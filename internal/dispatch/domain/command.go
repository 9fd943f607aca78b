// Package dispatch holds the domain model for device command dispatch: the
// command entity, its lifecycle state machine, and the retry/expiry policy.
package dispatch

import (
	"errors"
	"time"
)

// State of a command in its lifecycle.
type State string

const (
	StateCreated             State = "created"
	StateSent                State = "sent"
	StateAcknowledged        State = "acknowledged"
	StateDeviceReportedError State = "device_reported_error"
	StateTimedOut            State = "timed_out"
	StateAbandoned           State = "abandoned"
)

// Well-known command types of the push protocol. The vocabulary is open:
// operator-supplied types outside this list are dispatched verbatim.
const (
	TypeData      = "DATA"
	TypeCheck     = "CHECK"
	TypeClearLog  = "CLEAR LOG"
	TypeReboot    = "REBOOT"
	TypeInfo      = "INFO"
	TypeSetOption = "SET OPTION"
	TypeEnrollFP  = "ENROLL_FP"
	TypeUnlock    = "AC_UNLOCK"
)

var (
	ErrTerminalState     = errors.New("dispatch: command is in a terminal state")
	ErrInvalidTransition = errors.New("dispatch: invalid state transition")
)

// Command is a unit of work issued to one device. A command belongs to
// exactly one device session for its whole lifetime and its ID is unique
// within that device's queue.
type Command struct {
	DeviceSN    string     `json:"device_sn"`
	ID          uint64     `json:"id"`
	Type        string     `json:"type"`
	Payload     string     `json:"payload,omitempty"`
	State       State      `json:"state"`
	CreatedAt   time.Time  `json:"created_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
	Attempts    int        `json:"attempts"`
	ReturnCode  *int       `json:"return_code,omitempty"`
	LastReplyAt *time.Time `json:"last_reply_at,omitempty"`
}

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool {
	switch s {
	case StateAcknowledged, StateDeviceReportedError, StateTimedOut, StateAbandoned:
		return true
	}
	return false
}

// MarkSent transitions Created -> Sent. Attempts count actual transmissions,
// so this is the only place they increase.
func (c *Command) MarkSent(now time.Time) error {
	if c.State.Terminal() {
		return ErrTerminalState
	}
	if c.State != StateCreated {
		return ErrInvalidTransition
	}
	c.State = StateSent
	sent := now
	c.SentAt = &sent
	c.Attempts++
	return nil
}

// ApplyReply resolves a Sent command from a device reply. Duplicate replies
// for terminal commands are accepted idempotently: LastReplyAt is refreshed
// for logging but state and result are untouched.
func (c *Command) ApplyReply(returnCode *int, successCodes []int, now time.Time) (State, error) {
	reply := now
	if c.State.Terminal() {
		c.LastReplyAt = &reply
		return c.State, nil
	}
	if c.State != StateSent && c.State != StateCreated {
		return c.State, ErrInvalidTransition
	}
	c.LastReplyAt = &reply
	c.ReturnCode = returnCode
	if isSuccess(returnCode, successCodes) {
		c.State = StateAcknowledged
	} else {
		c.State = StateDeviceReportedError
	}
	return c.State, nil
}

// Requeue transitions Sent -> Created for re-delivery on the next poll.
func (c *Command) Requeue() error {
	if c.State.Terminal() {
		return ErrTerminalState
	}
	if c.State != StateSent {
		return ErrInvalidTransition
	}
	c.State = StateCreated
	return nil
}

// Expire transitions a non-terminal command to TimedOut.
func (c *Command) Expire() error {
	if c.State.Terminal() {
		return ErrTerminalState
	}
	c.State = StateTimedOut
	return nil
}

// Abandon transitions a non-terminal command to Abandoned after the retry
// budget is exhausted.
func (c *Command) Abandon() error {
	if c.State.Terminal() {
		return ErrTerminalState
	}
	c.State = StateAbandoned
	return nil
}

func isSuccess(returnCode *int, successCodes []int) bool {
	if returnCode == nil {
		// Some firmware omits Return on success acknowledgments.
		return true
	}
	if len(successCodes) == 0 {
		return *returnCode == 0
	}
	for _, code := range successCodes {
		if *returnCode == code {
			return true
		}
	}
	return false
}
