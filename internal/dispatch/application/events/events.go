package events

import "time"

// CommandIssued is emitted when an operator enqueues a command.
type CommandIssued struct {
	EventID     string    `json:"event_id"`
	DeviceSN    string    `json:"device_sn"`
	CommandID   uint64    `json:"command_id"`
	CommandType string    `json:"command_type"`
	Payload     string    `json:"payload,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CommandSent is emitted when a poll delivers a command to its device.
type CommandSent struct {
	EventID     string    `json:"event_id"`
	DeviceSN    string    `json:"device_sn"`
	CommandID   uint64    `json:"command_id"`
	CommandType string    `json:"command_type"`
	Attempt     int       `json:"attempt"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// CommandAcked is emitted when a device reports success for a command.
type CommandAcked struct {
	EventID    string    `json:"event_id"`
	DeviceSN   string    `json:"device_sn"`
	CommandID  uint64    `json:"command_id"`
	ReturnCode *int      `json:"return_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CommandFailed is emitted when a device reports a non-success return code.
type CommandFailed struct {
	EventID    string    `json:"event_id"`
	DeviceSN   string    `json:"device_sn"`
	CommandID  uint64    `json:"command_id"`
	ReturnCode *int      `json:"return_code,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CommandExpired is emitted when a command outlives its time-to-live
// without a conclusive reply.
type CommandExpired struct {
	EventID    string    `json:"event_id"`
	DeviceSN   string    `json:"device_sn"`
	CommandID  uint64    `json:"command_id"`
	Attempts   int       `json:"attempts"`
	OccurredAt time.Time `json:"occurred_at"`
}

// CommandAbandoned is emitted when the retry budget for a command is
// exhausted before any reply arrived.
type CommandAbandoned struct {
	EventID    string    `json:"event_id"`
	DeviceSN   string    `json:"device_sn"`
	CommandID  uint64    `json:"command_id"`
	Attempts   int       `json:"attempts"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ReplyReceived is emitted for every well-formed reply line, including
// duplicates and replies naming a command id this server never issued.
type ReplyReceived struct {
	EventID    string    `json:"event_id"`
	DeviceSN   string    `json:"device_sn"`
	CommandID  uint64    `json:"command_id"`
	CMD        string    `json:"cmd"`
	ReturnCode *int      `json:"return_code,omitempty"`
	Known      bool      `json:"known"`
	Duplicate  bool      `json:"duplicate"`
	OccurredAt time.Time `json:"occurred_at"`
}
