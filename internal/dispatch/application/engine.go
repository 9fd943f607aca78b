// Package application implements the dispatch engine: per-device command
// queues, session tracking, reply correlation, and the retry/expiry sweep.
package application

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	dispatchevents "terminal-cloud/internal/dispatch/application/events"
	dispatch "terminal-cloud/internal/dispatch/domain"
	"terminal-cloud/internal/eventing"
	"terminal-cloud/internal/observability/metrics"
	"terminal-cloud/internal/wire"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

var (
	ErrEmptySerial   = errors.New("dispatch: device serial required")
	ErrEmptyType     = errors.New("dispatch: command type required")
	ErrUnknownDevice = errors.New("dispatch: unknown device")
)

// session is the unit of isolation: one per device serial, guarded by its
// own mutex so a slow device never blocks the rest of the fleet.
type session struct {
	mu       sync.Mutex
	sn       string
	nextID   uint64
	commands map[uint64]*dispatch.Command
	order    []uint64
	lastSeen time.Time
	lastPoll time.Time
	addr     string
	info     *dispatch.Info
}

// DeviceStatus is a read-only view of one tracked device.
type DeviceStatus struct {
	SN         string         `json:"sn"`
	LastSeenAt time.Time      `json:"last_seen_at"`
	LastPollAt time.Time      `json:"last_poll_at,omitempty"`
	Addr       string         `json:"addr,omitempty"`
	Pending    int            `json:"pending"`
	Info       *dispatch.Info `json:"info,omitempty"`
}

// DeviceSnapshot captures one session for checkpointing.
type DeviceSnapshot struct {
	SN         string             `json:"sn"`
	NextID     uint64             `json:"next_id"`
	LastSeenAt time.Time          `json:"last_seen_at"`
	LastPollAt time.Time          `json:"last_poll_at"`
	Addr       string             `json:"addr,omitempty"`
	Info       *dispatch.Info     `json:"info,omitempty"`
	Commands   []dispatch.Command `json:"commands"`
}

// ReplyOutcome summarizes how one reply body was absorbed.
type ReplyOutcome struct {
	Accepted  int
	Duplicate int
	Unknown   int
	Malformed int
}

// Engine owns all device sessions. The sessions map is guarded by mu;
// each session has its own lock and no operation ever holds two at once.
type Engine struct {
	mu       sync.RWMutex
	sessions map[string]*session

	policies  dispatch.Config
	publisher *eventing.Publisher
	logger    *log.Logger
	clock     Clock
}

// NewEngine constructs a dispatch engine.
func NewEngine(policies dispatch.Config, publisher *eventing.Publisher, logger *log.Logger) (*Engine, error) {
	if publisher == nil {
		return nil, errors.New("dispatch: nil publisher")
	}
	if logger == nil {
		return nil, errors.New("dispatch: nil logger")
	}
	return &Engine{
		sessions:  make(map[string]*session),
		policies:  policies,
		publisher: publisher,
		logger:    logger,
		clock:     realClock{},
	}, nil
}

// WithClock swaps the engine clock. Test hook.
func (e *Engine) WithClock(clock Clock) *Engine {
	e.clock = clock
	return e
}

func (e *Engine) session(sn string) *session {
	e.mu.RLock()
	s, ok := e.sessions[sn]
	e.mu.RUnlock()
	if ok {
		return s
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok = e.sessions[sn]; ok {
		return s
	}
	s = &session{
		sn:       sn,
		nextID:   1,
		commands: make(map[uint64]*dispatch.Command),
	}
	e.sessions[sn] = s
	metrics.SetTrackedDevices(len(e.sessions))
	return s
}

func (e *Engine) lookup(sn string) (*session, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[sn]
	return s, ok
}

// Enqueue appends a command to the device's queue in Created state and
// returns a copy of it. IDs are allocated per device, monotonically.
func (e *Engine) Enqueue(ctx context.Context, sn, cmdType, payload string) (dispatch.Command, error) {
	return e.EnqueueTTL(ctx, sn, cmdType, payload, 0)
}

// EnqueueTTL is Enqueue with an explicit time-to-live. A non-positive ttl
// falls back to the command type's policy.
func (e *Engine) EnqueueTTL(ctx context.Context, sn, cmdType, payload string, ttl time.Duration) (dispatch.Command, error) {
	if sn == "" {
		return dispatch.Command{}, ErrEmptySerial
	}
	if cmdType == "" {
		return dispatch.Command{}, ErrEmptyType
	}
	policy := e.policies.PolicyFor(cmdType)
	if ttl > 0 {
		policy.TTL = ttl
	}
	now := e.clock.Now()

	s := e.session(sn)
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	cmd := &dispatch.Command{
		DeviceSN:  sn,
		ID:        id,
		Type:      cmdType,
		Payload:   payload,
		State:     dispatch.StateCreated,
		CreatedAt: now,
		ExpiresAt: now.Add(policy.TTL),
	}
	s.commands[id] = cmd
	s.order = append(s.order, id)
	out := *cmd
	s.mu.Unlock()

	metrics.IncCommandIssued()
	e.publish(ctx, dispatchevents.CommandIssued{
		EventID:     eventing.NewEventID(),
		DeviceSN:    sn,
		CommandID:   id,
		CommandType: cmdType,
		Payload:     payload,
		OccurredAt:  now,
	})
	e.logger.Printf("dispatch: enqueued %s id=%d sn=%s", cmdType, id, sn)
	return out, nil
}

// Poll records device liveness and drains every pending command, oldest
// first, transitioning each to Sent. A device with nothing queued gets an
// empty batch.
func (e *Engine) Poll(ctx context.Context, sn, rawInfo string) ([]wire.CommandLine, error) {
	if sn == "" {
		return nil, ErrEmptySerial
	}
	now := e.clock.Now()

	s := e.session(sn)
	s.mu.Lock()
	s.lastSeen = now
	s.lastPoll = now
	if info := dispatch.ParseInfo(rawInfo); info != nil {
		s.info = info
	}
	var batch []wire.CommandLine
	var sent []dispatchevents.CommandSent
	for _, id := range s.order {
		cmd := s.commands[id]
		if cmd.State != dispatch.StateCreated {
			continue
		}
		if err := cmd.MarkSent(now); err != nil {
			continue
		}
		batch = append(batch, wire.CommandLine{ID: cmd.ID, Type: cmd.Type, Payload: cmd.Payload})
		sent = append(sent, dispatchevents.CommandSent{
			EventID:     eventing.NewEventID(),
			DeviceSN:    sn,
			CommandID:   cmd.ID,
			CommandType: cmd.Type,
			Attempt:     cmd.Attempts,
			OccurredAt:  now,
		})
	}
	s.mu.Unlock()

	for _, event := range sent {
		e.publish(ctx, event)
	}
	return batch, nil
}

// ObserveAddr records the remote address a device last connected from.
func (e *Engine) ObserveAddr(sn, addr string) {
	if sn == "" || addr == "" {
		return
	}
	s := e.session(sn)
	s.mu.Lock()
	s.addr = addr
	s.mu.Unlock()
}

// ApplyReplies correlates decoded reply records against the device's
// queue. Records naming ids this server never issued, and duplicates of
// already-resolved commands, are counted and streamed but mutate nothing.
func (e *Engine) ApplyReplies(ctx context.Context, sn string, records []wire.ReplyRecord) (ReplyOutcome, error) {
	if sn == "" {
		return ReplyOutcome{}, ErrEmptySerial
	}
	now := e.clock.Now()
	var outcome ReplyOutcome
	var pending []any

	s := e.session(sn)
	s.mu.Lock()
	s.lastSeen = now
	for _, rec := range records {
		reply := dispatchevents.ReplyReceived{
			EventID:    eventing.NewEventID(),
			DeviceSN:   sn,
			CommandID:  rec.ID,
			CMD:        rec.CMD,
			ReturnCode: rec.Return,
			OccurredAt: now,
		}
		cmd, ok := s.commands[rec.ID]
		if !ok {
			outcome.Unknown++
			pending = append(pending, reply)
			continue
		}
		reply.Known = true
		if cmd.State.Terminal() {
			cmd.ApplyReply(rec.Return, nil, now)
			outcome.Duplicate++
			reply.Duplicate = true
			pending = append(pending, reply)
			continue
		}
		policy := e.policies.PolicyFor(cmd.Type)
		state, err := cmd.ApplyReply(rec.Return, policy.SuccessCodes, now)
		if err != nil {
			outcome.Unknown++
			pending = append(pending, reply)
			continue
		}
		outcome.Accepted++
		pending = append(pending, reply)
		switch state {
		case dispatch.StateAcknowledged:
			pending = append(pending, dispatchevents.CommandAcked{
				EventID:    eventing.NewEventID(),
				DeviceSN:   sn,
				CommandID:  cmd.ID,
				ReturnCode: rec.Return,
				OccurredAt: now,
			})
		case dispatch.StateDeviceReportedError:
			pending = append(pending, dispatchevents.CommandFailed{
				EventID:    eventing.NewEventID(),
				DeviceSN:   sn,
				CommandID:  cmd.ID,
				ReturnCode: rec.Return,
				OccurredAt: now,
			})
		}
	}
	s.mu.Unlock()

	for _, event := range pending {
		switch ev := event.(type) {
		case dispatchevents.ReplyReceived:
			switch {
			case !ev.Known:
				metrics.IncReplyLine(metrics.ReplyUnknownID)
			case ev.Duplicate:
				metrics.IncReplyLine(metrics.ReplyDuplicate)
			case ev.ReturnCode != nil && *ev.ReturnCode != 0:
				metrics.IncReplyLine(metrics.ReplyDeviceFail)
			default:
				metrics.IncReplyLine(metrics.ReplyAccepted)
			}
		case dispatchevents.CommandAcked:
			metrics.IncCommandResult(string(dispatch.StateAcknowledged))
		case dispatchevents.CommandFailed:
			metrics.IncCommandResult(string(dispatch.StateDeviceReportedError))
		}
		e.publish(ctx, event)
	}
	return outcome, nil
}

// Sweep advances overdue commands: past their time-to-live they time out;
// past the per-attempt reply window they are re-offered or, once the
// attempt budget is spent, abandoned. Returns the number of commands
// moved to a terminal state.
func (e *Engine) Sweep(ctx context.Context, now time.Time) int {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	var resolved int
	var pendingTotal int
	var toPublish []any
	for _, s := range sessions {
		s.mu.Lock()
		for _, id := range s.order {
			cmd := s.commands[id]
			if cmd.State.Terminal() {
				continue
			}
			if !now.Before(cmd.ExpiresAt) {
				if err := cmd.Expire(); err == nil {
					resolved++
					toPublish = append(toPublish, dispatchevents.CommandExpired{
						EventID:    eventing.NewEventID(),
						DeviceSN:   s.sn,
						CommandID:  cmd.ID,
						Attempts:   cmd.Attempts,
						OccurredAt: now,
					})
				}
				continue
			}
			if cmd.State != dispatch.StateSent || cmd.SentAt == nil {
				pendingTotal++
				continue
			}
			policy := e.policies.PolicyFor(cmd.Type)
			if now.Before(cmd.SentAt.Add(policy.ReplyTimeout)) {
				pendingTotal++
				continue
			}
			if cmd.Attempts >= policy.MaxAttempts {
				if err := cmd.Abandon(); err == nil {
					resolved++
					toPublish = append(toPublish, dispatchevents.CommandAbandoned{
						EventID:    eventing.NewEventID(),
						DeviceSN:   s.sn,
						CommandID:  cmd.ID,
						Attempts:   cmd.Attempts,
						OccurredAt: now,
					})
				}
				continue
			}
			if err := cmd.Requeue(); err == nil {
				pendingTotal++
				e.logger.Printf("dispatch: re-offering id=%d sn=%s attempt=%d", cmd.ID, s.sn, cmd.Attempts)
			}
		}
		s.mu.Unlock()
	}

	for _, event := range toPublish {
		switch event.(type) {
		case dispatchevents.CommandExpired:
			metrics.IncCommandResult(string(dispatch.StateTimedOut))
		case dispatchevents.CommandAbandoned:
			metrics.IncCommandResult(string(dispatch.StateAbandoned))
		}
		e.publish(ctx, event)
	}
	metrics.SetPendingCommands(pendingTotal)
	return resolved
}

// Status returns the tracked state of one device.
func (e *Engine) Status(sn string) (DeviceStatus, error) {
	s, ok := e.lookup(sn)
	if !ok {
		return DeviceStatus{}, ErrUnknownDevice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return DeviceStatus{
		SN:         s.sn,
		LastSeenAt: s.lastSeen,
		LastPollAt: s.lastPoll,
		Addr:       s.addr,
		Pending:    s.countPendingLocked(),
		Info:       s.info,
	}, nil
}

// Devices lists all tracked devices, ordered by serial.
func (e *Engine) Devices() []DeviceStatus {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	out := make([]DeviceStatus, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		out = append(out, DeviceStatus{
			SN:         s.sn,
			LastSeenAt: s.lastSeen,
			LastPollAt: s.lastPoll,
			Addr:       s.addr,
			Pending:    s.countPendingLocked(),
			Info:       s.info,
		})
		s.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SN < out[j].SN })
	return out
}

// Commands returns copies of a device's commands in issue order.
func (e *Engine) Commands(sn string) ([]dispatch.Command, error) {
	s, ok := e.lookup(sn)
	if !ok {
		return nil, ErrUnknownDevice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]dispatch.Command, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.commands[id])
	}
	return out, nil
}

// Command returns a copy of one command.
func (e *Engine) Command(sn string, id uint64) (dispatch.Command, error) {
	s, ok := e.lookup(sn)
	if !ok {
		return dispatch.Command{}, ErrUnknownDevice
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[id]
	if !ok {
		return dispatch.Command{}, ErrUnknownDevice
	}
	return *cmd, nil
}

// Snapshot captures every session for checkpointing, ordered by serial.
func (e *Engine) Snapshot() []DeviceSnapshot {
	e.mu.RLock()
	sessions := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.RUnlock()

	out := make([]DeviceSnapshot, 0, len(sessions))
	for _, s := range sessions {
		s.mu.Lock()
		snap := DeviceSnapshot{
			SN:         s.sn,
			NextID:     s.nextID,
			LastSeenAt: s.lastSeen,
			LastPollAt: s.lastPoll,
			Addr:       s.addr,
			Info:       s.info,
			Commands:   make([]dispatch.Command, 0, len(s.order)),
		}
		for _, id := range s.order {
			snap.Commands = append(snap.Commands, *s.commands[id])
		}
		s.mu.Unlock()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SN < out[j].SN })
	return out
}

// Restore rebuilds sessions from a checkpoint. Existing sessions for the
// same serial are replaced; call before serving traffic.
func (e *Engine) Restore(snapshots []DeviceSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, snap := range snapshots {
		s := &session{
			sn:       snap.SN,
			nextID:   snap.NextID,
			commands: make(map[uint64]*dispatch.Command, len(snap.Commands)),
			lastSeen: snap.LastSeenAt,
			lastPoll: snap.LastPollAt,
			addr:     snap.Addr,
			info:     snap.Info,
		}
		if s.nextID == 0 {
			s.nextID = 1
		}
		for i := range snap.Commands {
			cmd := snap.Commands[i]
			s.commands[cmd.ID] = &cmd
			s.order = append(s.order, cmd.ID)
			if cmd.ID >= s.nextID {
				s.nextID = cmd.ID + 1
			}
		}
		e.sessions[snap.SN] = s
	}
	metrics.SetTrackedDevices(len(e.sessions))
}

func (s *session) countPendingLocked() int {
	var n int
	for _, cmd := range s.commands {
		if !cmd.State.Terminal() {
			n++
		}
	}
	return n
}

func (e *Engine) publish(ctx context.Context, event any) {
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Printf("dispatch: publish %s error: %v", eventing.EventType(event), err)
	}
}
