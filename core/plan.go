package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ResponseAction is the enumeration of mitigating actions a response plan
// can order. Network dispositions share the FirewallDecision domain; the
// remainder are host or system level actions.
type ResponseAction string

const (
	ActionMonitor              ResponseAction = "monitor"
	ActionAlert                ResponseAction = "alert"
	ActionBlockIP              ResponseAction = "block_ip"
	ActionBlockPort            ResponseAction = "block_port"
	ActionRateLimit            ResponseAction = "rate_limit"
	ActionQuarantine           ResponseAction = "quarantine"
	ActionRedirectToHoneypot   ResponseAction = "redirect_to_honeypot"
	ActionIsolateSystem        ResponseAction = "isolate_system"
	ActionActiveCountermeasure ResponseAction = "active_countermeasure"
	ActionEmergencyShutdown    ResponseAction = "emergency_shutdown"
)

// String returns the string representation
func (a ResponseAction) String() string {
	return string(a)
}

// IsValid checks if the action is a known value
func (a ResponseAction) IsValid() bool {
	switch a {
	case ActionMonitor, ActionAlert, ActionBlockIP, ActionBlockPort,
		ActionRateLimit, ActionQuarantine, ActionRedirectToHoneypot,
		ActionIsolateSystem, ActionActiveCountermeasure, ActionEmergencyShutdown:
		return true
	default:
		return false
	}
}

// PlanStatus is the execution state of a response plan
type PlanStatus string

const (
	PlanCreated    PlanStatus = "created"
	PlanInProgress PlanStatus = "in_progress"
	PlanCompleted  PlanStatus = "completed"
	PlanFailed     PlanStatus = "failed"
	PlanTimedOut   PlanStatus = "timed_out"
	PlanCancelled  PlanStatus = "cancelled"
)

// String returns the string representation
func (s PlanStatus) String() string {
	return string(s)
}

// IsTerminal reports whether the status admits no further transitions
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanTimedOut, PlanCancelled:
		return true
	default:
		return false
	}
}

// FailureReason captures which action failed and why
type FailureReason struct {
	Action ResponseAction `json:"action"`
	Detail string         `json:"detail"`
}

// ResponsePlan is the ordered set of mitigating actions answering one threat
// event, plus its execution lifecycle. The identity fields are immutable
// after creation; status transitions go through the lifecycle methods and
// are guarded by the per-plan mutex.
type ResponsePlan struct {
	ID          string           `json:"id"`
	ThreatEvent ThreatEvent      `json:"threat_event"`
	Actions     []ResponseAction `json:"actions"`
	Priority    int              `json:"priority"`
	CreatedAt   time.Time        `json:"created_at"`
	Timeout     time.Duration    `json:"timeout"`

	mu        sync.Mutex
	status    PlanStatus
	failure   *FailureReason
	startedAt time.Time
	endedAt   time.Time
}

// NewResponsePlan creates a plan in the Created state
func NewResponsePlan(event ThreatEvent, actions []ResponseAction, priority int, timeout time.Duration) *ResponsePlan {
	return &ResponsePlan{
		ID:          "plan-" + uuid.NewString(),
		ThreatEvent: event,
		Actions:     actions,
		Priority:    priority,
		CreatedAt:   time.Now().UTC(),
		Timeout:     timeout,
		status:      PlanCreated,
	}
}

// Status returns the current lifecycle status
func (p *ResponsePlan) Status() PlanStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Failure returns the recorded failure reason, or nil
func (p *ResponsePlan) Failure() *FailureReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure == nil {
		return nil
	}
	f := *p.failure
	return &f
}

// StartedAt returns when execution began, zero if never started
func (p *ResponsePlan) StartedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startedAt
}

// EndedAt returns when the plan reached a terminal status, zero if live
func (p *ResponsePlan) EndedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endedAt
}

// Begin transitions Created → InProgress. A second Begin on the same plan is
// rejected, which is what makes double-execution impossible.
func (p *ResponsePlan) Begin() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != PlanCreated {
		return InvalidTransitionError(p.status, PlanInProgress)
	}
	p.status = PlanInProgress
	p.startedAt = time.Now().UTC()
	return nil
}

// Complete transitions InProgress → Completed
func (p *ResponsePlan) Complete() error {
	return p.finish(PlanInProgress, PlanCompleted, nil)
}

// Fail transitions InProgress → Failed recording which action failed and why
func (p *ResponsePlan) Fail(action ResponseAction, detail string) error {
	return p.finish(PlanInProgress, PlanFailed, &FailureReason{Action: action, Detail: detail})
}

// Expire transitions InProgress → TimedOut
func (p *ResponsePlan) Expire() error {
	return p.finish(PlanInProgress, PlanTimedOut, nil)
}

// Cancel transitions Created or InProgress → Cancelled. Cancelling a
// terminal plan is rejected, not silently ignored.
func (p *ResponsePlan) Cancel() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != PlanCreated && p.status != PlanInProgress {
		return InvalidTransitionError(p.status, PlanCancelled)
	}
	p.status = PlanCancelled
	p.endedAt = time.Now().UTC()
	return nil
}

// MergeMetadata folds key/value pairs into the plan's threat-event
// metadata. Used to attach asynchronously arriving context, honeypot
// telemetry in particular, to an already submitted threat.
func (p *ResponsePlan) MergeMetadata(kv map[string]string) {
	if len(kv) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ThreatEvent.Metadata == nil {
		p.ThreatEvent.Metadata = make(map[string]string, len(kv))
	}
	for k, v := range kv {
		p.ThreatEvent.Metadata[k] = v
	}
}

func (p *ResponsePlan) finish(from, to PlanStatus, failure *FailureReason) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.status != from {
		return InvalidTransitionError(p.status, to)
	}
	p.status = to
	p.failure = failure
	p.endedAt = time.Now().UTC()
	return nil
}

// PlanSnapshot is an immutable copy of a plan's externally visible state,
// safe to serialize while the plan is still executing
type PlanSnapshot struct {
	ID          string           `json:"id"`
	ThreatEvent ThreatEvent      `json:"threat_event"`
	Actions     []ResponseAction `json:"actions"`
	Priority    int              `json:"priority"`
	CreatedAt   time.Time        `json:"created_at"`
	Timeout     time.Duration    `json:"timeout"`
	Status      PlanStatus       `json:"status"`
	Failure     *FailureReason   `json:"failure,omitempty"`
	StartedAt   time.Time        `json:"started_at,omitempty"`
	EndedAt     time.Time        `json:"ended_at,omitempty"`
}

// Snapshot copies the plan's current state
func (p *ResponsePlan) Snapshot() PlanSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	actions := make([]ResponseAction, len(p.Actions))
	copy(actions, p.Actions)

	// Metadata may keep growing via MergeMetadata; the snapshot must not
	// share the map
	event := p.ThreatEvent
	if len(event.Metadata) > 0 {
		md := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			md[k] = v
		}
		event.Metadata = md
	}

	var failure *FailureReason
	if p.failure != nil {
		f := *p.failure
		failure = &f
	}

	return PlanSnapshot{
		ID:          p.ID,
		ThreatEvent: event,
		Actions:     actions,
		Priority:    p.Priority,
		CreatedAt:   p.CreatedAt,
		Timeout:     p.Timeout,
		Status:      p.status,
		Failure:     failure,
		StartedAt:   p.startedAt,
		EndedAt:     p.endedAt,
	}
}
