// Package honeynet manages virtual deception environments: disposable
// systems an attacker can be redirected into, observed, and profiled
// without touching real infrastructure.
package honeynet

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"icarus/core"
	"icarus/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EnvironmentType selects the service profile a virtual environment fakes
type EnvironmentType string

const (
	EnvWebServer        EnvironmentType = "web_server"
	EnvDatabase         EnvironmentType = "database"
	EnvFileServer       EnvironmentType = "file_server"
	EnvDomainController EnvironmentType = "domain_controller"
	EnvWorkstation      EnvironmentType = "workstation"
	EnvIoT              EnvironmentType = "iot"
)

// EnvironmentState is the lifecycle state of a virtual environment
type EnvironmentState string

const (
	EnvReady      EnvironmentState = "ready"
	EnvActive     EnvironmentState = "active"
	EnvTerminated EnvironmentState = "terminated"
)

// Environment is one virtual deception system. Mutable fields are guarded
// by the manager's lock; callers only ever see copies.
type Environment struct {
	ID              string            `json:"id"`
	Type            EnvironmentType   `json:"type"`
	State           EnvironmentState  `json:"state"`
	CreatedAt       time.Time         `json:"created_at"`
	LastActivity    time.Time         `json:"last_activity"`
	VirtualIP       string            `json:"virtual_ip"`
	ExposedServices []string          `json:"exposed_services"`
	AttackerData    map[string]string `json:"attacker_data"`
}

// AttackEvent is one observed attacker action inside an environment
type AttackEvent struct {
	ID            string            `json:"id"`
	EnvironmentID string            `json:"environment_id"`
	AttackType    string            `json:"attack_type"`
	Source        string            `json:"source"`
	Timestamp     time.Time         `json:"timestamp"`
	Data          map[string]string `json:"data"`
}

// serviceProfiles maps environment types to the services they pretend to
// expose
var serviceProfiles = map[EnvironmentType][]string{
	EnvWebServer:        {"http", "https", "ssh"},
	EnvDatabase:         {"mysql", "postgresql", "ssh"},
	EnvFileServer:       {"smb", "ftp", "ssh"},
	EnvDomainController: {"ldap", "kerberos", "smb"},
	EnvWorkstation:      {"rdp", "smb"},
	EnvIoT:              {"telnet", "http"},
}

// Config bounds the honeynet
type Config struct {
	MaxEnvironments int
	// SessionTTL is how long an activated environment may stay idle before
	// the reaper terminates it
	SessionTTL time.Duration
	// TelemetryBuffer sizes the attack-event channel; records are dropped
	// when the consumer falls behind
	TelemetryBuffer int
}

// DefaultConfig mirrors the reference system's defaults
func DefaultConfig() Config {
	return Config{
		MaxEnvironments: 50,
		SessionTTL:      time.Hour,
		TelemetryBuffer: 256,
	}
}

// Manager owns the set of live virtual environments. Attack telemetry is
// published on a buffered channel consumed by the response layer, which
// folds it into threat metadata.
type Manager struct {
	cfg       Config
	state     *core.StateManager
	mu        sync.Mutex
	envs      map[string]*Environment
	telemetry chan AttackEvent
	// closed is guarded by mu; once set the telemetry channel is closed and
	// no further sends may happen
	closed  bool
	created uint64
	attacks uint64
	logger  *zap.SugaredLogger
}

// NewManager creates a honeynet manager in the Initializing state
func NewManager(cfg Config, logger *zap.SugaredLogger) *Manager {
	if cfg.MaxEnvironments <= 0 {
		cfg.MaxEnvironments = DefaultConfig().MaxEnvironments
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultConfig().SessionTTL
	}
	if cfg.TelemetryBuffer <= 0 {
		cfg.TelemetryBuffer = DefaultConfig().TelemetryBuffer
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Manager{
		cfg:       cfg,
		state:     core.NewStateManager(),
		envs:      make(map[string]*Environment),
		telemetry: make(chan AttackEvent, cfg.TelemetryBuffer),
		logger:    logger,
	}
}

// Start moves the manager to Operational
func (m *Manager) Start() {
	m.state.Set(core.StateOperational)
	m.logger.Infow("Honeynet operational", "max_environments", m.cfg.MaxEnvironments)
}

// Stop terminates every environment and closes the telemetry channel. The
// close happens under the same lock that guards publishing, so an in-flight
// RecordAttackEvent can never send on the closed channel.
func (m *Manager) Stop() {
	m.state.Set(core.StateShutdown)

	m.mu.Lock()
	for _, env := range m.envs {
		env.State = EnvTerminated
	}
	m.envs = make(map[string]*Environment)
	if !m.closed {
		m.closed = true
		close(m.telemetry)
	}
	m.mu.Unlock()

	metrics.HoneynetEnvironments.Set(0)
}

// State returns the manager's lifecycle state manager
func (m *Manager) State() *core.StateManager {
	return m.state
}

// Telemetry returns the attack-event stream. The channel closes on Stop.
func (m *Manager) Telemetry() <-chan AttackEvent {
	return m.telemetry
}

// Create provisions a new virtual environment of the given type and
// returns a copy of it in the Ready state
func (m *Manager) Create(envType EnvironmentType) (Environment, error) {
	if err := m.state.RequireOperational(); err != nil {
		return Environment{}, err
	}

	services, ok := serviceProfiles[envType]
	if !ok {
		return Environment{}, &core.Error{
			Kind:   core.ErrKindValidation,
			Detail: fmt.Sprintf("unknown environment type %q", envType),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.envs) >= m.cfg.MaxEnvironments {
		return Environment{}, &core.Error{
			Kind:   core.ErrKindCapacityExceeded,
			Detail: fmt.Sprintf("environment limit reached (%d)", m.cfg.MaxEnvironments),
		}
	}

	now := time.Now().UTC()
	env := &Environment{
		ID:              "env-" + uuid.NewString(),
		Type:            envType,
		State:           EnvReady,
		CreatedAt:       now,
		LastActivity:    now,
		VirtualIP:       fmt.Sprintf("10.66.%d.%d", rand.Intn(256), 1+rand.Intn(254)),
		ExposedServices: append([]string(nil), services...),
		AttackerData:    make(map[string]string),
	}
	m.envs[env.ID] = env
	m.created++
	metrics.HoneynetEnvironments.Set(float64(len(m.envs)))

	m.logger.Infow("Virtual environment created",
		"environment_id", env.ID,
		"type", string(envType),
		"virtual_ip", env.VirtualIP)
	return *env, nil
}

// Activate binds an attacker source to a Ready environment and begins the
// observation session
func (m *Manager) Activate(envID, attackerSource string) error {
	if err := m.state.RequireOperational(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	env, ok := m.envs[envID]
	if !ok {
		return &core.Error{Kind: core.ErrKindNotFound, Detail: "environment " + envID}
	}
	if env.State != EnvReady {
		return &core.Error{
			Kind:   core.ErrKindInvalidTransition,
			Detail: fmt.Sprintf("environment %s is %s, want ready", envID, env.State),
		}
	}

	env.State = EnvActive
	env.LastActivity = time.Now().UTC()
	env.AttackerData["source"] = attackerSource
	env.AttackerData["activated_at"] = env.LastActivity.Format(time.RFC3339)

	m.logger.Infow("Attacker redirected into virtual environment",
		"environment_id", envID,
		"source", attackerSource)
	return nil
}

// RecordAttackEvent logs one attacker action inside an Active environment
// and publishes it on the telemetry stream
func (m *Manager) RecordAttackEvent(envID, attackType string, data map[string]string) (AttackEvent, error) {
	if err := m.state.RequireOperational(); err != nil {
		return AttackEvent{}, err
	}

	m.mu.Lock()
	env, ok := m.envs[envID]
	if !ok {
		m.mu.Unlock()
		return AttackEvent{}, &core.Error{Kind: core.ErrKindNotFound, Detail: "environment " + envID}
	}
	if env.State != EnvActive {
		state := env.State
		m.mu.Unlock()
		return AttackEvent{}, &core.Error{
			Kind:   core.ErrKindInvalidTransition,
			Detail: fmt.Sprintf("environment %s is %s, want active", envID, state),
		}
	}
	env.LastActivity = time.Now().UTC()
	source := env.AttackerData["source"]
	m.attacks++

	event := AttackEvent{
		ID:            "attack-" + uuid.NewString(),
		EnvironmentID: envID,
		AttackType:    attackType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}

	// The closed check and the send stay under mu; Stop closes the channel
	// under the same lock. The send is non-blocking, so holding the lock
	// here never stalls on a slow consumer.
	dropped := false
	if !m.closed {
		select {
		case m.telemetry <- event:
		default:
			dropped = true
		}
	}
	m.mu.Unlock()

	if dropped {
		m.logger.Warnw("Telemetry buffer full, dropping attack event",
			"environment_id", envID,
			"attack_type", attackType)
	}
	return event, nil
}

// Terminate tears down an environment and releases its slot
func (m *Manager) Terminate(envID string) error {
	if err := m.state.RequireOperational(core.StateDegraded); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	env, ok := m.envs[envID]
	if !ok {
		return &core.Error{Kind: core.ErrKindNotFound, Detail: "environment " + envID}
	}
	env.State = EnvTerminated
	delete(m.envs, envID)
	metrics.HoneynetEnvironments.Set(float64(len(m.envs)))

	m.logger.Infow("Virtual environment terminated", "environment_id", envID)
	return nil
}

// ReapIdle terminates activated environments idle past the session TTL and
// returns how many were reaped
func (m *Manager) ReapIdle() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().UTC().Add(-m.cfg.SessionTTL)
	reaped := 0
	for id, env := range m.envs {
		if env.State == EnvActive && env.LastActivity.Before(cutoff) {
			env.State = EnvTerminated
			delete(m.envs, id)
			reaped++
			m.logger.Infow("Idle virtual environment reaped", "environment_id", id)
		}
	}
	if reaped > 0 {
		metrics.HoneynetEnvironments.Set(float64(len(m.envs)))
	}
	return reaped
}

// Environments returns copies of all live environments
func (m *Manager) Environments() []Environment {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Environment, 0, len(m.envs))
	for _, env := range m.envs {
		e := *env
		e.ExposedServices = append([]string(nil), env.ExposedServices...)
		e.AttackerData = make(map[string]string, len(env.AttackerData))
		for k, v := range env.AttackerData {
			e.AttackerData[k] = v
		}
		out = append(out, e)
	}
	return out
}

// Stats summarizes honeynet activity
type Stats struct {
	EnvironmentsCreated uint64 `json:"environments_created"`
	ActiveEnvironments  int    `json:"active_environments"`
	AttacksRecorded     uint64 `json:"attacks_recorded"`
}

// Snapshot returns the current honeynet statistics
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{
		EnvironmentsCreated: m.created,
		ActiveEnvironments:  len(m.envs),
		AttacksRecorded:     m.attacks,
	}
}
