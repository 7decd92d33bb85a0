package response

import (
	"context"
	"errors"
	"sync"
	"time"

	"icarus/core"
	"icarus/honeynet"
	"icarus/metrics"
	"icarus/notify"

	"go.uber.org/zap"
)

// Archiver persists terminal plans for later audit. Implementations live
// in the storage package; a nil archiver disables archival.
type Archiver interface {
	ArchivePlan(ctx context.Context, plan core.PlanSnapshot) error
}

// OrchestratorConfig bounds the orchestrator
type OrchestratorConfig struct {
	// MaxLivePlans caps how many non-terminal plans may exist at once
	MaxLivePlans int
	// GracePeriod is how long terminal plans stay queryable before purge
	GracePeriod time.Duration
}

// DefaultOrchestratorConfig mirrors the reference system's defaults
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxLivePlans: 1000,
		GracePeriod:  15 * time.Minute,
	}
}

// Orchestrator maps threat events onto response plans and drives each plan
// through its execution state machine. Exactly one live plan exists per
// threat-event id; re-submitting a threat whose plan is still live returns
// that plan instead of creating a second one.
type Orchestrator struct {
	cfg      OrchestratorConfig
	policy   *Policy
	registry *Registry
	state    *core.StateManager
	stats    *core.StatsAggregator
	sink     notify.EventSink
	archiver Archiver
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	plans        map[string]*core.ResponsePlan // by plan id
	liveByThreat map[string]string             // threat id -> live plan id
	envBindings  map[string]*core.ResponsePlan // honeypot env id -> plan
	purgeAt      map[string]time.Time          // plan id -> purge deadline
}

// NewOrchestrator creates an orchestrator in the Initializing state
func NewOrchestrator(cfg OrchestratorConfig, policy *Policy, registry *Registry, sink notify.EventSink, archiver Archiver, logger *zap.SugaredLogger) *Orchestrator {
	if cfg.MaxLivePlans <= 0 {
		cfg.MaxLivePlans = DefaultOrchestratorConfig().MaxLivePlans
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultOrchestratorConfig().GracePeriod
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	if sink == nil {
		sink = notify.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Orchestrator{
		cfg:          cfg,
		policy:       policy,
		registry:     registry,
		state:        core.NewStateManager(),
		stats:        core.NewStatsAggregator(),
		sink:         sink,
		archiver:     archiver,
		logger:       logger,
		plans:        make(map[string]*core.ResponsePlan),
		liveByThreat: make(map[string]string),
		envBindings:  make(map[string]*core.ResponsePlan),
		purgeAt:      make(map[string]time.Time),
	}
}

// Start moves the orchestrator to Operational
func (o *Orchestrator) Start() {
	o.state.Set(core.StateOperational)
	o.logger.Infow("Response orchestrator operational",
		"max_live_plans", o.cfg.MaxLivePlans,
		"plan_timeout", o.policy.Timeout().String())
}

// Stop moves the orchestrator to Shutdown
func (o *Orchestrator) Stop() {
	o.state.Set(core.StateShutdown)
}

// State returns the orchestrator's lifecycle state manager
func (o *Orchestrator) State() *core.StateManager {
	return o.state
}

// BindEnvironment routes future telemetry from a honeypot environment to
// the given plan. Passed as the EnvBinder to the Redirect action.
func (o *Orchestrator) BindEnvironment(envID string, plan *core.ResponsePlan) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.envBindings[envID] = plan
}

// SubmitThreat validates a threat event and creates its response plan. A
// threat whose plan is still live gets that plan back unchanged; a threat
// is rejected while the system is not Operational.
func (o *Orchestrator) SubmitThreat(ctx context.Context, event core.ThreatEvent) (*core.ResponsePlan, error) {
	if err := o.state.RequireOperational(); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return nil, err
	}
	if err := event.Validate(); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return nil, err
	}

	start := time.Now()

	o.mu.Lock()
	if planID, ok := o.liveByThreat[event.ID]; ok {
		plan := o.plans[planID]
		o.mu.Unlock()
		o.logger.Debugw("Threat already has a live plan",
			"threat_id", event.ID,
			"plan_id", plan.ID)
		return plan, nil
	}

	live := len(o.liveByThreat)
	if live >= o.cfg.MaxLivePlans {
		o.mu.Unlock()
		err := &core.Error{Kind: core.ErrKindCapacityExceeded, Detail: "live plan limit reached"}
		o.stats.RecordError(err.Kind)
		return nil, err
	}

	plan := core.NewResponsePlan(event,
		o.policy.ActionsFor(event),
		o.policy.PriorityFor(event.Severity),
		o.policy.Timeout())
	o.plans[plan.ID] = plan
	o.liveByThreat[event.ID] = plan.ID
	o.mu.Unlock()

	o.stats.RecordThreat(float64(time.Since(start).Milliseconds()))
	metrics.ThreatsSubmitted.WithLabelValues(event.Category.String(), event.Severity.String()).Inc()
	o.sink.PublishPlan(plan.Snapshot())

	o.logger.Infow("Response plan created",
		"plan_id", plan.ID,
		"threat_id", event.ID,
		"category", event.Category.String(),
		"severity", event.Severity.String(),
		"priority", plan.Priority,
		"actions", len(plan.Actions))
	return plan, nil
}

// Plan returns the plan with the given id
func (o *Orchestrator) Plan(planID string) (*core.ResponsePlan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	plan, ok := o.plans[planID]
	if !ok {
		return nil, &core.Error{Kind: core.ErrKindNotFound, Detail: "plan " + planID}
	}
	return plan, nil
}

// Execute runs the plan's actions in order. The transition into InProgress
// is what rejects double execution; the timeout is measured from that
// transition. Actions fail fast: the first error terminates the plan as
// Failed, a deadline terminates it as TimedOut, and an in-flight action
// that outlives a concurrent Cancel cannot flip the plan back.
func (o *Orchestrator) Execute(ctx context.Context, planID string) error {
	if err := o.state.RequireOperational(); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}

	plan, err := o.Plan(planID)
	if err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}

	if err := plan.Begin(); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}

	execCtx, cancel := context.WithTimeout(ctx, plan.Timeout)
	defer cancel()

	for _, name := range plan.Actions {
		if execCtx.Err() != nil {
			break
		}
		// A concurrent Cancel moves the plan terminal mid-execution; stop
		// applying actions as soon as that is observed
		if plan.Status() != core.PlanInProgress {
			break
		}

		action, ok := o.registry.Lookup(name)
		if !ok {
			failErr := core.ActionFailedError(name.String(),
				&core.Error{Kind: core.ErrKindNotFound, Detail: "no implementation registered"})
			return o.finishFailed(plan, name, failErr)
		}

		if err := action.Apply(execCtx, plan); err != nil {
			metrics.ActionsExecuted.WithLabelValues(name.String(), "failed").Inc()
			if execCtx.Err() != nil {
				break
			}
			return o.finishFailed(plan, name, core.ActionFailedError(name.String(), err))
		}
		metrics.ActionsExecuted.WithLabelValues(name.String(), "ok").Inc()
	}

	if ctxErr := execCtx.Err(); ctxErr != nil {
		// Only a blown deadline is a timeout; cancellation of the caller's
		// context abandons the plan as Cancelled
		if !errors.Is(ctxErr, context.DeadlineExceeded) {
			if err := plan.Cancel(); err != nil {
				// A concurrent Cancel won the race; its terminal state stands
				o.stats.RecordError(core.KindOf(err))
				return err
			}
			o.finalize(plan)
			o.logger.Warnw("Response plan cancelled by caller",
				"plan_id", plan.ID)
			return ctxErr
		}

		if err := plan.Expire(); err != nil {
			o.stats.RecordError(core.KindOf(err))
			return err
		}
		o.finalize(plan)
		o.logger.Warnw("Response plan timed out",
			"plan_id", plan.ID,
			"timeout", plan.Timeout.String())
		return &core.Error{Kind: core.ErrKindActionFailed, Detail: "plan execution timed out"}
	}

	if err := plan.Complete(); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}
	o.finalize(plan)
	o.logger.Infow("Response plan completed",
		"plan_id", plan.ID,
		"actions", len(plan.Actions))
	return nil
}

// finishFailed marks the plan Failed with the offending action and reason
func (o *Orchestrator) finishFailed(plan *core.ResponsePlan, action core.ResponseAction, cause *core.Error) error {
	if err := plan.Fail(action, cause.Error()); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}
	o.finalize(plan)
	o.stats.RecordError(core.ErrKindActionFailed)
	o.logger.Errorw("Response plan failed",
		"plan_id", plan.ID,
		"action", action.String(),
		"error", cause)
	return cause
}

// Cancel aborts a plan that has not yet reached a terminal state
func (o *Orchestrator) Cancel(planID string) error {
	plan, err := o.Plan(planID)
	if err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}
	if err := plan.Cancel(); err != nil {
		o.stats.RecordError(core.KindOf(err))
		return err
	}
	o.finalize(plan)
	o.logger.Infow("Response plan cancelled", "plan_id", plan.ID)
	return nil
}

// finalize records a terminal transition: statistics, metrics, the feed,
// archival, and the purge deadline. The threat id is released so a new
// plan may be created for a recurring threat.
func (o *Orchestrator) finalize(plan *core.ResponsePlan) {
	snapshot := plan.Snapshot()

	o.mu.Lock()
	delete(o.liveByThreat, snapshot.ThreatEvent.ID)
	o.purgeAt[snapshot.ID] = time.Now().Add(o.cfg.GracePeriod)
	o.mu.Unlock()

	o.stats.RecordPlanTerminal(snapshot.Status)
	metrics.PlansTerminal.WithLabelValues(snapshot.Status.String()).Inc()
	o.sink.PublishPlan(snapshot)

	if o.archiver != nil {
		if err := o.archiver.ArchivePlan(context.Background(), snapshot); err != nil {
			o.logger.Errorw("Plan archival failed",
				"plan_id", snapshot.ID,
				"error", err)
		}
	}
}

// PurgeExpired drops terminal plans past their grace period and returns
// how many were purged. Bindings from honeypot environments to purged
// plans are dropped with them.
func (o *Orchestrator) PurgeExpired() int {
	now := time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()

	purged := 0
	for planID, deadline := range o.purgeAt {
		if deadline.After(now) {
			continue
		}
		delete(o.purgeAt, planID)
		delete(o.plans, planID)
		for envID, plan := range o.envBindings {
			if plan.ID == planID {
				delete(o.envBindings, envID)
			}
		}
		purged++
	}
	return purged
}

// ConsumeTelemetry folds honeypot attack telemetry into the metadata of
// the plan whose Redirect action created the environment. Runs until the
// telemetry channel closes or ctx is cancelled.
func (o *Orchestrator) ConsumeTelemetry(ctx context.Context, telemetry <-chan honeynet.AttackEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-telemetry:
			if !ok {
				return
			}

			o.mu.Lock()
			plan := o.envBindings[event.EnvironmentID]
			o.mu.Unlock()
			if plan == nil {
				continue
			}

			merged := map[string]string{
				"honeypot_attack_" + event.ID: event.AttackType,
				"honeypot_last_activity":      event.Timestamp.Format(time.RFC3339),
			}
			for k, v := range event.Data {
				merged["honeypot_"+k] = v
			}
			plan.MergeMetadata(merged)

			o.logger.Debugw("Honeypot telemetry merged into threat",
				"plan_id", plan.ID,
				"environment_id", event.EnvironmentID,
				"attack_type", event.AttackType)
		}
	}
}

// Stats returns a snapshot of the orchestrator statistics
func (o *Orchestrator) Stats() core.Statistics {
	return o.stats.Snapshot()
}
