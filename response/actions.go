package response

import (
	"context"
	"sync"

	"icarus/core"
	"icarus/honeynet"
	"icarus/notify"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Action applies one mitigating measure for the plan's threat. Apply must
// honor ctx cancellation; a returned error fails the whole plan fast.
type Action interface {
	Name() core.ResponseAction
	Apply(ctx context.Context, plan *core.ResponsePlan) error
}

// Registry maps action names to implementations
type Registry struct {
	actions map[core.ResponseAction]Action
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{actions: make(map[core.ResponseAction]Action)}
}

// Register adds or replaces an action implementation
func (r *Registry) Register(action Action) {
	r.actions[action.Name()] = action
}

// Lookup resolves an action by name
func (r *Registry) Lookup(name core.ResponseAction) (Action, bool) {
	action, ok := r.actions[name]
	return action, ok
}

// DefaultRegistry wires the built-in actions. The honeynet manager may be
// nil, in which case Redirect degrades to monitoring. shutdown is invoked
// by EmergencyShutdown and may be nil.
func DefaultRegistry(sink notify.EventSink, honeypots *honeynet.Manager, bind EnvBinder, shutdown func(), logger *zap.SugaredLogger) *Registry {
	if sink == nil {
		sink = notify.NopSink{}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	r := NewRegistry()
	r.Register(&MonitorAction{logger: logger})
	r.Register(&AlertAction{sink: sink, logger: logger})
	r.Register(&BlockAction{name: core.ActionBlockIP, logger: logger})
	r.Register(&BlockAction{name: core.ActionBlockPort, logger: logger})
	r.Register(&BlockAction{name: core.ActionQuarantine, logger: logger})
	r.Register(&BlockAction{name: core.ActionIsolateSystem, logger: logger})
	r.Register(NewRateLimitAction(rate.Limit(100), 50, logger))
	r.Register(&RedirectAction{honeypots: honeypots, bind: bind, logger: logger})
	r.Register(&CountermeasureAction{logger: logger})
	r.Register(&EmergencyShutdownAction{shutdown: shutdown, logger: logger})
	return r
}

// MonitorAction records the source for elevated observation; it never fails
type MonitorAction struct {
	mu      sync.Mutex
	watched map[string]struct{}
	logger  *zap.SugaredLogger
}

func (a *MonitorAction) Name() core.ResponseAction { return core.ActionMonitor }

func (a *MonitorAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	a.mu.Lock()
	if a.watched == nil {
		a.watched = make(map[string]struct{})
	}
	a.watched[plan.ThreatEvent.Source] = struct{}{}
	a.mu.Unlock()

	a.logger.Infow("Source placed under monitoring",
		"plan_id", plan.ID,
		"source", plan.ThreatEvent.Source)
	return nil
}

// Watched reports whether a source is under elevated observation
func (a *MonitorAction) Watched(source string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.watched[source]
	return ok
}

// AlertAction pushes the threat onto the visualization feed
type AlertAction struct {
	sink   notify.EventSink
	logger *zap.SugaredLogger
}

func (a *AlertAction) Name() core.ResponseAction { return core.ActionAlert }

func (a *AlertAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	// Publish a snapshot copy: telemetry merges mutate the live metadata
	// map under the plan lock, and the sink marshals on this goroutine
	event := plan.Snapshot().ThreatEvent
	a.sink.PublishThreat(event)
	a.logger.Warnw("Threat alert raised",
		"plan_id", plan.ID,
		"threat_id", event.ID,
		"category", event.Category.String(),
		"severity", event.Severity.String())
	return nil
}

// BlockAction maintains an enforcement set. One implementation serves the
// BlockIp, BlockPort, Quarantine, and IsolateSystem names; they differ only
// in which set they populate and how the enforcement layer consumes it.
type BlockAction struct {
	name    core.ResponseAction
	mu      sync.Mutex
	blocked map[string]struct{}
	logger  *zap.SugaredLogger
}

func (a *BlockAction) Name() core.ResponseAction { return a.name }

func (a *BlockAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	target := plan.ThreatEvent.Source
	if a.name == core.ActionIsolateSystem {
		target = plan.ThreatEvent.Target
	}
	if target == "" {
		return core.ActionFailedError(a.name.String(),
			&core.Error{Kind: core.ErrKindValidation, Detail: "no target to enforce against"})
	}

	a.mu.Lock()
	if a.blocked == nil {
		a.blocked = make(map[string]struct{})
	}
	a.blocked[target] = struct{}{}
	a.mu.Unlock()

	a.logger.Infow("Enforcement applied",
		"action", a.name.String(),
		"plan_id", plan.ID,
		"target", target)
	return nil
}

// Blocked reports whether a target is in the enforcement set
func (a *BlockAction) Blocked(target string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.blocked[target]
	return ok
}

// RateLimitAction attaches a token-bucket limiter to the threat source.
// The packet path consults LimiterFor to throttle subsequent traffic.
type RateLimitAction struct {
	limit  rate.Limit
	burst  int
	mu     sync.Mutex
	bySrc  map[string]*rate.Limiter
	logger *zap.SugaredLogger
}

// NewRateLimitAction creates a rate-limit action with the given per-source
// bucket parameters
func NewRateLimitAction(limit rate.Limit, burst int, logger *zap.SugaredLogger) *RateLimitAction {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &RateLimitAction{
		limit:  limit,
		burst:  burst,
		bySrc:  make(map[string]*rate.Limiter),
		logger: logger,
	}
}

func (a *RateLimitAction) Name() core.ResponseAction { return core.ActionRateLimit }

func (a *RateLimitAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	source := plan.ThreatEvent.Source
	if source == "" {
		return core.ActionFailedError(core.ActionRateLimit.String(),
			&core.Error{Kind: core.ErrKindValidation, Detail: "no source to rate limit"})
	}

	a.mu.Lock()
	if _, ok := a.bySrc[source]; !ok {
		a.bySrc[source] = rate.NewLimiter(a.limit, a.burst)
	}
	a.mu.Unlock()

	a.logger.Infow("Rate limit attached",
		"plan_id", plan.ID,
		"source", source,
		"limit", float64(a.limit),
		"burst", a.burst)
	return nil
}

// LimiterFor returns the limiter for a source, or nil when the source is
// not rate limited
func (a *RateLimitAction) LimiterFor(source string) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bySrc[source]
}

// EnvBinder associates a honeypot environment with the plan whose Redirect
// action created it, so attacker telemetry can be routed back to the plan
type EnvBinder func(envID string, plan *core.ResponsePlan)

// envTypeFor picks a deception profile matching what the attacker was after
func envTypeFor(category core.ThreatCategory) honeynet.EnvironmentType {
	switch category {
	case core.ThreatSQLInjection, core.ThreatDataExfiltration:
		return honeynet.EnvDatabase
	case core.ThreatBruteForce:
		return honeynet.EnvWorkstation
	default:
		return honeynet.EnvWebServer
	}
}

// RedirectAction diverts the attacker into a virtual deception environment
type RedirectAction struct {
	honeypots *honeynet.Manager
	bind      EnvBinder
	logger    *zap.SugaredLogger
}

func (a *RedirectAction) Name() core.ResponseAction { return core.ActionRedirectToHoneypot }

func (a *RedirectAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	if a.honeypots == nil {
		a.logger.Warnw("Honeynet disabled, redirect degraded to monitoring",
			"plan_id", plan.ID)
		return nil
	}

	env, err := a.honeypots.Create(envTypeFor(plan.ThreatEvent.Category))
	if err != nil {
		return core.ActionFailedError(core.ActionRedirectToHoneypot.String(), err)
	}
	if err := a.honeypots.Activate(env.ID, plan.ThreatEvent.Source); err != nil {
		return core.ActionFailedError(core.ActionRedirectToHoneypot.String(), err)
	}

	if a.bind != nil {
		a.bind(env.ID, plan)
	}
	plan.MergeMetadata(map[string]string{
		"honeypot_environment": env.ID,
		"honeypot_ip":          env.VirtualIP,
	})

	a.logger.Infow("Attacker redirected to honeypot",
		"plan_id", plan.ID,
		"source", plan.ThreatEvent.Source,
		"environment_id", env.ID)
	return nil
}

// CountermeasureAction stands in for active countermeasures, which run
// outside this core; it records intent and succeeds
type CountermeasureAction struct {
	logger *zap.SugaredLogger
}

func (a *CountermeasureAction) Name() core.ResponseAction { return core.ActionActiveCountermeasure }

func (a *CountermeasureAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	a.logger.Warnw("Active countermeasure requested",
		"plan_id", plan.ID,
		"threat_id", plan.ThreatEvent.ID,
		"source", plan.ThreatEvent.Source)
	return nil
}

// EmergencyShutdownAction triggers the process-level shutdown hook
type EmergencyShutdownAction struct {
	shutdown func()
	logger   *zap.SugaredLogger
}

func (a *EmergencyShutdownAction) Name() core.ResponseAction { return core.ActionEmergencyShutdown }

func (a *EmergencyShutdownAction) Apply(ctx context.Context, plan *core.ResponsePlan) error {
	a.logger.Errorw("Emergency shutdown ordered",
		"plan_id", plan.ID,
		"threat_id", plan.ThreatEvent.ID)
	if a.shutdown != nil {
		a.shutdown()
	}
	return nil
}
