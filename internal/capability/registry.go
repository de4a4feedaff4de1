package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/jotlabs/jot-core/internal/bus"
)

// Capability is one advertised worker feature, such as a model or language.
type Capability struct {
	Name  string `json:"name"`
	Value string `json:"value,omitempty"`
}

// AgentInfo tracks one dictation agent seen on the bus.
type AgentInfo struct {
	ID           string       `json:"id"`
	Capabilities []Capability `json:"capabilities"`
	LastSeen     time.Time    `json:"last_seen"`
	Healthy      bool         `json:"healthy"`
}

type announceMessage struct {
	AgentID      string       `json:"agent_id"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type heartbeatMessage struct {
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configure the registry. Zero interval/timeout values fall back to
// defaults.
type Options struct {
	AgentID             string
	HeartbeatIntervalMS int
	HeartbeatTimeoutMS  int
}

// Registry announces this agent's worker capabilities on the bus and tracks
// other agents' presence through their announce and heartbeat messages.
type Registry struct {
	opts      Options
	log       *slog.Logger
	bus       *bus.Client
	local     []Capability
	mu        sync.RWMutex
	agents    map[string]*AgentInfo
	heartbeat *time.Ticker
	cancel    context.CancelFunc
	subs      []*nats.Subscription
	meter     metric.Meter
}

func NewRegistry(ctx context.Context, opts Options, busClient *bus.Client, capabilities map[string]string, log *slog.Logger) (*Registry, error) {
	if opts.HeartbeatIntervalMS <= 0 {
		opts.HeartbeatIntervalMS = 5000
	}
	if opts.HeartbeatTimeoutMS <= 0 {
		opts.HeartbeatTimeoutMS = 15000
	}
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		opts:   opts,
		log:    log.With(slog.String("component", "capability-registry")),
		bus:    busClient,
		local:  convertCapabilities(capabilities),
		agents: make(map[string]*AgentInfo),
		meter:  otel.Meter("github.com/jotlabs/jot-core/runtime"),
		cancel: cancel,
	}

	if err := r.initMetrics(ctx); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}

	if err := r.subscribe(ctx); err != nil {
		r.cancel()
		return nil, err
	}

	r.heartbeat = time.NewTicker(time.Duration(opts.HeartbeatIntervalMS) * time.Millisecond)
	go r.runHeartbeat(ctx)
	go r.monitorHealth(ctx)

	if err := r.announce(); err != nil {
		r.log.Warn("failed to announce agent", slog.String("error", err.Error()))
	}

	return r, nil
}

func (r *Registry) Close() {
	if r.cancel != nil {
		r.cancel()
	}
	if r.heartbeat != nil {
		r.heartbeat.Stop()
	}
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
}

func (r *Registry) subscribe(ctx context.Context) error {
	conn := r.bus.Conn()
	announceSub, err := conn.Subscribe(bus.SubjectAgentPresence, r.handleAnnounce)
	if err != nil {
		return fmt.Errorf("subscribe announce: %w", err)
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := conn.Subscribe("dictation.agent.heartbeat.*", r.handleHeartbeat)
	if err != nil {
		return fmt.Errorf("subscribe heartbeat: %w", err)
	}
	r.subs = append(r.subs, heartbeatSub)

	return nil
}

func (r *Registry) runHeartbeat(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Registry) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce() error {
	msg := announceMessage{
		AgentID:      r.opts.AgentID,
		Capabilities: r.local,
		Timestamp:    time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := r.bus.Conn().Publish(bus.SubjectAgentPresence, payload); err != nil {
		return err
	}
	r.updateAgent(msg.AgentID, msg.Capabilities, msg.Timestamp, true)
	return nil
}

func (r *Registry) publishHeartbeat() error {
	msg := heartbeatMessage{
		AgentID:   r.opts.AgentID,
		Timestamp: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("dictation.agent.heartbeat.%s", r.opts.AgentID)
	return r.bus.Conn().Publish(subject, payload)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var announcement announceMessage
	if err := json.Unmarshal(msg.Data, &announcement); err != nil {
		r.log.Warn("invalid announce message", slog.String("error", err.Error()))
		return
	}
	if announcement.Timestamp.IsZero() {
		announcement.Timestamp = time.Now().UTC()
	}
	r.updateAgent(announcement.AgentID, announcement.Capabilities, announcement.Timestamp, true)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb heartbeatMessage
	if err := json.Unmarshal(msg.Data, &hb); err != nil {
		r.log.Warn("invalid heartbeat message", slog.String("error", err.Error()))
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = time.Now().UTC()
	}
	r.updateAgent(hb.AgentID, nil, hb.Timestamp, true)
}

func (r *Registry) updateAgent(agentID string, capabilities []Capability, timestamp time.Time, healthy bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[agentID]
	if !ok {
		agent = &AgentInfo{ID: agentID}
		r.agents[agentID] = agent
	}
	if len(capabilities) > 0 {
		agent.Capabilities = capabilities
	}
	agent.LastSeen = timestamp
	agent.Healthy = healthy
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.opts.HeartbeatTimeoutMS) * time.Millisecond
	now := time.Now()
	for _, agent := range r.agents {
		if now.Sub(agent.LastSeen) > timeout {
			agent.Healthy = false
		}
	}
}

func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	agent, ok := r.agents[r.opts.AgentID]
	if !ok {
		return false
	}
	return agent.Healthy
}

func (r *Registry) Query(filter func(AgentInfo) bool) []AgentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var results []AgentInfo
	for _, agent := range r.agents {
		copy := *agent
		if filter == nil || filter(copy) {
			results = append(results, copy)
		}
	}
	return results
}

func (r *Registry) initMetrics(ctx context.Context) error {
	if r.meter == nil {
		return nil
	}
	agentGauge, err := r.meter.Int64ObservableGauge("jot.agents.known", metric.WithDescription("Number of known dictation agents"))
	if err != nil {
		return err
	}
	capGauge, err := r.meter.Int64ObservableGauge("jot.capabilities.total", metric.WithDescription("Total advertised capabilities"))
	if err != nil {
		return err
	}
	_, err = r.meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		agents, caps := r.snapshotCounts()
		obs.ObserveInt64(agentGauge, agents)
		obs.ObserveInt64(capGauge, caps)
		return nil
	}, agentGauge, capGauge)
	return err
}

func (r *Registry) snapshotCounts() (int64, int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var agents int64
	var caps int64
	for _, agent := range r.agents {
		agents++
		caps += int64(len(agent.Capabilities))
	}
	return agents, caps
}

// LocalCapabilities returns this agent's advertised capability list.
func (r *Registry) LocalCapabilities() []Capability {
	return append([]Capability(nil), r.local...)
}

func convertCapabilities(source map[string]string) []Capability {
	if len(source) == 0 {
		return nil
	}
	result := make([]Capability, 0, len(source))
	for name, value := range source {
		result = append(result, Capability{Name: name, Value: value})
	}
	return result
}

// WithCapabilityFilter matches agents advertising a capability by name.
func WithCapabilityFilter(name string) func(AgentInfo) bool {
	return func(agent AgentInfo) bool {
		for _, cap := range agent.Capabilities {
			if cap.Name == name {
				return true
			}
		}
		return false
	}
}
