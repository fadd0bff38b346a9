package metrics

import (
	"fmt"
	"time"
)

var latencyBuckets = []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60}

// Relay is the set of series recorded by the dispatcher, the channels and
// the ingress. A nil *Relay is valid and records nothing.
type Relay struct {
	reg *Registry
}

func NewRelay(reg *Registry) *Relay {
	if reg == nil {
		reg = NewRegistry()
	}
	return &Relay{reg: reg}
}

func (m *Relay) Registry() *Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func channelLabel(channel string) string { return fmt.Sprintf("channel=%q", channel) }

// MessageReceived counts a canonical inbound message handed to the dispatcher.
func (m *Relay) MessageReceived(channel string) {
	if m == nil {
		return
	}
	m.reg.Counter(namespace+"_messages_total", "Inbound messages dispatched", channelLabel(channel)).Inc()
}

// ProviderCall records one generation attempt and its latency.
func (m *Relay) ProviderCall(provider string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	label := fmt.Sprintf("provider=%q", provider)
	m.reg.Counter(namespace+"_provider_requests_total", "LLM provider requests", label).Inc()
	if err != nil {
		m.reg.Counter(namespace+"_provider_failures_total", "Failed LLM provider requests", label).Inc()
	}
	m.reg.Histogram(namespace+"_provider_latency_seconds", "LLM provider latency in seconds", label, latencyBuckets).
		Observe(elapsed.Seconds())
}

// DeliveryFailed counts a reply a channel could not deliver.
func (m *Relay) DeliveryFailed(channel string) {
	if m == nil {
		return
	}
	m.reg.Counter(namespace+"_delivery_failures_total", "Replies that could not be delivered", channelLabel(channel)).Inc()
}

// Rejected counts inbound requests refused before dispatch, by reason.
func (m *Relay) Rejected(channel, reason string) {
	if m == nil {
		return
	}
	labels := fmt.Sprintf("%s,reason=%q", channelLabel(channel), reason)
	m.reg.Counter(namespace+"_rejected_total", "Inbound requests rejected before dispatch", labels).Inc()
}

// InFlight tracks generations currently running. Call the returned func when done.
func (m *Relay) InFlight() func() {
	if m == nil {
		return func() {}
	}
	g := m.reg.Gauge(namespace+"_inflight_generations", "Provider calls currently running", "")
	g.Inc()
	return g.Dec
}

// PollCycle counts social poller iterations and their failures.
func (m *Relay) PollCycle(err error) {
	if m == nil {
		return
	}
	m.reg.Counter(namespace+"_poll_cycles_total", "Social DM poll cycles", "").Inc()
	if err != nil {
		m.reg.Counter(namespace+"_poll_failures_total", "Failed social DM poll cycles", "").Inc()
	}
}
