// Package metrics exposes bridge state and tool call statistics to
// Prometheus.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
	"github.com/phildougherty/mcp-trader-bridge/internal/constants"
)

// otherTool labels calls whose tool name is not tracked.
const otherTool = "other"

var allStates = []bridge.State{
	bridge.StateStarting,
	bridge.StateAwaitingHandshake,
	bridge.StateHandshaking,
	bridge.StateInitialized,
	bridge.StateReady,
	bridge.StateFailed,
	bridge.StateExited,
}

// Collector implements bridge.Observer on top of Prometheus vectors.
type Collector struct {
	buildInfo      *prometheus.GaugeVec
	state          *prometheus.GaugeVec
	pending        prometheus.Gauge
	toolCalls      *prometheus.CounterVec
	toolDuration   *prometheus.HistogramVec
	malformedLines prometheus.Counter

	mu       sync.Mutex
	tools    map[string]struct{}
	maxTools int
}

// New creates an unregistered collector.
func New() *Collector {

	return &Collector{
		tools:    make(map[string]struct{}),
		maxTools: constants.MaxToolLabels,
		buildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcp_bridge_build_info",
				Help: "Build information for the MCP bridge",
			},
			[]string{"version"},
		),
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "mcp_bridge_state",
				Help: "Current bridge lifecycle state (1 for the active state)",
			},
			[]string{"state"},
		),
		pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mcp_bridge_pending_requests",
				Help: "Requests written to the MCP server that await a response",
			},
		),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mcp_bridge_tool_calls_total",
				Help: "Tool calls by tool and outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mcp_bridge_tool_call_duration_seconds",
				Help:    "Tool call latency including time spent waiting for the MCP server",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"tool"},
		),
		malformedLines: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mcp_bridge_malformed_lines_total",
				Help: "Lines on the MCP server stdout that were not JSON",
			},
		),
	}
}

// Register registers every collector with r.
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, col := range []prometheus.Collector{c.buildInfo, c.state, c.pending, c.toolCalls, c.toolDuration, c.malformedLines} {
		if err := r.Register(col); err != nil {
			return err
		}
	}

	return nil
}

// SetBuildInfo sets the build info metric.
func (c *Collector) SetBuildInfo(version string) {
	c.buildInfo.WithLabelValues(version).Set(1)
}

func (c *Collector) StateChanged(_, to bridge.State) {
	for _, s := range allStates {
		v := 0.0
		if s == to {
			v = 1
		}
		c.state.WithLabelValues(s.String()).Set(v)
	}
}

func (c *Collector) ToolCallCompleted(ev bridge.ToolCallEvent) {
	tool := c.toolLabel(ev)
	c.toolCalls.WithLabelValues(tool, string(ev.Outcome)).Inc()
	if ev.Outcome != bridge.OutcomeNotReady {
		c.toolDuration.WithLabelValues(tool).Observe(ev.Duration.Seconds())
	}
}

// toolLabel keeps the tool label set bounded. Names come from HTTP clients,
// so a name is tracked only once the MCP server has answered it successfully,
// and at most maxTools names are tracked.
func (c *Collector) toolLabel(ev bridge.ToolCallEvent) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.tools[ev.Tool]; ok {
		return ev.Tool
	}
	if ev.Outcome != bridge.OutcomeSuccess || ev.Tool == "" || len(c.tools) >= c.maxTools {
		return otherTool
	}
	c.tools[ev.Tool] = struct{}{}

	return ev.Tool
}

func (c *Collector) PendingChanged(n int) { c.pending.Set(float64(n)) }

func (c *Collector) MalformedLine(string) { c.malformedLines.Inc() }
