package server

import (
	"context"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/phildougherty/mcp-trader-bridge/internal/bridge"
)

type childStats struct {
	Pid           int     `json:"pid"`
	Running       bool    `json:"running"`
	RSSBytes      uint64  `json:"rss_bytes"`
	CPUPercent    float64 `json:"cpu_percent"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// processStats samples the child through gopsutil. Fields it cannot read
// stay zero; uptime comes from the bridge's spawn time.
func processStats(ctx context.Context, pid int) childStats {
	stats := childStats{Pid: pid}
	if pid <= 0 {
		return stats
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return stats
	}
	if running, err := p.IsRunningWithContext(ctx); err == nil {
		stats.Running = running
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	return stats
}

// serverPhase maps the bridge state onto the python_server field.
func serverPhase(st bridge.Status) string {
	switch {
	case st.Ready && st.Initialized:
		return "active"
	case st.State == bridge.StateFailed:
		return "failed"
	case st.State == bridge.StateExited:
		return "exited"
	default:
		return "starting"
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.bridge.Status()
	child := s.stats(r.Context(), st.Pid)
	if !st.StartedAt.IsZero() {
		child.UptimeSeconds = time.Since(st.StartedAt).Seconds()
	}

	payload := map[string]interface{}{
		"status":         "operational",
		"mcp_bridge":     "connected",
		"python_server":  serverPhase(st),
		"state":          st.State.String(),
		"initialized":    st.Initialized,
		"pending":        st.Pending,
		"child":          child,
		"uptime_seconds": time.Since(s.startedAt).Seconds(),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if st.HandshakeErr != nil {
		payload["handshake_error"] = st.HandshakeErr.Error()
	}
	if st.ExitErr != nil {
		payload["exit_error"] = st.ExitErr.Error()
	}

	s.writeJSON(w, http.StatusOK, payload)
}
