package constants

import "time"

const (
	// Handshake pacing
	HandshakeDelay          = 3 * time.Second
	InitializeTimeout       = 15 * time.Second
	PostInitializeDelay     = 1 * time.Second
	NotificationSettleDelay = 1 * time.Second

	// Tool calls
	ToolCallTimeout = 30 * time.Second

	// Child process
	DefaultChildCommand    = "uv"
	DefaultChildWorkDir    = "../mcp-trader"
	DefaultReadySignal     = "Server ready!"
	ChildStopGracePeriod   = 5 * time.Second
	StdoutReaderBufferSize = 64 * 1024
	StderrChunkSize        = 4096

	// MCP identity
	DefaultProtocolVersion = "2024-11-05"
	DefaultClientName      = "mcp-bridge"
	DefaultClientVersion   = "1.0.0"

	// HTTP server
	DefaultHTTPPort        = 8000
	DefaultHostInterface   = "0.0.0.0"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 60 * time.Second
	WriteTimeoutMargin     = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	MaxRequestBodyBytes    = 1 << 20

	// Response shaping
	ContentPreviewLength    = 200
	DiagnosticContentLength = 500
	ResponseSource          = "mcp_python_server"

	// Metrics
	MaxToolLabels = 64

	// Activity feed
	DefaultActivityBuffer    = 500
	ActivityChannelSize      = 1000
	ActivityClientBuffer     = 64
	WebSocketWriteDeadline   = 5 * time.Second
	WebSocketPingInterval    = 30 * time.Second
	WebSocketReadTimeout     = 60 * time.Second
	DefaultActivityRetention = 7 * 24 * time.Hour
	DefaultActivityLimit     = 50
	MaxActivityLimit         = 1000

	// Configuration
	DefaultConfigFile  = "mcp-bridge.yaml"
	DefaultEnvironment = "development"
	ConfigVersion      = "1"
	DefaultLogLevel    = "info"
	ConfigReloadDelay  = 250 * time.Millisecond

	// File permissions
	DefaultFileMode = 0644
	DefaultDirMode  = 0755
)
