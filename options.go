package kotae

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	agentURL       string
	tenantID       string
	apiKey         string
	historyPath    string
	requestTimeout time.Duration
	streamTimeout  time.Duration
	logger         *slog.Logger
	version        string
	runHooks       []RunHook
	noHistory      bool
}

// WithAgentURL overrides the agent service base URL from config
// (KOTAE_AGENT_URL env var).
func WithAgentURL(url string) Option {
	return func(o *resolvedOptions) { o.agentURL = url }
}

// WithTenant overrides the tenant scope from config (KOTAE_TENANT_ID env var).
func WithTenant(tenantID string) Option {
	return func(o *resolvedOptions) { o.tenantID = tenantID }
}

// WithAPIKey overrides the API key from config (KOTAE_API_KEY env var).
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.apiKey = key }
}

// WithHistoryPath overrides the SQLite history location from config
// (KOTAE_HISTORY_PATH env var).
func WithHistoryPath(path string) Option {
	return func(o *resolvedOptions) { o.historyPath = path }
}

// WithRequestTimeout overrides the blocking-call timeout from config
// (KOTAE_REQUEST_TIMEOUT env var).
func WithRequestTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.requestTimeout = d }
}

// WithStreamTimeout overrides the per-event stream wait from config
// (KOTAE_STREAM_TIMEOUT env var). When no stream event arrives within
// this window the run falls back to a blocking call.
func WithStreamTimeout(d time.Duration) Option {
	return func(o *resolvedOptions) { o.streamTimeout = d }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithRunHook registers a hook to receive settled-run records.
// Multiple hooks may be registered; all registered hooks receive every record.
func WithRunHook(hook RunHook) Option {
	return func(o *resolvedOptions) { o.runHooks = append(o.runHooks, hook) }
}

// WithoutHistory disables the local SQLite run history entirely.
// RunHooks still fire; only persistence is skipped.
func WithoutHistory() Option {
	return func(o *resolvedOptions) { o.noHistory = true }
}
