// Package tracing wires Langfuse tracing into the summarizer's chat model
// calls through eino's global callback handlers.
package tracing

import (
	"os"

	"github.com/cloudwego/eino-ext/callbacks/langfuse"
	"github.com/cloudwego/eino/callbacks"
)

// Config holds Langfuse connection settings.
type Config struct {
	// Host is the Langfuse server URL (default: http://localhost:3000).
	Host string
	// PublicKey and SecretKey authenticate the client; both are required.
	PublicKey string
	SecretKey string
	// Release tags every trace with the binary version.
	Release string
}

// ConfigFromEnv reads LANGFUSE_HOST, LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY.
func ConfigFromEnv(release string) Config {
	return Config{
		Host:      os.Getenv("LANGFUSE_HOST"),
		PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
		SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		Release:   release,
	}
}

// Enabled reports whether both keys are set.
func (c Config) Enabled() bool { return c.PublicKey != "" && c.SecretKey != "" }

// Setup registers a Langfuse handler for every eino component call and
// returns a flush function that must run before process exit. When Langfuse
// is not configured it returns a no-op flush and false.
func Setup(cfg Config) (func(), bool) {
	if !cfg.Enabled() {
		return func() {}, false
	}
	host := cfg.Host
	if host == "" {
		host = "http://localhost:3000"
	}

	handler, flush := langfuse.NewLangfuseHandler(&langfuse.Config{
		Host:      host,
		PublicKey: cfg.PublicKey,
		SecretKey: cfg.SecretKey,
		Name:      "triage-summarize",
		Release:   cfg.Release,
	})
	callbacks.AppendGlobalHandlers(handler)
	return flush, true
}
