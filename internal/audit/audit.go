// Package audit records who changed what: the configuration each CLI command
// started with, and every change to cluster state made by an operator rather
// than by a clustering pass.
//
// Secrets are logged as presence or absence only, and credentials embedded
// in URLs are masked.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// redaction says how an environment value may appear in the log.
type redaction int

const (
	plain redaction = iota
	// secret values are reduced to "set" or "unset".
	secret
	// credentialURL values keep host and path but lose their password.
	credentialURL
)

type envKey struct {
	name   string
	redact redaction
}

// envGroups is the environment logged at command start, grouped by concern.
var envGroups = []struct {
	name string
	keys []envKey
}{
	{"model", []envKey{
		{name: "MODEL_PROVIDER"},
		{name: "OLLAMA_HOST"},
		{name: "OLLAMA_MODEL"},
		{name: "OPENAI_API_KEY", redact: secret},
		{name: "OPENAI_MODEL"},
		{name: "AZURE_OPENAI_API_KEY", redact: secret},
		{name: "AZURE_OPENAI_ENDPOINT"},
		{name: "AZURE_OPENAI_DEPLOYMENT"},
		{name: "GOOGLE_API_KEY", redact: secret},
		{name: "GEMINI_MODEL"},
		{name: "AWS_REGION"},
		{name: "BEDROCK_MODEL_ID"},
		{name: "BEDROCK_API_KEY", redact: secret},
		{name: "LANGFUSE_PUBLIC_KEY", redact: secret},
		{name: "LANGFUSE_SECRET_KEY", redact: secret},
	}},
	{"embedding", []envKey{
		{name: "EMBEDDING_PROVIDER"},
		{name: "EMBEDDING_MODEL"},
		{name: "EMBEDDING_API_KEY", redact: secret},
		{name: "EMBEDDING_RPS"},
	}},
	{"vectors", []envKey{
		{name: "VECTOR_BACKEND"},
		{name: "QDRANT_HOST"},
		{name: "QDRANT_PORT"},
		{name: "QDRANT_COLLECTION"},
		{name: "QDRANT_API_KEY", redact: secret},
		{name: "BOLT_PATH"},
	}},
	{"metadata", []envKey{
		{name: "METADATA_BACKEND"},
		{name: "REDIS_URL", redact: credentialURL},
		{name: "METADATA_KEY_PREFIX"},
		{name: "ITEMS_DB"},
	}},
	{"clustering", []envKey{
		{name: "CLUSTER_THRESHOLD"},
		{name: "CLUSTER_BATCH_SIZE"},
		{name: "CLUSTER_TOP_K"},
	}},
	{"server", []envKey{
		{name: "TRIAGE_API_KEY", redact: secret},
		{name: "SERVER_PASS_INTERVAL"},
	}},
	{"logging", []envKey{
		{name: "LOG_LEVEL"},
		{name: "LOG_FORMAT"},
	}},
}

// LogCommandStart emits one audit entry when a CLI command begins, with the
// command path, the config file and the sanitised environment.
func LogCommandStart(log *slog.Logger, command string, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", sanitiseConfigPath(configPath)),
	}
	for _, g := range envGroups {
		group := make([]any, 0, len(g.keys))
		for _, k := range g.keys {
			group = append(group, slog.String(k.name, sanitise(k.redact, os.Getenv(k.name))))
		}
		attrs = append(attrs, slog.Group(g.name, group...))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// Mutation is an operator-initiated change to cluster state.
type Mutation struct {
	// Action names the change: "status", "reset" or "repair".
	Action string
	// ClusterID is empty for store-wide actions.
	ClusterID string
	// Detail carries the new value or a short count, if any.
	Detail string
	// Origin is "cli" or "api".
	Origin string
	// Actor identifies the caller, e.g. the client IP for API requests.
	Actor string
}

// LogMutation records m at Info level.
func LogMutation(ctx context.Context, log *slog.Logger, m Mutation) {
	attrs := []slog.Attr{
		slog.String("action", m.Action),
		slog.String("origin", m.Origin),
	}
	if m.ClusterID != "" {
		attrs = append(attrs, slog.String("cluster_id", m.ClusterID))
	}
	if m.Detail != "" {
		attrs = append(attrs, slog.String("detail", m.Detail))
	}
	if m.Actor != "" {
		attrs = append(attrs, slog.String("actor", m.Actor))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: cluster mutation", attrs...)
}

func sanitise(r redaction, v string) string {
	switch {
	case v == "":
		return "unset"
	case r == secret:
		return "set"
	case r == credentialURL:
		return redactURL(v)
	default:
		return v
	}
}

// redactURL masks the password of a URL such as redis://:pw@host:6379/0.
// Unparseable values are reported as "set" so nothing leaks.
func redactURL(v string) string {
	if v == "" {
		return "unset"
	}
	u, err := url.Parse(v)
	if err != nil {
		return "set"
	}
	return u.Redacted()
}

// sanitiseConfigPath returns the config path with the home directory
// shortened to "~", or "none" if empty.
func sanitiseConfigPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
