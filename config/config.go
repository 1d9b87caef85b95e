// Package config loads the process-wide tunables a host application wires
// into a Runner, idempotency.Manager, dlq.Queue, and eventbus.Bus: how often
// to checkpoint, whether cycles are permitted, how deep subgraphs may nest,
// cache retention per idempotency.Kind, dead-letter bounds, and which event
// bus backend to construct. Config itself never constructs those
// collaborators — it only parses and validates the YAML document; the host
// application (see cmd/flowdemo) does the wiring.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"goa.design/flowengine/idempotency"
)

// Event bus backend selectors recognized by EventBus.Backend.
const (
	// BackendInMemory selects eventbus/inmem.
	BackendInMemory = "in-memory"
	// BackendStreamLog selects backends/pulse.
	BackendStreamLog = "stream-log"
	// BackendLogPartitioned is recognized but has no concrete adapter in
	// this implementation; Validate rejects it.
	BackendLogPartitioned = "log-partitioned"
)

type (
	// Config is the parsed, validated form of the engine's YAML
	// configuration document.
	Config struct {
		// SaveEveryNNodes takes a periodic checkpoint every N node
		// executions. Zero disables periodic checkpointing (a
		// suspending node still always checkpoints).
		SaveEveryNNodes int
		// SaveOnError takes a checkpoint immediately before a node
		// execution that is about to fail permanently.
		SaveOnError bool
		// AllowCycles bypasses the graph builder's acyclicity check.
		AllowCycles bool
		// MaxSubgraphDepth bounds subgraph nesting. The host
		// application applies this as graph.SubgraphNode.MaxDepth
		// when constructing subgraph nodes; it is not enforced by
		// this package.
		MaxSubgraphDepth int
		// ToolCallTTL, StepTTL, and IntentTTL override the default
		// retention window for idempotency.KindToolCall,
		// idempotency.KindStep, and idempotency.KindIntent
		// respectively. Zero keeps idempotency.DefaultTTL.
		ToolCallTTL time.Duration
		StepTTL     time.Duration
		IntentTTL   time.Duration
		// DLQ bounds the dead-letter queue.
		DLQ DLQConfig
		// EventBus selects and configures the event bus backend.
		EventBus EventBusConfig
	}

	// DLQConfig mirrors dlq.Options' bounds.
	DLQConfig struct {
		MaxSize           int
		MaxSizePerChannel int
	}

	// EventBusConfig selects an eventbus.Bus backend.
	EventBusConfig struct {
		// Backend is one of BackendInMemory or BackendStreamLog.
		// BackendLogPartitioned is recognized but rejected by
		// Validate.
		Backend string
		// SinkName names the Pulse consumer group when Backend is
		// BackendStreamLog. Ignored otherwise.
		SinkName string
	}

	// rawConfig mirrors Config field-for-field but keeps durations as
	// YAML-friendly strings (e.g. "1h30m"), following this codebase's
	// convention of parsing duration strings explicitly with
	// time.ParseDuration rather than relying on yaml.v3 to decode them.
	rawConfig struct {
		SaveEveryNNodes  int    `yaml:"saveEveryNNodes"`
		SaveOnError      bool   `yaml:"saveOnError"`
		AllowCycles      bool   `yaml:"allowCycles"`
		MaxSubgraphDepth int    `yaml:"maxSubgraphDepth"`
		ToolCallTTL      string `yaml:"toolCallTtl"`
		StepTTL          string `yaml:"stepTtl"`
		IntentTTL        string `yaml:"intentTtl"`
		DLQ              struct {
			MaxSize           int `yaml:"maxSize"`
			MaxSizePerChannel int `yaml:"maxSizePerChannel"`
		} `yaml:"dlq"`
		EventBus struct {
			Backend  string `yaml:"backend"`
			SinkName string `yaml:"sinkName"`
		} `yaml:"eventBus"`
	}
)

// Load reads and parses the YAML document at path into a Config, then
// validates it.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config file, not untrusted input
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a Config and validates it.
func Parse(data []byte) (Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("config: parse yaml: %w", err)
	}

	cfg := Config{
		SaveEveryNNodes:  raw.SaveEveryNNodes,
		SaveOnError:      raw.SaveOnError,
		AllowCycles:      raw.AllowCycles,
		MaxSubgraphDepth: raw.MaxSubgraphDepth,
		DLQ: DLQConfig{
			MaxSize:           raw.DLQ.MaxSize,
			MaxSizePerChannel: raw.DLQ.MaxSizePerChannel,
		},
		EventBus: EventBusConfig{
			Backend:  raw.EventBus.Backend,
			SinkName: raw.EventBus.SinkName,
		},
	}

	var err error
	if cfg.ToolCallTTL, err = parseDuration("toolCallTtl", raw.ToolCallTTL); err != nil {
		return Config{}, err
	}
	if cfg.StepTTL, err = parseDuration("stepTtl", raw.StepTTL); err != nil {
		return Config{}, err
	}
	if cfg.IntentTTL, err = parseDuration("intentTtl", raw.IntentTTL); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", field, err)
	}
	return d, nil
}

// Validate rejects configuration combinations that a host application could
// not act on: a negative bound, or an eventBus.backend this implementation
// has no adapter for.
func (c Config) Validate() error {
	if c.SaveEveryNNodes < 0 {
		return fmt.Errorf("config: saveEveryNNodes must be >= 0, got %d", c.SaveEveryNNodes)
	}
	if c.MaxSubgraphDepth < 0 {
		return fmt.Errorf("config: maxSubgraphDepth must be >= 0, got %d", c.MaxSubgraphDepth)
	}
	if c.DLQ.MaxSize < 0 || c.DLQ.MaxSizePerChannel < 0 {
		return fmt.Errorf("config: dlq bounds must be >= 0")
	}
	switch c.EventBus.Backend {
	case "", BackendInMemory, BackendStreamLog:
	case BackendLogPartitioned:
		return fmt.Errorf("config: eventBus.backend %q is recognized but has no adapter in this implementation", BackendLogPartitioned)
	default:
		return fmt.Errorf("config: eventBus.backend %q is not recognized", c.EventBus.Backend)
	}
	return nil
}

// IdempotencyOptions translates the configured TTL overrides into
// idempotency.ManagerOption values, skipping any TTL left at zero (which
// keeps idempotency.DefaultTTL for that kind).
func (c Config) IdempotencyOptions() []idempotency.ManagerOption {
	var opts []idempotency.ManagerOption
	if c.ToolCallTTL > 0 {
		opts = append(opts, idempotency.WithTTL(idempotency.KindToolCall, c.ToolCallTTL))
	}
	if c.StepTTL > 0 {
		opts = append(opts, idempotency.WithTTL(idempotency.KindStep, c.StepTTL))
	}
	if c.IntentTTL > 0 {
		opts = append(opts, idempotency.WithTTL(idempotency.KindIntent, c.IntentTTL))
	}
	return opts
}
