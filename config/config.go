// Package config provides pipeline orchestration configuration - NO
// infrastructure URLs.
//
// This module contains only values relevant to pipeline orchestration:
// fan-out limits, the revision budget, quality thresholds, and timeouts.
// Infrastructure configuration (broker endpoints, model endpoints, TLS
// material) belongs to deployment wiring, not here.
package config

import (
	"fmt"
	"time"
)

// PipelineConfig holds the orchestration knobs shared by the stage services
// and the client.
type PipelineConfig struct {
	// Fan-out limits
	MaxTopics   int `json:"max_topics"`
	MaxSections int `json:"max_sections"`

	// Revision loop
	MaxRetries int     `json:"max_retries"`
	MinScore   float64 `json:"min_score"`

	// Timeouts (seconds)
	CallTimeout         int `json:"call_timeout"`         // per capability invocation
	ConversationTimeout int `json:"conversation_timeout"` // aggregator overall budget
	IdleTimeout         int `json:"idle_timeout"`         // aggregator gap between results

	// Concurrency and resilience
	WorkerPoolSize    int `json:"worker_pool_size"`
	CapabilityRetries int `json:"capability_retries"` // distinct from MaxRetries
	PublishRetries    int `json:"publish_retries"`
	DedupeWindow      int `json:"dedupe_window"` // message_ids remembered per service
}

// DefaultPipelineConfig returns a PipelineConfig with default values.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxTopics:   3,
		MaxSections: 5,

		MaxRetries: 2,
		MinScore:   7.0,

		CallTimeout:         30,
		ConversationTimeout: 120,
		IdleTimeout:         120,

		WorkerPoolSize:    4,
		CapabilityRetries: 2,
		PublishRetries:    3,
		DedupeWindow:      1024,
	}
}

// PipelineConfigFromMap creates a PipelineConfig from a map.
// Unknown keys are ignored.
func PipelineConfigFromMap(config map[string]any) *PipelineConfig {
	c := DefaultPipelineConfig()

	if v, ok := config["max_topics"].(int); ok {
		c.MaxTopics = v
	} else if v, ok := config["max_topics"].(float64); ok {
		c.MaxTopics = int(v)
	}
	if v, ok := config["max_sections"].(int); ok {
		c.MaxSections = v
	} else if v, ok := config["max_sections"].(float64); ok {
		c.MaxSections = int(v)
	}
	if v, ok := config["max_retries"].(int); ok {
		c.MaxRetries = v
	} else if v, ok := config["max_retries"].(float64); ok {
		c.MaxRetries = int(v)
	}
	if v, ok := config["min_score"].(float64); ok {
		c.MinScore = v
	} else if v, ok := config["min_score"].(int); ok {
		c.MinScore = float64(v)
	}
	if v, ok := config["call_timeout"].(int); ok {
		c.CallTimeout = v
	} else if v, ok := config["call_timeout"].(float64); ok {
		c.CallTimeout = int(v)
	}
	if v, ok := config["conversation_timeout"].(int); ok {
		c.ConversationTimeout = v
	} else if v, ok := config["conversation_timeout"].(float64); ok {
		c.ConversationTimeout = int(v)
	}
	if v, ok := config["idle_timeout"].(int); ok {
		c.IdleTimeout = v
	} else if v, ok := config["idle_timeout"].(float64); ok {
		c.IdleTimeout = int(v)
	}
	if v, ok := config["worker_pool_size"].(int); ok {
		c.WorkerPoolSize = v
	} else if v, ok := config["worker_pool_size"].(float64); ok {
		c.WorkerPoolSize = int(v)
	}
	if v, ok := config["capability_retries"].(int); ok {
		c.CapabilityRetries = v
	} else if v, ok := config["capability_retries"].(float64); ok {
		c.CapabilityRetries = int(v)
	}
	if v, ok := config["publish_retries"].(int); ok {
		c.PublishRetries = v
	} else if v, ok := config["publish_retries"].(float64); ok {
		c.PublishRetries = int(v)
	}
	if v, ok := config["dedupe_window"].(int); ok {
		c.DedupeWindow = v
	} else if v, ok := config["dedupe_window"].(float64); ok {
		c.DedupeWindow = int(v)
	}

	return c
}

// ToMap converts config to a map.
func (c *PipelineConfig) ToMap() map[string]any {
	return map[string]any{
		"max_topics":           c.MaxTopics,
		"max_sections":         c.MaxSections,
		"max_retries":          c.MaxRetries,
		"min_score":            c.MinScore,
		"call_timeout":         c.CallTimeout,
		"conversation_timeout": c.ConversationTimeout,
		"idle_timeout":         c.IdleTimeout,
		"worker_pool_size":     c.WorkerPoolSize,
		"capability_retries":   c.CapabilityRetries,
		"publish_retries":      c.PublishRetries,
		"dedupe_window":        c.DedupeWindow,
	}
}

// Validate checks that the configuration is internally consistent.
func (c *PipelineConfig) Validate() error {
	if c.MaxTopics < 1 {
		return fmt.Errorf("max_topics must be >= 1, got %d", c.MaxTopics)
	}
	if c.MaxSections < 1 {
		return fmt.Errorf("max_sections must be >= 1, got %d", c.MaxSections)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.MinScore < 0 {
		return fmt.Errorf("min_score must be >= 0, got %f", c.MinScore)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1, got %d", c.WorkerPoolSize)
	}
	if c.CallTimeout < 1 || c.ConversationTimeout < 1 || c.IdleTimeout < 1 {
		return fmt.Errorf("timeouts must be >= 1s")
	}
	// Both feed uint64 retry budgets; a negative value would wrap around
	// into an effectively unbounded budget.
	if c.CapabilityRetries < 0 {
		return fmt.Errorf("capability_retries must be >= 0, got %d", c.CapabilityRetries)
	}
	if c.PublishRetries < 0 {
		return fmt.Errorf("publish_retries must be >= 0, got %d", c.PublishRetries)
	}
	if c.DedupeWindow < 1 {
		return fmt.Errorf("dedupe_window must be >= 1, got %d", c.DedupeWindow)
	}
	return nil
}

// CallTimeoutDuration returns the per-capability-call timeout as a Duration.
func (c *PipelineConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(c.CallTimeout) * time.Second
}

// ConversationTimeoutDuration returns the overall conversation budget.
func (c *PipelineConfig) ConversationTimeoutDuration() time.Duration {
	return time.Duration(c.ConversationTimeout) * time.Second
}

// IdleTimeoutDuration returns the aggregator idle budget.
func (c *PipelineConfig) IdleTimeoutDuration() time.Duration {
	return time.Duration(c.IdleTimeout) * time.Second
}
