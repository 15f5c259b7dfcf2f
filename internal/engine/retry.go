package engine

import (
	"context"
	"time"

	"github.com/kordes/nodeflow/pkg/schema"
)

// backoffUnit is the linear backoff step: attempt N waits N * backoffUnit.
const backoffUnit = time.Second

// policyOf reads the node's onError policy from config, defaulting to stop.
func policyOf(node schema.NodeDefinition) schema.ErrorPolicy {
	if v, ok := node.Config["onError"].(string); ok {
		switch schema.ErrorPolicy(v) {
		case schema.ErrorPolicyStop, schema.ErrorPolicySkip, schema.ErrorPolicyRetry:
			return schema.ErrorPolicy(v)
		}
	}
	return schema.ErrorPolicyStop
}

// maxRetriesOf reads config.maxRetries, defaulting to schema.DefaultMaxRetries.
func maxRetriesOf(node schema.NodeDefinition) int {
	switch v := node.Config["maxRetries"].(type) {
	case int:
		if v >= 0 {
			return v
		}
	case float64:
		if v >= 0 {
			return int(v)
		}
	}
	return schema.DefaultMaxRetries
}

// waitForBackoff sleeps the linear backoff for the given attempt, aborting
// early on context cancellation.
func waitForBackoff(ctx context.Context, retryCount int) error {
	timer := time.NewTimer(time.Duration(retryCount) * backoffUnit)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return schema.NewError(schema.ErrCodeCancelled, "cancelled during retry backoff").WithCause(ctx.Err())
	}
}

// escalates reports whether an error bypasses the per-node onError policy.
// Only timeouts and cancellations abort the run unconditionally; whatever an
// executor throws, including its own validation failures, goes through the
// node's policy. An unregistered node type never reaches policy handling:
// dispatch lookup fails before the executor runs.
func escalates(err error) bool {
	switch schema.CodeOf(err) {
	case schema.ErrCodeTimeout, schema.ErrCodeCancelled:
		return true
	}
	return false
}
