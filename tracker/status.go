package tracker

import (
	"fmt"
	"hash/fnv"
)

// Status names for the five built-in statuses.
const (
	StatusNamePending    = "pending"
	StatusNameInProgress = "in_progress"
	StatusNameFailed     = "failed"
	StatusNameSucceeded  = "succeeded"
	StatusNameIgnored    = "ignored"
)

// stableShard assigns a task to a shard in [0, count). The assignment
// depends only on the task ID, so a task always lands in the same shard
// of a given status.
func stableShard(taskID string, count int) int {
	h := fnv.New64a()
	h.Write([]byte(taskID))
	return int(h.Sum64() % uint64(count))
}

// MakeKey joins the use case and task ID into the partition key.
func (c *Config) MakeKey(taskID string) string {
	return c.UseCaseID + c.Separator + taskID
}

// TaskIDFromKey returns the task ID part of a partition key.
func (c *Config) TaskIDFromKey(key string) string {
	return key[len(c.UseCaseID)+len(c.Separator):]
}

// ShardCount returns the number of index shards for a status.
// Returns ErrInvalidStatus for codes not declared in the config.
func (c *Config) ShardCount(status int) (int, error) {
	n, ok := c.shardCounts[status]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStatus, status)
	}
	return n, nil
}

// MakeValue renders the secondary-index attribute for a task in the
// given status: use case, zero-padded status code and zero-padded shard,
// joined by the separator. The shard is derived from the task ID.
func (c *Config) MakeValue(status int, taskID string) (string, error) {
	n, err := c.ShardCount(status)
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return "", fmt.Errorf("%w: %d for status %d", ErrInvalidShardCount, n, status)
	}
	return c.valueForShard(status, stableShard(taskID, n)), nil
}

// valueForShard renders the index attribute for an explicit shard.
// Shard validity is the caller's concern.
func (c *Config) valueForShard(status, shard int) string {
	return fmt.Sprintf("%s%s%0*d%s%0*d",
		c.UseCaseID, c.Separator,
		c.StatusPad, status, c.Separator,
		c.ShardPad, shard)
}

// StatusName returns the human readable name for a status code.
// Custom codes outside the built-in five render as "status_<code>".
func (c *Config) StatusName(status int) string {
	if name, ok := c.names[status]; ok {
		return name
	}
	return fmt.Sprintf("status_%d", status)
}
