package tracker

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Default policy values applied by NewConfig.
const (
	DefaultSeparator      = "____"
	DefaultStatusPad      = 3
	DefaultShardPad       = 3
	DefaultLockExpire     = 5 * time.Minute
	DefaultTracebackLimit = 10
)

// Standard status codes, applied when a Config leaves all five at zero.
// The gaps leave room for custom codes in between.
const (
	DefaultPendingStatus    = 10
	DefaultInProgressStatus = 20
	DefaultFailedStatus     = 30
	DefaultSucceededStatus  = 40
	DefaultIgnoredStatus    = 50
)

// Config binds a use case to its status vocabulary and operational
// policy. Build one through NewConfig (or LoadConfig) and treat it as
// read-only for the life of the process.
type Config struct {
	// UseCaseID names the task type. One store can serve many use cases.
	UseCaseID string

	// Status codes. The closer a status is to the end of the lifecycle,
	// the larger its code should be, so rendered values sort by progress.
	PendingStatus    int
	InProgressStatus int
	FailedStatus     int
	SucceededStatus  int
	IgnoredStatus    int

	// MorePendingStatus lists custom codes that count as ready-to-start,
	// in addition to pending and failed.
	MorePendingStatus []int

	// Per-status index shard counts. Statuses written or queried often
	// deserve more shards to avoid hot partitions. Default: 1 each.
	PendingShards    int
	InProgressShards int
	FailedShards     int
	SucceededShards  int
	IgnoredShards    int

	// MorePendingShards optionally overrides the shard count for a
	// MorePendingStatus code. Codes not listed use PendingShards.
	MorePendingShards map[int]int

	// Separator joins the segments of keys and index values.
	// Default: "____".
	Separator string

	// StatusPad and ShardPad are the zero-pad widths that keep rendered
	// values string-sortable. Defaults: 3 and 3.
	StatusPad int
	ShardPad  int

	// MaxRetry is how many failures are tolerated before a task is
	// ignored. Zero means the first failure already ignores the task.
	MaxRetry int

	// LockExpire is how long a lock may be held before any worker may
	// take it over. Default: 5 minutes.
	LockExpire time.Duration

	// TracebackLimit caps the recorded stack frames per failure entry.
	// Default: 10.
	TracebackLimit int

	shardCounts map[int]int
	names       map[int]string
}

// NewConfig applies defaults, validates and returns an immutable copy.
// Validation reports every violated constraint, not just the first.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Separator == "" {
		cfg.Separator = DefaultSeparator
	}
	if cfg.StatusPad == 0 {
		cfg.StatusPad = DefaultStatusPad
	}
	if cfg.ShardPad == 0 {
		cfg.ShardPad = DefaultShardPad
	}
	if cfg.LockExpire == 0 {
		cfg.LockExpire = DefaultLockExpire
	}
	if cfg.TracebackLimit == 0 {
		cfg.TracebackLimit = DefaultTracebackLimit
	}
	if cfg.PendingStatus == 0 && cfg.InProgressStatus == 0 && cfg.FailedStatus == 0 &&
		cfg.SucceededStatus == 0 && cfg.IgnoredStatus == 0 {
		cfg.PendingStatus = DefaultPendingStatus
		cfg.InProgressStatus = DefaultInProgressStatus
		cfg.FailedStatus = DefaultFailedStatus
		cfg.SucceededStatus = DefaultSucceededStatus
		cfg.IgnoredStatus = DefaultIgnoredStatus
	}
	if cfg.PendingShards == 0 {
		cfg.PendingShards = 1
	}
	if cfg.InProgressShards == 0 {
		cfg.InProgressShards = 1
	}
	if cfg.FailedShards == 0 {
		cfg.FailedShards = 1
	}
	if cfg.SucceededShards == 0 {
		cfg.SucceededShards = 1
	}
	if cfg.IgnoredShards == 0 {
		cfg.IgnoredShards = 1
	}

	var violations []string
	if cfg.UseCaseID == "" {
		violations = append(violations, "use_case_id is required")
	}
	if strings.Contains(cfg.UseCaseID, cfg.Separator) {
		violations = append(violations, "use_case_id must not contain the separator")
	}

	codes := map[int]string{}
	for _, sc := range []struct {
		name string
		code int
	}{
		{StatusNamePending, cfg.PendingStatus},
		{StatusNameInProgress, cfg.InProgressStatus},
		{StatusNameFailed, cfg.FailedStatus},
		{StatusNameSucceeded, cfg.SucceededStatus},
		{StatusNameIgnored, cfg.IgnoredStatus},
	} {
		if prev, dup := codes[sc.code]; dup {
			violations = append(violations,
				fmt.Sprintf("status code %d assigned to both %s and %s", sc.code, prev, sc.name))
		}
		codes[sc.code] = sc.name
		if sc.code < 0 {
			violations = append(violations,
				fmt.Sprintf("%s status code must be >= 0, got %d", sc.name, sc.code))
		}
	}
	for _, code := range cfg.MorePendingStatus {
		if name, dup := codes[code]; dup {
			violations = append(violations,
				fmt.Sprintf("more_pending status %d collides with %s", code, name))
		}
		if code < 0 {
			violations = append(violations,
				fmt.Sprintf("more_pending status code must be >= 0, got %d", code))
		}
	}

	shards := map[string]int{
		StatusNamePending:    cfg.PendingShards,
		StatusNameInProgress: cfg.InProgressShards,
		StatusNameFailed:     cfg.FailedShards,
		StatusNameSucceeded:  cfg.SucceededShards,
		StatusNameIgnored:    cfg.IgnoredShards,
	}
	for name, n := range shards {
		if n <= 0 {
			violations = append(violations,
				fmt.Sprintf("%s shard count must be positive, got %d", name, n))
		}
	}
	for code, n := range cfg.MorePendingShards {
		if n <= 0 {
			violations = append(violations,
				fmt.Sprintf("shard count for status %d must be positive, got %d", code, n))
		}
	}
	if cfg.MaxRetry < 0 {
		violations = append(violations,
			fmt.Sprintf("max_retry must be >= 0, got %d", cfg.MaxRetry))
	}
	if cfg.LockExpire <= 0 {
		violations = append(violations,
			fmt.Sprintf("lock_expire must be positive, got %v", cfg.LockExpire))
	}

	if len(violations) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(violations, "; "))
	}

	cfg.shardCounts = map[int]int{
		cfg.PendingStatus:    cfg.PendingShards,
		cfg.InProgressStatus: cfg.InProgressShards,
		cfg.FailedStatus:     cfg.FailedShards,
		cfg.SucceededStatus:  cfg.SucceededShards,
		cfg.IgnoredStatus:    cfg.IgnoredShards,
	}
	for _, code := range cfg.MorePendingStatus {
		n := cfg.PendingShards
		if override, ok := cfg.MorePendingShards[code]; ok {
			n = override
		}
		cfg.shardCounts[code] = n
	}
	cfg.names = map[int]string{
		cfg.PendingStatus:    StatusNamePending,
		cfg.InProgressStatus: StatusNameInProgress,
		cfg.FailedStatus:     StatusNameFailed,
		cfg.SucceededStatus:  StatusNameSucceeded,
		cfg.IgnoredStatus:    StatusNameIgnored,
	}
	return &cfg, nil
}

// fileConfig is the TOML shape of a use-case policy file.
type fileConfig struct {
	UseCaseID      string `toml:"use_case_id"`
	Separator      string `toml:"separator"`
	StatusPad      int    `toml:"status_pad"`
	ShardPad       int    `toml:"shard_pad"`
	MaxRetry       int    `toml:"max_retry"`
	LockExpire     string `toml:"lock_expire"`
	TracebackLimit int    `toml:"traceback_limit"`

	Statuses struct {
		Pending     int   `toml:"pending"`
		InProgress  int   `toml:"in_progress"`
		Failed      int   `toml:"failed"`
		Succeeded   int   `toml:"succeeded"`
		Ignored     int   `toml:"ignored"`
		MorePending []int `toml:"more_pending"`
	} `toml:"statuses"`

	Shards struct {
		Pending     int            `toml:"pending"`
		InProgress  int            `toml:"in_progress"`
		Failed      int            `toml:"failed"`
		Succeeded   int            `toml:"succeeded"`
		Ignored     int            `toml:"ignored"`
		MorePending map[string]int `toml:"more_pending"`
	} `toml:"shards"`
}

// LoadConfig reads a TOML use-case policy file and validates it through
// NewConfig.
func LoadConfig(path string) (*Config, error) {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg := Config{
		UseCaseID:         fc.UseCaseID,
		Separator:         fc.Separator,
		StatusPad:         fc.StatusPad,
		ShardPad:          fc.ShardPad,
		MaxRetry:          fc.MaxRetry,
		TracebackLimit:    fc.TracebackLimit,
		PendingStatus:     fc.Statuses.Pending,
		InProgressStatus:  fc.Statuses.InProgress,
		FailedStatus:      fc.Statuses.Failed,
		SucceededStatus:   fc.Statuses.Succeeded,
		IgnoredStatus:     fc.Statuses.Ignored,
		MorePendingStatus: fc.Statuses.MorePending,
		PendingShards:     fc.Shards.Pending,
		InProgressShards:  fc.Shards.InProgress,
		FailedShards:      fc.Shards.Failed,
		SucceededShards:   fc.Shards.Succeeded,
		IgnoredShards:     fc.Shards.Ignored,
	}
	if fc.LockExpire != "" {
		d, err := time.ParseDuration(fc.LockExpire)
		if err != nil {
			return nil, fmt.Errorf("%w: bad lock_expire %q: %v", ErrInvalidConfig, fc.LockExpire, err)
		}
		cfg.LockExpire = d
	}
	if len(fc.Shards.MorePending) > 0 {
		cfg.MorePendingShards = make(map[int]int, len(fc.Shards.MorePending))
		for code, n := range fc.Shards.MorePending {
			var c int
			if _, err := fmt.Sscanf(code, "%d", &c); err != nil {
				return nil, fmt.Errorf("%w: bad more_pending shard key %q", ErrInvalidConfig, code)
			}
			cfg.MorePendingShards[c] = n
		}
	}
	return NewConfig(cfg)
}
