package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/datallboy/manifetch/internal/domain"
	"github.com/datallboy/manifetch/internal/infra/logger"
	"github.com/redis/go-redis/v9"
)

// ProgressChannel carries every snapshot as JSON.
const ProgressChannel = "manifetch:progress"

const writeTimeout = 2 * time.Second

// RedisObserver mirrors run snapshots into Redis so other processes can
// follow a run: one hash per run plus a pub/sub feed.
type RedisObserver struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logger.Logger
}

func NewRedisObserver(rdb *redis.Client, ttl time.Duration, log *logger.Logger) *RedisObserver {
	return &RedisObserver{rdb: rdb, ttl: ttl, logger: log}
}

// RunKey returns the hash holding the latest snapshot of a run.
func RunKey(runID string) string {
	return fmt.Sprintf("manifetch:run:%s", runID)
}

// Update writes s to the run hash and publishes it. Redis being unavailable
// never affects the run; failures are logged.
func (o *RedisObserver) Update(s domain.Snapshot) {
	if s.RunID == "" {
		return
	}

	payload, err := json.Marshal(s)
	if err != nil {
		o.logger.Error("Failed to encode snapshot: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	key := RunKey(s.RunID)
	pipe := o.rdb.TxPipeline()
	pipe.HSet(ctx, key, snapshotFields(s))
	if o.ttl > 0 {
		pipe.Expire(ctx, key, o.ttl)
	}
	pipe.Publish(ctx, ProgressChannel, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		o.logger.Warn("Failed to mirror run %s to redis: %v", s.RunID, err)
	}
}

// Load reads back the snapshot stored for runID.
func (o *RedisObserver) Load(ctx context.Context, runID string) (domain.Snapshot, error) {
	data, err := o.rdb.HGetAll(ctx, RunKey(runID)).Result()
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(data) == 0 {
		return domain.Snapshot{}, redis.Nil
	}
	return snapshotFromFields(data), nil
}

// snapshotFields flattens s into hash fields. Empty optional fields are
// omitted, matching what Load expects.
func snapshotFields(s domain.Snapshot) map[string]any {
	fields := map[string]any{
		"run_id":        s.RunID,
		"status":        string(s.Status),
		"paused":        strconv.FormatBool(s.Paused),
		"completed":     s.Completed,
		"total":         s.Total,
		"succeeded":     s.Succeeded,
		"failed":        s.Failed,
		"cancelled":     s.Cancelled,
		"bytes_written": s.BytesWritten,
		"started_at":    s.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if !s.FinishedAt.IsZero() {
		fields["finished_at"] = s.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.Error != "" {
		fields["error"] = s.Error
	}
	return fields
}

func snapshotFromFields(data map[string]string) domain.Snapshot {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(data[k])
		return n
	}

	s := domain.Snapshot{
		RunID:     data["run_id"],
		Status:    domain.RunStatus(data["status"]),
		Completed: atoi("completed"),
		Total:     atoi("total"),
		Succeeded: atoi("succeeded"),
		Failed:    atoi("failed"),
		Cancelled: atoi("cancelled"),
		Error:     data["error"],
	}
	s.Paused, _ = strconv.ParseBool(data["paused"])
	s.BytesWritten, _ = strconv.ParseUint(data["bytes_written"], 10, 64)
	s.StartedAt, _ = time.Parse(time.RFC3339Nano, data["started_at"])
	if v, ok := data["finished_at"]; ok {
		s.FinishedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return s
}
