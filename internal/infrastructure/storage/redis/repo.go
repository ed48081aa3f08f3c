package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"xledger/internal/application/port"
	"xledger/internal/domain/model"
)

// releaseScript deletes the lock only if it still belongs to the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`)

// refreshScript extends the lock TTL only if it still belongs to the caller.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// ErrLockLost is returned by Refresh when another holder took the token.
var ErrLockLost = errors.New("run lock lost")

// Repo holds the cross-process run token and publishes run snapshots.
type Repo struct {
	rdb        *redis.Client
	prefix     string
	runStream  string
	runChannel string
	streamLen  int64
}

func New(rdb *redis.Client, prefix, runStream, runChannel string) *Repo {
	if strings.TrimSpace(prefix) == "" {
		prefix = "xledger"
	}
	if strings.TrimSpace(runStream) == "" {
		runStream = prefix + ":runs"
	}
	if strings.TrimSpace(runChannel) == "" {
		runChannel = prefix + ":runs:pub"
	}
	return &Repo{
		rdb:        rdb,
		prefix:     prefix,
		runStream:  runStream,
		runChannel: runChannel,
		streamLen:  10000,
	}
}

func (r *Repo) lockKey(account string) string {
	return r.prefix + ":sync-lock:" + account
}

func (r *Repo) TryAcquire(ctx context.Context, account, runID string, ttl time.Duration) (bool, string, error) {
	key := r.lockKey(account)
	ok, err := r.rdb.SetNX(ctx, key, runID, ttl).Result()
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, runID, nil
	}
	holder, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; let the caller retry
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return false, holder, nil
}

func (r *Repo) Refresh(ctx context.Context, account, runID string, ttl time.Duration) error {
	n, err := refreshScript.Run(ctx, r.rdb, []string{r.lockKey(account)}, runID, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

func (r *Repo) Release(ctx context.Context, account, runID string) error {
	return releaseScript.Run(ctx, r.rdb, []string{r.lockKey(account)}, runID).Err()
}

// PublishRun appends the snapshot to the run stream and announces it on the
// pub/sub channel.
func (r *Repo) PublishRun(ctx context.Context, run model.SyncRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> MAXLEN ~ n * run status payload
	_, err = r.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: r.runStream,
		MaxLen: r.streamLen,
		Approx: true,
		Values: map[string]any{
			"run":     run.ID,
			"account": run.Account,
			"status":  string(run.Status),
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return r.rdb.Publish(ctx, r.runChannel, payload).Err()
}

var (
	_ port.RunLock      = (*Repo)(nil)
	_ port.RunEventSink = (*Repo)(nil)
)
