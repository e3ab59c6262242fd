package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "pricing:"
	genKeyPrefix   = "pricing:gen:"
)

// CachedRepo is a Redis read-through cache in front of another Repository.
//
// Rules:
// - only found rows are cached; a missing price always reaches the source
// - writes go to the source first, then bump the action's generation and drop the row
// - a cached row is served only while its generation is current, so a reader
//   that fetched the old row before an update can never reinstate it
// - Redis failures degrade to the source and are logged, never returned
type CachedRepo struct {
	next Repository
	rdb  redis.Cmdable
	ttl  time.Duration
	log  *slog.Logger
}

func NewCachedRepo(next Repository, rdb redis.Cmdable, ttl time.Duration, log *slog.Logger) *CachedRepo {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CachedRepo{next: next, rdb: rdb, ttl: ttl, log: log}
}

type cachedPrice struct {
	ActionPrice
	Gen int64 `json:"gen"`
}

func cacheKey(actionType ActionType) string {
	return cacheKeyPrefix + string(actionType)
}

func genKey(actionType ActionType) string {
	return genKeyPrefix + string(actionType)
}

func (r *CachedRepo) FindPrice(ctx context.Context, actionType ActionType) (ActionPrice, bool, error) {
	// The generation is read before the source so that an update committed
	// after this point always outdates whatever we write back.
	gen, cacheable := int64(0), false
	vals, err := r.rdb.MGet(ctx, cacheKey(actionType), genKey(actionType)).Result()
	switch {
	case err != nil:
		r.log.Warn("pricing cache read failed", "action_type", actionType, "err", err)
	case len(vals) != 2:
		r.log.Warn("pricing cache read returned unexpected shape", "action_type", actionType)
	default:
		g, gerr := parseGen(vals[1])
		if gerr != nil {
			r.log.Warn("pricing cache generation corrupt", "action_type", actionType, "err", gerr)
			break
		}
		gen, cacheable = g, true
		if raw, ok := vals[0].(string); ok {
			var c cachedPrice
			if jerr := json.Unmarshal([]byte(raw), &c); jerr != nil || c.UnitCost <= 0 {
				r.log.Warn("pricing cache entry corrupt", "action_type", actionType)
			} else if c.Gen == gen {
				return c.ActionPrice, true, nil
			}
		}
	}

	p, ok, err := r.next.FindPrice(ctx, actionType)
	if err != nil || !ok {
		return p, ok, err
	}

	if cacheable {
		if b, jerr := json.Marshal(cachedPrice{ActionPrice: p, Gen: gen}); jerr == nil {
			if serr := r.rdb.Set(ctx, cacheKey(actionType), b, r.ttl).Err(); serr != nil {
				r.log.Warn("pricing cache write failed", "action_type", actionType, "err", serr)
			}
		}
	}
	return p, true, nil
}

func (r *CachedRepo) ListPrices(ctx context.Context) ([]ActionPrice, error) {
	return r.next.ListPrices(ctx)
}

func (r *CachedRepo) UpsertPrice(ctx context.Context, p ActionPrice) (ActionPrice, error) {
	out, err := r.next.UpsertPrice(ctx, p)
	if err != nil {
		return ActionPrice{}, err
	}
	if ierr := r.rdb.Incr(ctx, genKey(p.ActionType)).Err(); ierr != nil {
		r.log.Warn("pricing cache generation bump failed", "action_type", p.ActionType, "err", ierr)
	}
	if derr := r.rdb.Del(ctx, cacheKey(p.ActionType)).Err(); derr != nil {
		r.log.Warn("pricing cache invalidate failed", "action_type", p.ActionType, "err", derr)
	}
	return out, nil
}

func parseGen(v any) (int64, error) {
	switch g := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseInt(g, 10, 64)
	default:
		return 0, errors.New("unexpected generation type")
	}
}
