package dbengine

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goatkit/chimesgate/internal/config"
	"github.com/goatkit/chimesgate/internal/invoker"
)

// snowflake is a minimal Twitter-style 64-bit id generator: 41 bits of
// millisecond timestamp since chimesEpoch, 10 bits of node id, 12 bits of
// per-millisecond sequence. No snowflake-id library appears anywhere in
// the example pack (see DESIGN.md), so this is hand-written rather than
// imported — the one generator tag without a natural third-party home.
type snowflake struct {
	mu       sync.Mutex
	nodeID   int64
	lastMs   int64
	sequence int64
}

const chimesEpochMillis = 1700000000000 // 2023-11-14, arbitrary fixed epoch

var defaultSnowflake = &snowflake{nodeID: 1}

func (s *snowflake) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UnixMilli()
	if now == s.lastMs {
		s.sequence = (s.sequence + 1) & 0xFFF
		if s.sequence == 0 {
			for now <= s.lastMs {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastMs = now

	return (now-chimesEpochMillis)<<22 | (s.nodeID << 12) | s.sequence
}

// resolveGenerator computes the value for a generated column per
// original_source/chimes-store-dbs/src/dbs/crud.rs's tag resolution.
// isUpdate selects between the insert-time and mod_* tags; autoincrement
// is handled separately by the caller (it's omitted from the insert list
// entirely, not resolved to a value here).
func resolveGenerator(col config.Column, ic *invoker.Context, isUpdate bool) (interface{}, bool) {
	now := time.Now()
	var claims *invoker.JWTClaims
	if ic != nil {
		claims = ic.Claims()
	}

	switch col.Generator {
	case config.GenSnowflakeID:
		if isUpdate {
			return nil, false
		}
		return defaultSnowflake.next(), true
	case config.GenUUID:
		if isUpdate {
			return nil, false
		}
		return uuid.NewString(), true
	case config.GenCurUserID:
		if isUpdate || claims == nil {
			return nil, false
		}
		return claims.UserID, true
	case config.GenCurUserName:
		if isUpdate || claims == nil {
			return nil, false
		}
		return claims.Username, true
	case config.GenCurDateTime:
		if isUpdate {
			return nil, false
		}
		return now.Format(time.RFC3339), true
	case config.GenCurDate:
		if isUpdate {
			return nil, false
		}
		return now.Format("2006-01-02"), true
	case config.GenCurTime:
		if isUpdate {
			return nil, false
		}
		return now.Format("15:04:05"), true
	case config.GenModUserID:
		if !isUpdate || claims == nil {
			return nil, false
		}
		return claims.UserID, true
	case config.GenModUserName:
		if !isUpdate || claims == nil {
			return nil, false
		}
		return claims.Username, true
	case config.GenModDateTime:
		if !isUpdate {
			return nil, false
		}
		return now.Format(time.RFC3339), true
	case config.GenModDate:
		if !isUpdate {
			return nil, false
		}
		return now.Format("2006-01-02"), true
	case config.GenModTime:
		if !isUpdate {
			return nil, false
		}
		return now.Format("15:04:05"), true
	default:
		return nil, false
	}
}
