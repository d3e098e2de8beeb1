// Package cmn provides common low-level types and utilities shared by every
// component of the server: ID generation, logging, config persistence and
// debug assertions.
package cmn

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/teris-io/shortid"
)

// Alphabet for generating opaque keys: the same 64 symbols as the upstream
// shortid.DEFAULT_ABC in a different order, '-' and '_' included.
// GenOpaqueKey pads keys that start with a non-letter or end in '-' or '_'.
const uuidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var sid *shortid.Shortid

func init() {
	// seed does not need to be cryptographically strong: it only perturbs
	// the generator's internal counter so two fresh processes don't emit
	// the same first few IDs.
	sid = shortid.MustNew(4 /*worker*/, uuidABC, uint64(time.Now().UnixNano()))
}

// GenOpaqueKey returns a short, human-distinguishable, globally unique
// string. Used wherever the spec calls for an "opaque" identifier that must
// not leak ordering or structure: storage_key, inner_name, upload_id, nonce.
func GenOpaqueKey() string {
	id := sid.MustGenerate()
	var h, t string
	if !isAlpha(id[0]) {
		h = string(rune('a' + rand.Intn(26)))
	}
	if c := id[len(id)-1]; c == '-' || c == '_' {
		t = string(rune('a' + rand.Intn(26)))
	}
	return h + id + t
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Snowflake is a monotonically-increasing 64-bit ID generator that needs no
// database round trip. Layout (similar in spirit to Twitter's snowflake):
//
//	1 bit unused | 41 bits ms-since-epoch | 10 bits worker | 12 bits sequence
//
// The teacher's own cmn.GenTie uses an atomic counter to break ties between
// IDs minted in the same tick; Snowflake generalizes that idea to a full
// 64-bit sortable ID instead of a 3-character tie-breaker.
type Snowflake struct {
	epochMS int64
	worker  int64
	seq     atomic.Int64
	lastMS  atomic.Int64
}

const (
	snowflakeWorkerBits = 10
	snowflakeSeqBits    = 12
	snowflakeWorkerMax  = 1<<snowflakeWorkerBits - 1
	snowflakeSeqMax     = 1<<snowflakeSeqBits - 1
)

// NewSnowflake creates a generator. epoch is the reference instant IDs are
// offset from (so bit-packed timestamps stay small); worker must be unique
// per running process sharing the same epoch and ID space.
func NewSnowflake(epoch time.Time, worker int64) *Snowflake {
	Assertf(worker >= 0 && worker <= snowflakeWorkerMax, "cmn: snowflake worker id %d out of range [0,%d]", worker, snowflakeWorkerMax)
	return &Snowflake{epochMS: epoch.UnixMilli(), worker: worker}
}

// Next returns the next monotonically-increasing ID. Safe for concurrent use.
func (s *Snowflake) Next() int64 {
	for {
		nowMS := time.Now().UnixMilli() - s.epochMS
		last := s.lastMS.Load()
		var seq int64
		if nowMS == last {
			seq = s.seq.Add(1)
			if seq > snowflakeSeqMax {
				// exhausted this millisecond's sequence space; spin to the next tick
				continue
			}
		} else if nowMS > last {
			if !s.lastMS.CompareAndSwap(last, nowMS) {
				continue
			}
			s.seq.Store(0)
			seq = 0
		} else {
			// clock moved backwards; fall back to the last millisecond we issued
			nowMS = last
			seq = s.seq.Add(1)
			if seq > snowflakeSeqMax {
				continue
			}
		}
		return (nowMS << (snowflakeWorkerBits + snowflakeSeqBits)) |
			(s.worker << snowflakeSeqBits) |
			seq
	}
}

// NowMS returns the current time in Unix milliseconds, the unit the spec
// uses for create_time/update_time/delete_time columns.
func NowMS() int64 { return time.Now().UnixMilli() }
