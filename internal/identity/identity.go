// Package identity derives the deterministic ledger id of a transaction.
//
// Ids are UUIDv5 values (SHA-1 over the OID namespace) computed from an
// ordered tuple of provenance fields, so re-ingesting the same upstream event
// always produces the same id and the ledger's insert-if-absent deduplicates it.
package identity

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"cryptoLedger/internal/domain"
)

// Options configures a Deriver.
type Options struct {
	// ForceUnique mixes the clock and a sequence number into every id, which
	// disables deduplication. Only for records that must never be merged.
	ForceUnique bool
	// Clock is read only when ForceUnique is set. Defaults to time.Now.
	Clock func() time.Time
}

// Deriver turns provenance tuples into ids.
type Deriver struct {
	forceUnique bool
	clock       func() time.Time
	seq         atomic.Uint64
}

// New creates a Deriver.
func New(opts Options) *Deriver {
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Deriver{forceUnique: opts.ForceUnique, clock: clock}
}

// Derive returns the id of an ordered field tuple.
func (d *Deriver) Derive(fields ...string) string {
	key := encode(fields)
	if d.forceUnique {
		key += encode([]string{
			d.clock().UTC().Format(time.RFC3339Nano),
			strconv.FormatUint(d.seq.Add(1), 10),
		})
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

// ForRecord picks the identity tuple for a producer record. The upstream id is
// preferred; exchanges such as Binance only guarantee trade ids per symbol, so
// the symbol is part of the native tuple. Records without a native id fall back
// to their raw provenance fields.
func (d *Deriver) ForRecord(rec domain.Record) string {
	if rec.NativeID != "" {
		return d.Derive(rec.Exchange, rec.Owner, string(rec.TxnType), rec.AssetSymbol, rec.NativeID)
	}
	fields := make([]string, 0, len(rec.Provenance)+2)
	fields = append(fields, rec.Exchange, rec.Owner)
	fields = append(fields, rec.Provenance...)
	return d.Derive(fields...)
}

// encode length-prefixes every field so that ("a_b", "c") and ("a", "b_c")
// never share an encoding.
func encode(fields []string) string {
	var sb strings.Builder
	for _, f := range fields {
		sb.WriteString(strconv.Itoa(len(f)))
		sb.WriteByte(':')
		sb.WriteString(f)
		sb.WriteByte('|')
	}
	return sb.String()
}
