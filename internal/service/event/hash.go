package event

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"GateKeeper/internal/domain/models"
)

// SituationHash identifies a real-world situation across processes: the
// symbol, the sorted trigger keys with directions, and coarse price and time
// buckets. Two workers seeing the same move in the same window agree on it.
func SituationHash(symbol string, triggers []models.Trigger, price float64, at time.Time, priceBucketPct float64, timeBucket time.Duration) string {
	items := make([]string, 0, len(triggers))
	for _, t := range triggers {
		items = append(items, t.Key()+":"+string(t.Direction))
	}
	sort.Strings(items)

	var b strings.Builder
	b.WriteString(symbol)
	b.WriteByte('|')
	b.WriteString(strings.Join(items, ","))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(PriceBucket(price, priceBucketPct), 10))
	b.WriteByte('|')
	b.WriteString(strconv.FormatInt(TimeBucket(at, timeBucket), 10))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// PriceBucket is floor(ln(price)/ln(1+pct)): buckets of constant relative width.
func PriceBucket(price, pct float64) int64 {
	if price <= 0 || pct <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return 0
	}
	return int64(math.Floor(math.Log(price) / math.Log1p(pct)))
}

func TimeBucket(at time.Time, width time.Duration) int64 {
	secs := int64(width / time.Second)
	if secs <= 0 {
		return at.Unix()
	}
	return at.Unix() / secs
}
