package market

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"
)

// FingerprintBucketSeconds is the default dedup window; overridable via
// config.Config.FingerprintBucketSeconds.
const FingerprintBucketSeconds = 60

// priceTierBucket log-spaces the mid price into a coarse bucket so that two
// detections of "the same condition" a few cents apart still collapse to
// one fingerprint. Each bucket spans a ~12% step in price, matched to
// typical intraday crypto volatility.
func priceTierBucket(mid float64) int64 {
	if mid <= 0 {
		return 0
	}
	return int64(math.Floor(math.Log(mid) / math.Log(1.12)))
}

// Fingerprint computes the deterministic 128-bit (as 32 hex chars) identity
// of an opportunity from its defining inputs, per spec section 4.2. Equal
// inputs always produce equal output; this is a pure function, not tied to
// wall-clock "now".
func Fingerprint(kind Kind, exchanges []string, pair string, detectedAt time.Time, bucketSeconds int, mid float64) string {
	if bucketSeconds <= 0 {
		bucketSeconds = FingerprintBucketSeconds
	}
	sorted := append([]string(nil), exchanges...)
	sort.Strings(sorted)

	bucket := detectedAt.Unix() / int64(bucketSeconds)
	tier := priceTierBucket(mid)

	seed := fmt.Sprintf("%s|%s|%s|%d|%d", kind, strings.Join(sorted, ","), pair, bucket, tier)

	h1 := fnv.New64a()
	_, _ = h1.Write([]byte(seed))
	sum1 := h1.Sum64()

	h2 := fnv.New64a()
	_, _ = h2.Write([]byte(seed + "|salt"))
	sum2 := h2.Sum64()

	return fmt.Sprintf("%016x%016x", sum1, sum2)
}
