// Package matcher pairs equivalent binary markets across venues. Matching is
// rule-based: explicit asset alias and resolution-source tables, a resolution
// time tolerance, and a threshold tick check. No fuzzy scoring.
package matcher

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/crossarb/internal/domain"
)

// Options tunes the matching rules.
type Options struct {
	// TimeTolerance bounds |t_kalshi - t_poly| for aligned venue clocks.
	TimeTolerance time.Duration
	// QuantizationOffset maps an asset tag to a calibrated one-shot
	// resolution-time offset applied to the Polymarket side before the
	// tolerance check. Offsets must be within ±900s and are only applied
	// when configured, never inferred.
	QuantizationOffset map[string]time.Duration
	// ThresholdTick is the coarsest strike grid across both venues. Two
	// thresholds match when they differ by at most one tick.
	ThresholdTick float64
}

const maxQuantizationOffset = 15 * time.Minute

// Matcher produces MatchedPairs from two per-venue catalogs.
type Matcher struct {
	opts   Options
	logger *slog.Logger
}

// New returns a Matcher. Offsets outside ±900s are dropped with a warning.
func New(opts Options, logger *slog.Logger) *Matcher {
	if opts.TimeTolerance <= 0 {
		opts.TimeTolerance = 60 * time.Second
	}
	if opts.ThresholdTick <= 0 {
		opts.ThresholdTick = 1.0
	}
	for asset, off := range opts.QuantizationOffset {
		if off > maxQuantizationOffset || off < -maxQuantizationOffset {
			logger.Warn("dropping out-of-range quantization offset",
				"asset", asset, "offset", off.String())
			delete(opts.QuantizationOffset, asset)
		}
	}
	return &Matcher{opts: opts, logger: logger.With("component", "matcher")}
}

// Match scans both catalogs and returns every equivalent pair. Each market
// pairs at most once; the first acceptable counterpart wins. Complexity is
// O(N*M) over catalog sizes, acceptable at 15-minute market scales.
func (m *Matcher) Match(kalshi, poly []domain.Market) []domain.MatchedPair {
	var pairs []domain.MatchedPair
	usedPoly := make(map[int]bool, len(poly))

	for _, km := range kalshi {
		if km.Venue != domain.VenueKalshi {
			continue
		}
		for j, pm := range poly {
			if usedPoly[j] || pm.Venue != domain.VenuePolymarket {
				continue
			}
			asset, ok := m.equivalent(km, pm)
			if !ok {
				continue
			}
			pair := domain.MatchedPair{
				ID:             uuid.NewString(),
				Kalshi:         km,
				Polymarket:     pm,
				Asset:          asset,
				ResolutionTime: km.ResolutionTime,
				Key:            domain.PairKey(asset, km.ResolutionTime),
				CreatedAt:      time.Now().UTC(),
			}
			pairs = append(pairs, pair)
			usedPoly[j] = true
			m.logger.Info("matched pair",
				"asset", asset,
				"kalshi", km.Instrument,
				"polymarket", pm.Instrument,
				"resolution", km.ResolutionTime.UTC().Format(time.RFC3339))
			break
		}
	}
	return pairs
}

// Recheck reports whether an existing pair still satisfies the matching
// rules. Used to detect semantic-equivalence breaks on live pairs.
func (m *Matcher) Recheck(pair domain.MatchedPair) bool {
	_, ok := m.equivalent(pair.Kalshi, pair.Polymarket)
	return ok
}

// equivalent applies all rules and returns the canonical asset tag on
// success.
func (m *Matcher) equivalent(km, pm domain.Market) (string, bool) {
	kAsset := m.asset(km)
	pAsset := m.asset(pm)
	if kAsset == "" || kAsset != pAsset {
		return "", false
	}

	if !m.timesAgree(kAsset, km.ResolutionTime, pm.ResolutionTime) {
		return "", false
	}

	// 15-minute heuristic: same asset, same cadence, agreeing times. The
	// up-or-down shape implies a shared open-price threshold, so the
	// source and threshold checks are skipped.
	if isFifteenMinute(km.Title) && isFifteenMinute(pm.Title) {
		return kAsset, true
	}

	if !sourcesEquivalent(km.ResolutionSource, pm.ResolutionSource) {
		return "", false
	}
	if !m.thresholdsAgree(km.Threshold, pm.Threshold) {
		return "", false
	}
	return kAsset, true
}

// asset returns the market's canonical asset tag, extracting it from the
// title when the catalog did not carry one.
func (m *Matcher) asset(mk domain.Market) string {
	if mk.Asset != "" {
		if canon, ok := assetAliases[normLower(mk.Asset)]; ok {
			return canon
		}
		return mk.Asset
	}
	return assetFromTitle(mk.Title)
}

func normLower(s string) string {
	toks := titleTokens(s)
	if len(toks) == 0 {
		return ""
	}
	return toks[0]
}

// timesAgree checks |tK - tP| against the tolerance, applying the per-asset
// calibrated offset to the Polymarket timestamp first when one is configured.
func (m *Matcher) timesAgree(asset string, tk, tp time.Time) bool {
	if off, ok := m.opts.QuantizationOffset[asset]; ok {
		tp = tp.Add(off)
	}
	d := tk.Sub(tp)
	if d < 0 {
		d = -d
	}
	return d <= m.opts.TimeTolerance
}

// thresholdsAgree checks the numeric strike within one tick. A zero threshold
// means the venue did not publish one (up-or-down shape); the check passes
// only when both are zero.
func (m *Matcher) thresholdsAgree(a, b float64) bool {
	if a == 0 || b == 0 {
		return a == b
	}
	return math.Abs(a-b) <= m.opts.ThresholdTick
}
