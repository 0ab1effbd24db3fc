// Package scoring ranks asset candidates and applies the library's selection
// policy. The engine is pure: same inputs, same output, ties broken the same
// way every run.
package scoring

import (
	"math"
	"sort"

	"github.com/fetcharr/fetcharr/internal/fingerprint"
	"github.com/fetcharr/fetcharr/internal/models"
)

const targetPixels = 3840.0 * 2160.0

// providerPriority feeds both the P component and the first tie-break.
// Community-curated art beats provider stills, local files rank last so a
// better remote candidate can displace them.
var providerPriority = map[string]float64{
	"fanart.tv":   1.0,
	"tmdb":        0.8,
	"tvdb":        0.6,
	"musicbrainz": 0.6,
	"local":       0.5,
}

// idealRatio is the width/height each asset type is expected to have.
var idealRatio = map[models.AssetType]float64{
	models.AssetPoster:    2.0 / 3.0,
	models.AssetFanart:    16.0 / 9.0,
	models.AssetLandscape: 16.0 / 9.0,
	models.AssetThumb:     16.0 / 9.0,
	models.AssetBanner:       5.4,
	models.AssetClearArt:     1.0,
	models.AssetClearLogo:    1.0,
	models.AssetDiscArt:      1.0,
	models.AssetSeasonPoster: 2.0 / 3.0,
}

// Policy is the slice of library configuration the engine consumes.
type Policy struct {
	Weights        [5]float64 // resolution, votes, language, provider, aspect
	Language       string
	MinWidth       int
	MinHeight      int
	MaxCount       int
	PhashThreshold float64
	Mode           models.AutomationMode
}

// PolicyFor derives the selection policy for one asset type from the library
// row. Single-slot asset types always select exactly one; fanart honours
// max_fanart.
func PolicyFor(lib *models.Library, assetType models.AssetType) Policy {
	maxCount := 1
	if assetType.MultiSlot() && lib.MaxFanart > 0 {
		maxCount = lib.MaxFanart
	}
	return Policy{
		Weights:        lib.ScoreWeights(),
		Language:       lib.Language,
		MinWidth:       lib.MinAssetWidth,
		MinHeight:      lib.MinAssetHeight,
		MaxCount:       maxCount,
		PhashThreshold: lib.PhashThreshold,
		Mode:           lib.AutomationMode,
	}
}

// Result is the outcome of one Run: every surviving candidate with its score
// set, plus the subset picked for selection (empty in manual mode).
type Result struct {
	Ranked   []*models.AssetCandidate
	Selected []*models.AssetCandidate
	// PendingReview mirrors hybrid mode: selections were made but must not
	// auto-publish until a human confirms.
	PendingReview bool
}

// rejectedKey matches repository.RejectedRepository.RejectedSet.
func rejectedKey(c *models.AssetCandidate) string {
	return c.Provider + "\n" + c.SourceURL
}

// Run filters, scores, orders, dedupes, and selects candidates of a single
// asset type. globalRejects is keyed provider+"\n"+url. The input slice is not
// mutated; scores and selection flags are written onto the returned copies'
// pointed-to structs.
func Run(candidates []*models.AssetCandidate, policy Policy, globalRejects map[string]struct{}) *Result {
	ranked := make([]*models.AssetCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.IsRejected {
			continue
		}
		if _, gone := globalRejects[rejectedKey(c)]; gone {
			continue
		}
		if c.Width < policy.MinWidth || c.Height < policy.MinHeight {
			continue
		}
		c.Score = Score(c, policy)
		ranked = append(ranked, c)
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return less(ranked[i], ranked[j])
	})

	ranked = dedupe(ranked, policy.PhashThreshold)

	res := &Result{Ranked: ranked}
	if policy.Mode == models.ModeManual {
		return res
	}

	n := policy.MaxCount
	if n <= 0 {
		n = 1
	}
	if n > len(ranked) {
		n = len(ranked)
	}
	res.Selected = ranked[:n]
	res.PendingReview = policy.Mode == models.ModeHybrid
	return res
}

// less orders candidates best-first: score desc, then provider priority desc,
// then pixel count desc, then source URL asc.
func less(a, b *models.AssetCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	pa, pb := providerPriority[a.Provider], providerPriority[b.Provider]
	if pa != pb {
		return pa > pb
	}
	ra, rb := a.Width*a.Height, b.Width*b.Height
	if ra != rb {
		return ra > rb
	}
	return a.SourceURL < b.SourceURL
}

// Score computes the 0-100 composite for one candidate.
func Score(c *models.AssetCandidate, policy Policy) float64 {
	r := math.Min(100, float64(c.Width)*float64(c.Height)/targetPixels*100)

	v := math.Min(float64(c.VoteCount)/100*50, 50)
	if v < 0 {
		v = 0
	}
	v += c.VoteAverage / 10 * 50

	var l float64
	if c.Language != nil && policy.Language != "" && *c.Language == policy.Language {
		l = 100
	}

	p := providerPriority[c.Provider] * 100

	var a float64
	if ideal, ok := idealRatio[c.AssetType]; ok && c.Height > 0 {
		actual := float64(c.Width) / float64(c.Height)
		a = 100 - math.Min(100, math.Abs(ideal-actual)*200)
	}

	w := policy.Weights
	return w[0]*r + w[1]*v + w[2]*l + w[3]*p + w[4]*a
}

// dedupe removes perceptual duplicates from a best-first ordering, keeping
// the earlier (better) entry. Candidates without a hash never collide.
func dedupe(ranked []*models.AssetCandidate, threshold float64) []*models.AssetCandidate {
	out := make([]*models.AssetCandidate, 0, len(ranked))
	for _, c := range ranked {
		dup := false
		if c.PerceptualHash != nil {
			for _, kept := range out {
				if kept.PerceptualHash == nil {
					continue
				}
				if fingerprint.IsDuplicate(*kept.PerceptualHash, *c.PerceptualHash, threshold) {
					dup = true
					break
				}
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}
