// Package metadata merges provider responses into media items and renders
// NFO files. The orchestrator owns the three per-library strategies; field
// writes always pass through the lock arbiter.
package metadata

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"golang.org/x/sync/errgroup"

	"github.com/fetcharr/fetcharr/internal/logging"
	"github.com/fetcharr/fetcharr/internal/models"
	"github.com/fetcharr/fetcharr/internal/providers"
)

// assetFanout bounds the parallel GetAssets calls per enrichment.
const assetFanout = 4

type Orchestrator struct {
	registry *providers.Registry
	log      zerolog.Logger
}

func NewOrchestrator(registry *providers.Registry) *Orchestrator {
	return &Orchestrator{registry: registry, log: logging.WithComponent("metadata")}
}

// EnrichResult carries one orchestration pass: the merged field values (pre
// lock arbitration) and every provider's asset candidates.
type EnrichResult struct {
	Fields     map[string]any
	Candidates []*models.AssetCandidate
	// ProviderErrors records which providers failed; partial success is
	// still success.
	ProviderErrors map[string]error
}

// Enrich queries providers per the library's strategy and aggregates asset
// candidates from every enabled provider regardless of strategy.
func (o *Orchestrator) Enrich(ctx context.Context, lib *models.Library, item *models.MediaItem) (*EnrichResult, error) {
	res := &EnrichResult{Fields: map[string]any{}, ProviderErrors: map[string]error{}}

	switch lib.ProviderStrategy {
	case models.StrategyFieldMapping:
		o.enrichFieldMapping(ctx, lib, item, res)
	case models.StrategyAggregateAll:
		o.enrichAggregateAll(ctx, item, res)
	default:
		o.enrichPreferredFirst(ctx, lib, item, res)
	}

	res.Candidates = o.aggregateAssets(ctx, item, res)
	return res, nil
}

// enrichPreferredFirst queries the preferred provider, then walks the rest in
// quality order filling only fields still unset.
func (o *Orchestrator) enrichPreferredFirst(ctx context.Context, lib *models.Library, item *models.MediaItem, res *EnrichResult) {
	adapters := o.orderedAdapters(item.MediaType)
	if lib.PreferredProvider != nil {
		adapters = moveToFront(adapters, *lib.PreferredProvider)
	}
	for _, a := range adapters {
		caps := a.Capabilities()
		if allClaimedFieldsSet(res.Fields, adapters) {
			break
		}
		md, err := o.fetchMetadata(ctx, a, item)
		if err != nil {
			res.ProviderErrors[caps.ID] = err
		}
		if md == nil {
			continue
		}
		for k, v := range md.Fields {
			if _, set := res.Fields[k]; !set {
				res.Fields[k] = v
			}
		}
		o.log.Debug().Str("provider", caps.ID).Float64("completeness", md.Completeness).Msg("provider fields merged")
	}
}

// enrichFieldMapping binds each field to exactly one provider; no merging.
func (o *Orchestrator) enrichFieldMapping(ctx context.Context, lib *models.Library, item *models.MediaItem, res *EnrichResult) {
	mapping := map[string]string{}
	if lib.FieldMappings != nil {
		if err := json.Unmarshal([]byte(*lib.FieldMappings), &mapping); err != nil {
			o.log.Warn().Err(err).Str("library", lib.Name).Msg("invalid field mappings, falling back to preferred-first")
			o.enrichPreferredFirst(ctx, lib, item, res)
			return
		}
	}

	// One fetch per distinct provider, then pick the assigned fields.
	responses := map[string]*providers.MetadataResponse{}
	for field, providerID := range mapping {
		md, fetched := responses[providerID]
		if !fetched {
			a, ok := o.registry.Get(providerID)
			if !ok {
				o.log.Warn().Str("provider", providerID).Str("field", field).Msg("mapped provider not registered")
				responses[providerID] = nil
				continue
			}
			var err error
			md, err = o.fetchMetadata(ctx, a, item)
			if err != nil {
				res.ProviderErrors[providerID] = err
			}
			responses[providerID] = md
		}
		if md == nil {
			continue
		}
		if v, ok := md.Fields[field]; ok {
			res.Fields[field] = v
		}
	}
}

// enrichAggregateAll queries every enabled provider in parallel and keeps,
// per field, the value from the highest-quality provider that returned it.
func (o *Orchestrator) enrichAggregateAll(ctx context.Context, item *models.MediaItem, res *EnrichResult) {
	adapters := o.orderedAdapters(item.MediaType)

	type outcome struct {
		caps providers.Capabilities
		md   *providers.MetadataResponse
	}
	var mu sync.Mutex
	outcomes := make([]outcome, 0, len(adapters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetFanout)
	for _, a := range adapters {
		a := a
		g.Go(func() error {
			md, err := o.fetchMetadata(gctx, a, item)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.ProviderErrors[a.Capabilities().ID] = err
			}
			if md != nil {
				outcomes = append(outcomes, outcome{caps: a.Capabilities(), md: md})
			}
			return nil
		})
	}
	g.Wait()

	// Highest quality first; first writer wins per field.
	sort.SliceStable(outcomes, func(i, j int) bool {
		return outcomes[i].caps.QualityWeight > outcomes[j].caps.QualityWeight
	})
	for _, oc := range outcomes {
		for k, v := range oc.md.Fields {
			if _, set := res.Fields[k]; !set {
				res.Fields[k] = v
			}
		}
	}
}

// aggregateAssets fans out GetAssets across every enabled provider serving
// the item's kind. One provider failing costs only its own candidates.
func (o *Orchestrator) aggregateAssets(ctx context.Context, item *models.MediaItem, res *EnrichResult) []*models.AssetCandidate {
	var mu sync.Mutex
	var all []*models.AssetCandidate

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(assetFanout)
	for _, a := range o.registry.Enabled() {
		a := a
		caps := a.Capabilities()
		providerID := providerIDFor(item, caps.ID)
		assetTypes := caps.AssetTypes[item.MediaType]
		if providerID == "" || len(assetTypes) == 0 {
			continue
		}
		g.Go(func() error {
			cands, err := a.GetAssets(gctx, item.MediaType, providerID, assetTypes)
			if err != nil {
				o.log.Warn().Err(err).Str("provider", caps.ID).Str("item", item.Title).Msg("asset fetch failed, skipping provider")
				mu.Lock()
				res.ProviderErrors[caps.ID] = err
				mu.Unlock()
				return nil
			}
			mu.Lock()
			for _, c := range cands {
				c.MediaItemID = item.ID
			}
			all = append(all, cands...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	// Deterministic order for the insert path.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Provider != all[j].Provider {
			return all[i].Provider < all[j].Provider
		}
		return all[i].SourceURL < all[j].SourceURL
	})
	return all
}

func (o *Orchestrator) fetchMetadata(ctx context.Context, a providers.Adapter, item *models.MediaItem) (*providers.MetadataResponse, error) {
	caps := a.Capabilities()
	if !caps.Serves(item.MediaType) || len(caps.MetadataFields) == 0 {
		return nil, nil
	}
	providerID := providerIDFor(item, caps.ID)
	if providerID == "" {
		return nil, nil
	}
	md, err := a.GetMetadata(ctx, item.MediaType, providerID)
	if err != nil {
		o.log.Warn().Err(err).Str("provider", caps.ID).Str("item", item.Title).Msg("metadata fetch failed, skipping provider")
		return nil, err
	}
	return md, nil
}

// orderedAdapters returns enabled adapters serving a kind, best quality
// first, ID as the stable tiebreak.
func (o *Orchestrator) orderedAdapters(kind models.MediaKind) []providers.Adapter {
	var out []providers.Adapter
	for _, a := range o.registry.Enabled() {
		if a.Capabilities().Serves(kind) && len(a.Capabilities().MetadataFields) > 0 {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := out[i].Capabilities(), out[j].Capabilities()
		if ci.QualityWeight != cj.QualityWeight {
			return ci.QualityWeight > cj.QualityWeight
		}
		return ci.ID < cj.ID
	})
	return out
}

func moveToFront(adapters []providers.Adapter, id string) []providers.Adapter {
	for i, a := range adapters {
		if a.Capabilities().ID == id {
			reordered := append([]providers.Adapter{a}, adapters[:i]...)
			return append(reordered, adapters[i+1:]...)
		}
	}
	return adapters
}

func allClaimedFieldsSet(fields map[string]any, adapters []providers.Adapter) bool {
	for _, a := range adapters {
		for _, f := range a.Capabilities().MetadataFields {
			if _, ok := fields[f]; !ok {
				return false
			}
		}
	}
	return true
}

// providerIDFor resolves which stored ID unlocks a provider for an item.
// fanart.tv piggybacks on TMDB for movies and TVDB for series.
func providerIDFor(item *models.MediaItem, providerID string) string {
	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	switch providerID {
	case "tmdb":
		return deref(item.TmdbID)
	case "tvdb":
		return deref(item.TvdbID)
	case "musicbrainz":
		return deref(item.MusicbrainzID)
	case "fanart.tv":
		switch item.MediaType {
		case models.KindMovie:
			return deref(item.TmdbID)
		case models.KindSeries, models.KindSeason:
			return deref(item.TvdbID)
		default:
			return deref(item.MusicbrainzID)
		}
	}
	return ""
}

// ──────────────────── Lock arbiter ────────────────────

// ApplyFields writes merged field values onto an item, skipping locked
// fields, and reports which fields actually changed. Stream facts never pass
// through here; they have their own rewrite path.
func ApplyFields(item *models.MediaItem, fields map[string]any) []string {
	var changed []string
	set := func(field string, apply func(v any) bool) {
		v, ok := fields[field]
		if !ok || item.IsFieldLocked(field) {
			return
		}
		if apply(v) {
			changed = append(changed, field)
		}
	}

	set("title", func(v any) bool {
		s := cast.ToString(v)
		if s == "" || s == item.Title {
			return false
		}
		item.Title = s
		return true
	})
	set("plot", setStringPtr(&item.Plot))
	set("tagline", setStringPtr(&item.Tagline))
	set("content_rating", setStringPtr(&item.ContentRating))
	set("trailer_url", setStringPtr(&item.TrailerURL))
	set("imdb_id", setStringPtr(&item.ImdbID))
	set("runtime", func(v any) bool {
		n := cast.ToInt(v)
		if n <= 0 || (item.RuntimeMins != nil && *item.RuntimeMins == n) {
			return false
		}
		item.RuntimeMins = &n
		return true
	})
	set("rating", func(v any) bool {
		f := cast.ToFloat64(v)
		if f <= 0 || (item.Rating != nil && *item.Rating == f) {
			return false
		}
		item.Rating = &f
		return true
	})
	set("votes", func(v any) bool {
		n := cast.ToInt(v)
		if n <= 0 || (item.Votes != nil && *item.Votes == n) {
			return false
		}
		item.Votes = &n
		return true
	})
	set("genres", setStringSlice((*[]string)(&item.Genres)))
	set("studios", setStringSlice((*[]string)(&item.Studios)))
	set("premiered", func(v any) bool {
		t := parseDate(cast.ToString(v))
		if t == nil || (item.Premiered != nil && item.Premiered.Equal(*t)) {
			return false
		}
		item.Premiered = t
		return true
	})
	return changed
}

func setStringPtr(target **string) func(v any) bool {
	return func(v any) bool {
		s := cast.ToString(v)
		if s == "" || (*target != nil && **target == s) {
			return false
		}
		*target = &s
		return true
	}
}

func setStringSlice(target *[]string) func(v any) bool {
	return func(v any) bool {
		ss := cast.ToStringSlice(v)
		if len(ss) == 0 || strings.Join(ss, "\x00") == strings.Join(*target, "\x00") {
			return false
		}
		*target = ss
		return true
	}
}

func parseDate(s string) *time.Time {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
