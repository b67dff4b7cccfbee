package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"tripscout/internal/adapters/observability"
	"tripscout/internal/domain"
	"tripscout/internal/ranking"
)

type QueryService struct {
	packages domain.PackageStore
	cache    domain.Cache
	cacheTTL time.Duration
	aliases  ranking.Aliases
	filter   ranking.Filter
	ranker   *ranking.Ranker
}

// NewQueryService wires the read path. A nil cache disables caching.
func NewQueryService(p domain.PackageStore, c domain.Cache, ttl time.Duration, rc ranking.Config) *QueryService {
	if rc.Aliases == nil {
		rc.Aliases = ranking.DefaultAliases()
	}
	return &QueryService{
		packages: p,
		cache:    c,
		cacheTTL: ttl,
		aliases:  rc.Aliases,
		filter:   ranking.NewFilter(rc.Aliases),
		ranker:   ranking.NewRanker(rc),
	}
}

// GetRecommendations reads persisted packages only; it never triggers scraping.
// Malformed stored rows are skipped and counted rather than failing the query.
func (s *QueryService) GetRecommendations(ctx context.Context, q domain.TripQuery) (domain.Recommendations, error) {
	if err := q.Validate(); err != nil {
		observability.ObserveRecommendation("error")
		return domain.Recommendations{}, err
	}

	key := recommendationKey(q)
	var out domain.Recommendations
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}

	stored, err := s.read(ctx, q.Destination)
	if err != nil {
		observability.ObserveRecommendation("error")
		return domain.Recommendations{}, fmt.Errorf("read packages: %w", err)
	}

	out = domain.Recommendations{Query: q, Candidates: []domain.PackageCandidate{}, Considered: len(stored)}
	valid := make([]domain.StoredPackage, 0, len(stored))
	for _, p := range stored {
		if err := p.Validate(); err != nil {
			out.Skipped++
			log.Warn().Err(err).Str("package", p.ID).Msg("skipping malformed stored package")
			continue
		}
		valid = append(valid, p)
	}

	matched, rep := s.filter.ApplyWithReport(q, valid)
	out.Matched = len(matched)
	// the store read is a superset; only rows naming the destination count as data for it
	switch {
	case len(valid) == rep.Dropped[ranking.DropDestination]:
		out.Reason = domain.ReasonNoData
	case len(matched) == 0:
		out.Reason = domain.ReasonNoMatches
	default:
		out.Candidates = s.ranker.Top(q, matched)
	}
	log.Debug().Str("destination", q.Destination).Int("considered", out.Considered).
		Int("matched", out.Matched).Interface("dropped", rep.Dropped).Msg("recommendations")

	result := "ok"
	if out.Reason != domain.ReasonNone {
		result = string(out.Reason)
	}
	observability.ObserveRecommendation(result)

	if s.cache != nil {
		_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	}
	return out, nil
}

// read widens the store lookup with the destination's alternate names.
func (s *QueryService) read(ctx context.Context, destination string) ([]domain.StoredPackage, error) {
	var out []domain.StoredPackage
	seen := map[string]bool{}
	for _, name := range s.aliases.Expand(destination) {
		rows, err := s.packages.ReadPackagesByDestination(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, p := range rows {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out = append(out, p)
		}
	}
	return out, nil
}

func recommendationKey(q domain.TripQuery) string {
	b, _ := json.Marshal(q)
	sum := sha256.Sum256(b)
	return "reco:" + hex.EncodeToString(sum[:12])
}
