package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tripscout/internal/adapters/observability"
	"tripscout/internal/domain"
	"tripscout/internal/extract"
	"tripscout/internal/scrape"
)

// NormalizeResult says whether a normalized package differs from what is stored.
type NormalizeResult string

const (
	ResultChanged   NormalizeResult = "changed"
	ResultUnchanged NormalizeResult = "unchanged"
)

// packageNamespace seeds the deterministic package ids.
var packageNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tripscout/package"))

// PackageID is stable for one (agency, source url) pair.
func PackageID(agencyID, sourceURL string) string {
	return uuid.NewSHA1(packageNamespace, []byte(agencyID+"|"+sourceURL)).String()
}

type Normalizer struct {
	packages        domain.PackageStore
	defaultCurrency string
	now             func() time.Time
}

func NewNormalizer(packages domain.PackageStore, defaultCurrency string) *Normalizer {
	return &Normalizer{packages: packages, defaultCurrency: strings.ToUpper(defaultCurrency), now: time.Now}
}

// Normalize maps one raw record onto a Package using the agency's units. Records that
// violate package invariants return a *domain.ValidationError.
func (n *Normalizer) Normalize(ctx context.Context, agencyID, sourceURL string, raw domain.RawRecord,
	units domain.Units) (domain.Package, NormalizeResult, error) {
	p, err := n.mapPackage(agencyID, sourceURL, raw, units)
	if err != nil {
		return domain.Package{}, "", err
	}
	if err := p.Validate(); err != nil {
		return domain.Package{}, "", err
	}
	prev, ok, err := n.packages.PackageFingerprint(ctx, agencyID, sourceURL)
	if err != nil {
		return domain.Package{}, "", fmt.Errorf("fingerprint lookup: %w", err)
	}
	if ok && prev == p.RawFingerprint {
		return p, ResultUnchanged, nil
	}
	return p, ResultChanged, nil
}

func (n *Normalizer) mapPackage(agencyID, sourceURL string, r domain.RawRecord, units domain.Units) (domain.Package, error) {
	p := domain.Package{
		ID:          PackageID(agencyID, sourceURL),
		AgencyID:    agencyID,
		SourceURL:   sourceURL,
		Title:       fieldStr(r, extract.FieldTitle),
		Destination: fieldStr(r, extract.FieldDestination),
		ScrapedAt:   n.now().UTC(),
	}

	days, ok := parseDurationDays(field(r, extract.FieldDuration))
	if !ok {
		return p, &domain.ValidationError{Field: "duration_days", Reason: "unparseable"}
	}
	p.DurationDays = days

	rawPrice := field(r, extract.FieldPrice)
	price, ok := floatFlexible(rawPrice, units.DecimalComma)
	if !ok {
		return p, &domain.ValidationError{Field: "price", Reason: "unparseable"}
	}
	p.Price = price

	p.Currency = n.currency(fieldStr(r, extract.FieldCurrency), rawPrice, units)

	p.Inclusions = canonicalInclusions(inclusionItems(field(r, extract.FieldInclusions)), units.Inclusions)

	if v := field(r, extract.FieldRating); v != nil {
		// rating is optional; placeholders like "New" leave it unset
		if rating, ok := parseRating(v); ok {
			p.Rating = &rating
		} else {
			log.Debug().Str("agency", agencyID).Str("url", sourceURL).Interface("rating", v).Msg("rating ignored")
		}
	}
	if v := field(r, extract.FieldReviewCount); v != nil {
		if c, ok := intFlexible(v); ok {
			p.ReviewCount = c
		}
	}
	p.AvailableFrom, _ = parseDate(field(r, extract.FieldAvailableFrom), units.DateLayouts)
	p.AvailableTo, _ = parseDate(field(r, extract.FieldAvailableTo), units.DateLayouts)
	if p.AvailableFrom != nil && p.AvailableTo != nil && p.AvailableTo.Before(*p.AvailableFrom) {
		return p, &domain.ValidationError{Field: "available_to", Reason: "before available_from"}
	}

	p.RawFingerprint = Fingerprint(p)
	return p, nil
}

// currency prefers an explicit field, then a symbol in the price text, then the agency
// default, then the service default.
func (n *Normalizer) currency(explicit string, rawPrice any, units domain.Units) string {
	if c, ok := detectCurrency(strings.ToUpper(explicit)); ok {
		return c
	}
	if c, ok := detectCurrency(explicit); ok {
		return c
	}
	if s, ok := rawPrice.(string); ok {
		if c, ok := detectCurrency(s); ok {
			return c
		}
	}
	if units.Currency != "" {
		return strings.ToUpper(units.Currency)
	}
	return n.defaultCurrency
}

// Fingerprint hashes the normalized field tuple. ScrapedAt and ID are not part of it.
func Fingerprint(p domain.Package) string {
	rating := ""
	if p.Rating != nil {
		rating = strconv.FormatFloat(*p.Rating, 'f', 2, 64)
	}
	date := func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.UTC().Format("2006-01-02")
	}
	tuple := strings.Join([]string{
		p.AgencyID, p.SourceURL, p.Title, p.Destination,
		strconv.Itoa(p.DurationDays),
		strconv.FormatFloat(p.Price, 'f', 2, 64), p.Currency,
		strings.Join(p.Inclusions, ","),
		rating, strconv.Itoa(p.ReviewCount),
		date(p.AvailableFrom), date(p.AvailableTo),
	}, "\x1f")
	sum := sha256.Sum256([]byte(tuple))
	return hex.EncodeToString(sum[:])
}

// PackageWriter normalizes extracted records and upserts the changed ones.
type PackageWriter struct {
	norm     *Normalizer
	packages domain.PackageStore
}

func NewPackageWriter(norm *Normalizer, packages domain.PackageStore) *PackageWriter {
	return &PackageWriter{norm: norm, packages: packages}
}

// Ingest implements scrape.RecordSink. Invalid records are dropped and counted; a store
// failure aborts the batch so the job is retried.
func (w *PackageWriter) Ingest(ctx context.Context, agency domain.Agency, pageURL string,
	recs []domain.RawRecord, units domain.Units) (scrape.IngestReport, error) {
	var rep scrape.IngestReport
	defer func() {
		observability.ObserveNormalize("written", rep.Written)
		observability.ObserveNormalize("unchanged", rep.Unchanged)
		observability.ObserveNormalize("dropped", rep.Dropped)
	}()

	seen := make(map[string]bool, len(recs))
	for _, rec := range recs {
		src := recordURL(pageURL, rec)
		if seen[src] {
			rep.Dropped++
			log.Debug().Str("agency", agency.ID).Str("url", src).Msg("duplicate record in page")
			continue
		}
		seen[src] = true

		p, res, err := w.norm.Normalize(ctx, agency.ID, src, rec, units)
		if err != nil {
			if domain.IsValidation(err) {
				rep.Dropped++
				var ve *domain.ValidationError
				errors.As(err, &ve)
				log.Info().Str("agency", agency.ID).Str("url", src).
					Str("field", ve.Field).Str("reason", ve.Reason).Msg("record dropped")
				continue
			}
			return rep, err
		}
		if res == ResultUnchanged {
			rep.Unchanged++
			continue
		}
		if err := w.packages.UpsertPackage(ctx, p); err != nil {
			return rep, fmt.Errorf("upsert package %s: %w", p.ID, err)
		}
		rep.Written++
	}
	return rep, nil
}

// recordURL is the record's own link, or the listing page plus a fragment derived from
// the record when it has none.
func recordURL(pageURL string, rec domain.RawRecord) string {
	raw := fieldStr(rec, extract.FieldURL)
	if raw != "" && raw != pageURL {
		if u, err := url.Parse(raw); err == nil && u.IsAbs() {
			return u.String()
		}
		if base, err := url.Parse(pageURL); err == nil {
			if u, err := base.Parse(raw); err == nil {
				return u.String()
			}
		}
	}
	key := fieldStr(rec, extract.FieldTitle) + "|" + fieldStr(rec, extract.FieldDestination) + "|" +
		fieldStr(rec, extract.FieldDuration)
	sum := sha256.Sum256([]byte(key))
	base := pageURL
	if i := strings.IndexByte(base, '#'); i >= 0 {
		base = base[:i]
	}
	return base + "#pkg-" + hex.EncodeToString(sum[:6])
}
