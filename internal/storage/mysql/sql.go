package mysql

// -----------------------------------------------------------------------------
// AGENCIES
// -----------------------------------------------------------------------------

// Trust and counters are owned by recordScrapeResultSQL; an upsert never touches them.
const upsertAgencySQL = `
INSERT INTO agencies
  (id, name, base_url, domain, trust_score, discovery_source, is_active, strategy, created_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  name     = VALUES(name),
  base_url = VALUES(base_url),
  domain   = VALUES(domain)
`

const agencyColumns = `
  id, name, base_url, domain, trust_score, discovery_source, last_scraped_at,
  is_active, strategy, success_count, failure_count, consecutive_failures, created_at
`

const getAgencySQL = `SELECT` + agencyColumns + `FROM agencies WHERE id = ?`

const listAgenciesSQL = `SELECT` + agencyColumns + `FROM agencies ORDER BY id`

const listActiveAgenciesSQL = `SELECT` + agencyColumns + `FROM agencies WHERE is_active ORDER BY id`

// MySQL applies single-table SET assignments left to right, so the is_active
// expression sees the updated consecutive_failures.
const recordScrapeResultSQL = `
UPDATE agencies SET
  trust_score          = LEAST(1, GREATEST(0, trust_score + ?)),
  last_scraped_at      = ?,
  success_count        = success_count + ?,
  failure_count        = failure_count + ?,
  consecutive_failures = IF(? = 1, 0, consecutive_failures + 1),
  is_active            = IF(? > 0 AND consecutive_failures >= ?, FALSE, is_active),
  strategy             = COALESCE(NULLIF(?, ''), strategy)
WHERE id = ?
`

// -----------------------------------------------------------------------------
// JOBS
// -----------------------------------------------------------------------------

// A no-op update on the unique job_key reports zero affected rows.
const enqueueJobSQL = `
INSERT INTO scrape_jobs
  (id, agency_id, target_url, job_key, status, attempt_count, next_attempt_at, created_at, updated_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE id = id
`

const jobColumns = `
  j.id, j.agency_id, j.target_url, j.status, j.attempt_count, j.next_attempt_at,
  j.last_error, j.lease_owner, j.lease_expires_at, j.created_at, j.updated_at
`

const readyJobsSQL = `SELECT` + jobColumns + `
FROM scrape_jobs j
JOIN agencies a ON a.id = j.agency_id
WHERE j.status = 'pending' AND j.next_attempt_at <= ? AND a.is_active
ORDER BY j.next_attempt_at, j.id
LIMIT ?
`

const getJobSQL = `SELECT` + jobColumns + `FROM scrape_jobs j WHERE j.id = ?`

const jobExistsSQL = `SELECT COUNT(*) FROM scrape_jobs WHERE id = ?`

const claimJobSQL = `
UPDATE scrape_jobs SET
  status           = 'running',
  lease_owner      = ?,
  lease_expires_at = ?,
  updated_at       = ?
WHERE id = ? AND status = 'pending'
`

const releaseJobSQL = `
UPDATE scrape_jobs SET
  status           = 'pending',
  lease_owner      = NULL,
  lease_expires_at = NULL
WHERE id = ? AND status = 'running' AND lease_owner = ?
`

const recordJobOutcomeSQL = `
UPDATE scrape_jobs SET
  status           = ?,
  attempt_count    = ?,
  last_error       = ?,
  next_attempt_at  = IF(? = 'pending', ?, next_attempt_at),
  lease_owner      = NULL,
  lease_expires_at = NULL,
  updated_at       = ?
WHERE id = ? AND status = 'running' AND lease_owner = ?
`

const requeueSucceededSQL = `
UPDATE scrape_jobs j
JOIN agencies a ON a.id = j.agency_id
SET
  j.status          = 'pending',
  j.attempt_count   = 0,
  j.next_attempt_at = ?,
  j.updated_at      = ?
WHERE j.status = 'succeeded' AND j.updated_at < ? AND a.is_active
`

const reclaimStaleSQL = `
UPDATE scrape_jobs SET
  status           = 'pending',
  lease_owner      = NULL,
  lease_expires_at = NULL,
  next_attempt_at  = ?
WHERE status = 'running' AND lease_expires_at <= ?
`

const jobCountsSQL = `SELECT status, COUNT(*) FROM scrape_jobs GROUP BY status`

// -----------------------------------------------------------------------------
// PACKAGES
// -----------------------------------------------------------------------------

const upsertPackageSQL = `
INSERT INTO packages
  (id, agency_id, source_url, url_hash, title, destination, duration_days, price, currency,
   inclusions, rating, review_count, available_from, available_to, raw_fingerprint, scraped_at)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  title           = VALUES(title),
  destination     = VALUES(destination),
  duration_days   = VALUES(duration_days),
  price           = VALUES(price),
  currency        = VALUES(currency),
  inclusions      = VALUES(inclusions),
  rating          = VALUES(rating),
  review_count    = VALUES(review_count),
  available_from  = VALUES(available_from),
  available_to    = VALUES(available_to),
  raw_fingerprint = VALUES(raw_fingerprint),
  scraped_at      = VALUES(scraped_at)
`

const packageFingerprintSQL = `
SELECT raw_fingerprint FROM packages WHERE agency_id = ? AND url_hash = ?
`

// Superset read: substring either way or a SOUNDEX match. The accent and case
// insensitive collation covers folding; the filter does the exact matching.
const packagesByDestinationSQL = `
SELECT
  p.id, p.agency_id, p.source_url, p.title, p.destination, p.duration_days, p.price,
  p.currency, p.inclusions, p.rating, p.review_count, p.available_from, p.available_to,
  p.raw_fingerprint, p.scraped_at,
  a.name, a.trust_score
FROM packages p
JOIN agencies a ON a.id = p.agency_id
WHERE p.destination LIKE ?
   OR ? LIKE CONCAT('%', p.destination, '%')
   OR SOUNDEX(p.destination) = SOUNDEX(?)
ORDER BY p.id
`
