package scrape

import "tripscout/internal/domain"

func status(s string) domain.JobStatus { return domain.JobStatus(s) }
