// Package place defines core types shared across subsystems.
package place

import (
	"time"
)

// Status represents the lifecycle state of a crawl job.
type Status string

// Job status values persisted in the queue store.
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusSuccess    Status = "success"
	StatusFailed     Status = "failed"
	StatusStopped    Status = "stopped"
)

// Terminal reports whether a status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusStopped
}

// Step tags the pipeline stage where a job failed.
type Step string

// Failure steps recorded alongside a failed job.
const (
	StepFetch  Step = "fetch"
	StepParse  Step = "parse"
	StepUpsert Step = "upsert"
)

// DefaultRetryLimit is the retry budget assigned to newly enqueued jobs.
const DefaultRetryLimit = 5

// Job is one row of the crawl queue: an entity awaiting or having
// undergone crawling. Name, Category and Address are denormalized hints
// copied from the discovery source for diagnostics; the authoritative
// attributes live in Place once the crawl succeeds.
type Job struct {
	ID           string    `json:"id"`
	Name         string    `json:"name,omitempty"`
	Category     string    `json:"category,omitempty"`
	Address      string    `json:"address,omitempty"`
	Status       Status    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	RetryLimit   int       `json:"retry_limit"`
	ErrorMessage string    `json:"error_message,omitempty"`
	ErrorStep    Step      `json:"error_step,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Menu is one menu or offer entry from the provider detail payload.
type Menu struct {
	Name        string   `json:"name"`
	Price       string   `json:"price,omitempty"`
	Description string   `json:"description,omitempty"`
	Recommended bool     `json:"recommended,omitempty"`
	Images      []string `json:"images,omitempty"`
}

// Place is the durable record produced by a successful crawl: the
// provider's nested detail response flattened into one row.
type Place struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Road          string    `json:"road,omitempty"`
	Category      string    `json:"category,omitempty"`
	CategoryCode  string    `json:"category_code,omitempty"`
	CategoryCodes []string  `json:"category_codes,omitempty"`
	RoadAddress   string    `json:"road_address,omitempty"`
	Address       string    `json:"address,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	PaymentInfo   []string  `json:"payment_info,omitempty"`
	Conveniences  []string  `json:"conveniences,omitempty"`
	ReviewCount   int       `json:"review_count"`
	ReviewScore   float64   `json:"review_score"`
	X             float64   `json:"x"`
	Y             float64   `json:"y"`
	Homepages     []string  `json:"homepages,omitempty"`
	Keywords      []string  `json:"keywords,omitempty"`
	Images        []string  `json:"images,omitempty"`
	StaticMapURL  string    `json:"static_map_url,omitempty"`
	Themes        []string  `json:"themes,omitempty"`
	Menus         []Menu    `json:"menus,omitempty"`
	Group1        string    `json:"group1,omitempty"`
	Group2        string    `json:"group2,omitempty"`
	Group3        string    `json:"group3,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// AuditEntry records one crawl attempt. Entries are append-only and are
// never read back by the pipeline itself.
type AuditEntry struct {
	ID           string    `json:"id"`
	JobID        string    `json:"job_id"`
	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationMs   int64     `json:"duration_ms"`
}

// Candidate is an identifier discovered from an external listing source,
// not yet confirmed stored.
type Candidate struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Job converts a candidate into a pending queue row.
func (c Candidate) Job(retryLimit int) Job {
	if retryLimit <= 0 {
		retryLimit = DefaultRetryLimit
	}
	return Job{
		ID:         c.ID,
		Name:       c.Name,
		Category:   c.Category,
		Address:    c.Address,
		Status:     StatusPending,
		RetryLimit: retryLimit,
	}
}

// Folder is a destination collection owned by a user.
type Folder struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"owner_id"`
}

// Bookmark is one entry of an upstream shared collection.
type Bookmark struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Category string `json:"category,omitempty"`
	Address  string `json:"address,omitempty"`
}

// FolderListing is the upstream shared-collection payload after filtering.
type FolderListing struct {
	Name      string     `json:"name"`
	Bookmarks []Bookmark `json:"bookmarks"`
}

// CrawlOutcome summarizes one worker invocation for a claimed job.
type CrawlOutcome struct {
	JobID        string `json:"id"`
	Status       Status `json:"status"`
	Step         Step   `json:"step,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// ImportSummary aggregates a bulk-import session. OK is true only when
// every session item crawled successfully; partial failure is an
// expected outcome, not an error.
type ImportSummary struct {
	OK            bool   `json:"ok"`
	ShareID       string `json:"share_id"`
	FolderName    string `json:"folder_name,omitempty"`
	TotalCount    int    `json:"total_count"`
	ExistingCount int    `json:"existing_count"`
	QueuedCount   int    `json:"queued_count"`
	CrawledCount  int    `json:"crawled_count"`
	FailedCount   int    `json:"failed_count"`
}
