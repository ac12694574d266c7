package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// VersionType identifies one of the fixed output renditions generated per job.
type VersionType string

const (
	VersionMaster4K  VersionType = "MASTER_4K"
	VersionGrid      VersionType = "GRID"
	VersionPDP       VersionType = "PDP"
	VersionThumbnail VersionType = "THUMBNAIL"
)

// AllowedMimeTypes is the upload allow-list for source images.
var AllowedMimeTypes = []string{
	"image/jpeg",
	"image/png",
	"image/webp",
}

// MimeTypeAllowed reports whether mime is on the upload allow-list.
func MimeTypeAllowed(mime string) bool {
	for _, m := range AllowedMimeTypes {
		if m == mime {
			return true
		}
	}
	return false
}

// StringArray is a custom type for storing string arrays as JSON in the database.
type StringArray []string

// Value implements the driver.Valuer interface for database serialization.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements the sql.Scanner interface for database deserialization.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = StringArray{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.New("failed to scan StringArray")
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, a)
}

// BrandContext carries optional brand information used to shape AI analysis.
type BrandContext struct {
	Name       string `gorm:"type:text" json:"name,omitempty"`
	Vertical   string `gorm:"type:text" json:"vertical,omitempty"`
	Tone       string `gorm:"type:text" json:"tone,omitempty"`
	Background string `gorm:"type:text" json:"background,omitempty"`
}

// ProductContext carries optional product information used to shape AI analysis.
type ProductContext struct {
	ID         string      `gorm:"type:text" json:"id,omitempty"`
	Category   string      `gorm:"type:text" json:"category,omitempty"`
	Attributes StringArray `gorm:"type:text" json:"attributes,omitempty"`
}

// ImageVersion is one derived output image belonging to exactly one job.
// Width and height are always even (codec requirement).
type ImageVersion struct {
	ID          uint        `gorm:"primaryKey;autoIncrement" json:"-"`
	JobID       string      `gorm:"type:text;not null;uniqueIndex:idx_versions_job_type" json:"job_id"`
	Type        VersionType `gorm:"type:text;not null;uniqueIndex:idx_versions_job_type" json:"type"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	FileSize    int64       `json:"file_size"`
	Format      string      `gorm:"type:text" json:"format"`
	Quality     int         `json:"quality"`
	FileName    string      `gorm:"type:text" json:"file_name"`
	StoragePath string      `gorm:"type:text" json:"storage_path"`
	ContentHash string      `gorm:"type:text" json:"content_hash,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TableName returns the database table name for ImageVersion.
func (ImageVersion) TableName() string {
	return "image_versions"
}

// ImageJob is the aggregate root for one image's end-to-end processing unit,
// from upload to final versions or failure.
type ImageJob struct {
	ID          string           `gorm:"type:text;primaryKey" json:"id"`
	FileName    string           `gorm:"type:text;not null" json:"file_name"`
	FileSize    int64            `gorm:"not null" json:"file_size"`
	MimeType    string           `gorm:"type:text;not null" json:"mime_type"`
	StoragePath string           `gorm:"type:text;not null" json:"storage_path"`
	Status      ProcessingStatus `gorm:"type:text;index:idx_jobs_status;default:PENDING" json:"status"`

	// RunAIAnalysis records the upload's analysis choice so re-enqueues
	// replay it instead of assuming a default.
	RunAIAnalysis bool `gorm:"default:true" json:"run_ai_analysis"`

	Brand   *BrandContext   `gorm:"embedded;embeddedPrefix:brand_" json:"brand,omitempty"`
	Product *ProductContext `gorm:"embedded;embeddedPrefix:product_" json:"product,omitempty"`

	Versions []ImageVersion `gorm:"foreignKey:JobID;references:ID" json:"versions"`

	ErrorMessage        string     `gorm:"type:text" json:"error_message,omitempty"`
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessingEndedAt   *time.Time `json:"processing_ended_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// TableName returns the database table name for ImageJob.
func (ImageJob) TableName() string {
	return "image_jobs"
}

// Version returns the version of the given type, if attached.
func (j *ImageJob) Version(t VersionType) (*ImageVersion, bool) {
	for i := range j.Versions {
		if j.Versions[i].Type == t {
			return &j.Versions[i], true
		}
	}
	return nil, false
}

// AttachVersion adds or replaces the version of the given type.
// Version types are unique per job; insertion order is irrelevant.
func (j *ImageJob) AttachVersion(v ImageVersion) {
	v.JobID = j.ID
	for i := range j.Versions {
		if j.Versions[i].Type == v.Type {
			j.Versions[i] = v
			return
		}
	}
	j.Versions = append(j.Versions, v)
}

// CanComplete reports whether the job may transition to COMPLETED.
// A job with zero versions cannot be completed.
func (j *ImageJob) CanComplete() bool {
	return j.Status == StatusProcessing && len(j.Versions) > 0
}

// JobStats aggregates per-status counts and the mean processing duration in
// milliseconds across completed jobs that have both timestamps recorded.
// PendingJobs counts jobs not yet picked up by a worker (PENDING and QUEUED),
// so TotalJobs equals pending+processing+completed+failed when no job is
// cancelled.
type JobStats struct {
	TotalJobs           int64   `json:"total_jobs"`
	PendingJobs         int64   `json:"pending_jobs"`
	ProcessingJobs      int64   `json:"processing_jobs"`
	CompletedJobs       int64   `json:"completed_jobs"`
	FailedJobs          int64   `json:"failed_jobs"`
	CancelledJobs       int64   `json:"cancelled_jobs"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
}
