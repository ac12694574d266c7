package domain

// CropRegion is a rectangle in normalized [0,1] coordinates relative to the
// source image, as suggested by AI analysis.
type CropRegion struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// AnalysisIssue is one problem the analyzer found with the source image.
type AnalysisIssue struct {
	Type       string `json:"type"`
	Severity   string `json:"severity"` // low, medium, high
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// AIAnalysisResult is the transient outcome of one AI analysis pass.
// It is produced at most once per job attempt and is not persisted as its
// own entity.
type AIAnalysisResult struct {
	DetectedObjects []string        `json:"detected_objects"`
	SuggestedCrop   *CropRegion     `json:"suggested_crop,omitempty"`
	QualityScore    int             `json:"quality_score"` // 0-100
	DominantColors  []string        `json:"dominant_colors,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Description     string          `json:"description,omitempty"`
	Issues          []AnalysisIssue `json:"issues,omitempty"`

	// Degraded marks a fallback result produced because the provider's
	// answer could not be parsed. Not part of the provider payload.
	Degraded bool `json:"-"`
}

// AnalysisContext carries the optional brand and product information used to
// shape the instructions given to the analysis provider.
type AnalysisContext struct {
	Brand   *BrandContext
	Product *ProductContext
}
