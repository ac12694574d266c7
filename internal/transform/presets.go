package transform

import (
	"github.com/pixelpress/pixelpress/internal/config"
	"github.com/pixelpress/pixelpress/internal/domain"
)

// Preset is one fixed output rendition applied to every job.
type Preset struct {
	Type    domain.VersionType
	Width   int
	Height  int
	Format  Format
	Quality int
	Fit     FitMode
}

// Options returns the transform options for this preset, with the optional
// extract region applied.
func (p Preset) Options(region *Region) Options {
	return Options{
		Width:         p.Width,
		Height:        p.Height,
		Fit:           p.Fit,
		Format:        p.Format,
		Quality:       p.Quality,
		ExtractRegion: region,
	}
}

// DefaultPresets returns the four standard output renditions: a large master
// square, a mid-size grid image, a product-detail-page image, and a thumbnail.
func DefaultPresets() []Preset {
	return []Preset{
		{Type: domain.VersionMaster4K, Width: 3840, Height: 3840, Format: FormatWEBP, Quality: 95, Fit: FitCover},
		{Type: domain.VersionGrid, Width: 800, Height: 800, Format: FormatWEBP, Quality: 85, Fit: FitCover},
		{Type: domain.VersionPDP, Width: 1600, Height: 1600, Format: FormatWEBP, Quality: 90, Fit: FitContain},
		{Type: domain.VersionThumbnail, Width: 300, Height: 300, Format: FormatWEBP, Quality: 75, Fit: FitCover},
	}
}

// PresetsFromConfig maps configured overrides onto presets, falling back to
// the defaults when no override is configured.
func PresetsFromConfig(overrides []config.PresetConfig) []Preset {
	if len(overrides) == 0 {
		return DefaultPresets()
	}

	presets := make([]Preset, 0, len(overrides))
	for _, o := range overrides {
		p := Preset{
			Type:    domain.VersionType(o.Type),
			Width:   o.Width,
			Height:  o.Height,
			Format:  Format(o.Format),
			Quality: o.Quality,
			Fit:     FitMode(o.Fit),
		}
		if p.Fit == "" {
			p.Fit = FitCover
		}
		if p.Format == "" {
			p.Format = FormatWEBP
		}
		if p.Quality == 0 {
			p.Quality = 85
		}
		presets = append(presets, p)
	}
	return presets
}
