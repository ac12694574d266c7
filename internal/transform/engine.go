// Package transform implements the image transform engine: smart-crop,
// fit-mode resize, and multi-format encode. Functions are pure with respect
// to state; they only manipulate buffers.
package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/png"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/pixelpress/pixelpress/internal/domain"
	_ "golang.org/x/image/webp"
)

// FitMode is the resize policy applied inside the target box.
type FitMode string

const (
	FitContain FitMode = "contain" // no cropping, padded with background
	FitCover   FitMode = "cover"   // crop to fill
	FitFill    FitMode = "fill"    // force exact dims, distortion allowed
)

// Format is the output encoding.
type Format string

const (
	FormatWEBP Format = "webp"
	FormatJPG  Format = "jpg"
	FormatPNG  Format = "png"
)

// ContentType returns the MIME type for an output format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	default:
		return "image/webp"
	}
}

// Region is a crop rectangle in normalized [0,1] coordinates.
type Region struct {
	Left   float64
	Top    float64
	Width  float64
	Height float64
}

// Options controls one Process call.
type Options struct {
	Width         int
	Height        int
	Fit           FitMode
	Format        Format
	Quality       int     // 1-100
	Background    string  // hex color for contain padding, default white
	ExtractRegion *Region // optional normalized crop applied before resize
}

// ImageInfo describes a decoded image buffer.
type ImageInfo struct {
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Format     string `json:"format"`
	Size       int64  `json:"size"`
	HasAlpha   bool   `json:"has_alpha"`
	ColorSpace string `json:"color_space"`
	Density    int    `json:"density"`
}

// Process decodes the source buffer, applies the optional extract region and
// the fit-mode resize, and encodes to the requested format and quality.
// Output width and height are always even; decode and resize failures are
// recoverable IMAGE_PROCESSING_ERRORs.
func Process(src []byte, opts Options) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, domain.NewError(domain.CodeImageProcessing, "failed to decode source image", true, err)
	}

	if opts.ExtractRegion != nil {
		img = extract(img, *opts.ExtractRegion)
	}

	out, err := fitResize(img, opts)
	if err != nil {
		return nil, err
	}

	return encode(out, opts.Format, opts.Quality)
}

// Compress re-encodes a buffer to the given format and quality without
// resizing. Failures are recoverable COMPRESSION_ERRORs.
func Compress(src []byte, format Format, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, domain.NewError(domain.CodeCompression, "failed to decode image for compression", true, err)
	}
	return encode(img, format, quality)
}

// GetInfo extracts metadata from an image buffer without a full decode.
// A failure here is non-recoverable: the buffer is not an image we can handle.
func GetInfo(buf []byte) (*ImageInfo, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		return nil, domain.NewError(domain.CodeImageInfo, "failed to read image info", false, err)
	}

	return &ImageInfo{
		Width:      cfg.Width,
		Height:     cfg.Height,
		Format:     format,
		Size:       int64(len(buf)),
		HasAlpha:   modelHasAlpha(cfg.ColorModel),
		ColorSpace: "srgb",
		Density:    72,
	}, nil
}

// extract converts the normalized region to pixels, clamps the crop box fully
// inside the source, forces even dimensions, and crops. A degenerate box
// (zero width or height after clamping) skips the crop entirely.
func extract(img image.Image, r Region) image.Image {
	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()

	cropLeft := int(math.Round(r.Left * float64(ow)))
	cropTop := int(math.Round(r.Top * float64(oh)))
	cropWidth := int(math.Round(r.Width * float64(ow)))
	cropHeight := int(math.Round(r.Height * float64(oh)))

	// Left/top pinned to [0, dim-1] before the size clamp.
	safeLeft := clamp(cropLeft, 0, ow-1)
	safeTop := clamp(cropTop, 0, oh-1)
	safeWidth := clamp(cropWidth, 0, ow-safeLeft)
	safeHeight := clamp(cropHeight, 0, oh-safeTop)

	evenWidth := safeWidth - safeWidth%2
	evenHeight := safeHeight - safeHeight%2
	if evenWidth <= 0 || evenHeight <= 0 {
		return img
	}

	rect := image.Rect(safeLeft, safeTop, safeLeft+evenWidth, safeTop+evenHeight)
	return imaging.Crop(img, rect)
}

// fitResize computes the resize target per fit mode and applies it.
func fitResize(img image.Image, opts Options) (image.Image, error) {
	b := img.Bounds()
	ow, oh := b.Dx(), b.Dy()
	if ow <= 0 || oh <= 0 {
		return nil, domain.NewError(domain.CodeImageProcessing, "source image has no pixels", true, nil)
	}

	tw, th := opts.Width, opts.Height

	switch opts.Fit {
	case FitFill:
		return imaging.Resize(img, tw, th, imaging.Lanczos), nil

	case FitCover:
		origRatio := float64(ow) / float64(oh)
		targetRatio := float64(tw) / float64(th)

		var w, h int
		if origRatio > targetRatio {
			// Wider than the target box: match height, overflow width.
			h = th
			w = int(math.Round(float64(th) * origRatio))
		} else {
			w = tw
			h = int(math.Round(float64(tw) / origRatio))
		}
		w -= w % 2
		h -= h % 2

		resized := imaging.Resize(img, w, h, imaging.Lanczos)
		return imaging.CropCenter(resized, tw, th), nil

	case FitContain, "":
		factor := math.Min(float64(tw)/float64(ow), float64(th)/float64(oh))
		w := int(math.Round(float64(ow) * factor))
		h := int(math.Round(float64(oh) * factor))
		w -= w % 2
		h -= h % 2
		if w <= 0 || h <= 0 {
			return nil, domain.NewError(domain.CodeImageProcessing,
				fmt.Sprintf("contain resize collapsed to %dx%d", w, h), true, nil)
		}

		resized := imaging.Resize(img, w, h, imaging.Lanczos)
		canvas := imaging.New(tw, th, parseBackground(opts.Background))
		return imaging.PasteCenter(canvas, resized), nil

	default:
		return nil, domain.NewError(domain.CodeImageProcessing,
			fmt.Sprintf("unknown fit mode %q", opts.Fit), true, nil)
	}
}

// encode serializes img to the requested format. WEBP uses maximum compression
// effort and stays lossy; JPEG and PNG go through imaging's encoders.
func encode(img image.Image, format Format, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = 80
	}

	var buf bytes.Buffer
	switch format {
	case FormatWEBP, "":
		opt, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, float32(quality))
		if err != nil {
			return nil, domain.NewError(domain.CodeCompression, "failed to build webp encoder options", true, err)
		}
		opt.Method = 6
		if err := webp.Encode(&buf, img, opt); err != nil {
			return nil, domain.NewError(domain.CodeCompression, "failed to encode webp", true, err)
		}
	case FormatJPG:
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, domain.NewError(domain.CodeCompression, "failed to encode jpeg", true, err)
		}
	case FormatPNG:
		if err := imaging.Encode(&buf, img, imaging.PNG, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
			return nil, domain.NewError(domain.CodeCompression, "failed to encode png", true, err)
		}
	default:
		return nil, domain.NewError(domain.CodeCompression, fmt.Sprintf("unsupported output format %q", format), true, nil)
	}

	return buf.Bytes(), nil
}

// parseBackground parses a hex color like "#ffffff"; invalid input falls back
// to white.
func parseBackground(hex string) color.Color {
	hex = strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(hex) != 6 {
		return color.White
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.White
	}
	return color.NRGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}
}

func modelHasAlpha(m color.Model) bool {
	switch m {
	case color.NRGBAModel, color.NRGBA64Model, color.RGBAModel, color.RGBA64Model, color.AlphaModel, color.Alpha16Model:
		return true
	}
	return false
}

func clamp(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
