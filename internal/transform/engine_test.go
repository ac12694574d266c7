package transform

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/pixelpress/pixelpress/internal/domain"
)

// pngImage builds an opaque PNG test buffer of the given dimensions.
func pngImage(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func decodeDims(t *testing.T, buf []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("failed to decode output: %v", err)
	}
	return cfg.Width, cfg.Height
}

func TestProcessContainPadsToTarget(t *testing.T) {
	// 1000x500 into a 500x500 box: scale factor min(0.5, 1.0)=0.5 gives
	// 500x250, then padding fills the box.
	src := pngImage(t, 1000, 500)

	out, err := Process(src, Options{
		Width: 500, Height: 500, Fit: FitContain, Format: FormatPNG, Quality: 90,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	w, h := decodeDims(t, out)
	if w != 500 || h != 500 {
		t.Errorf("contain output = %dx%d, want 500x500", w, h)
	}
}

func TestProcessCoverCropsToTarget(t *testing.T) {
	// 1000x500 (ratio 2.0) into 400x400 (ratio 1.0): wider than target, so
	// the intermediate is 800x400 and the centered crop yields 400x400.
	src := pngImage(t, 1000, 500)

	out, err := Process(src, Options{
		Width: 400, Height: 400, Fit: FitCover, Format: FormatPNG, Quality: 90,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	w, h := decodeDims(t, out)
	if w != 400 || h != 400 {
		t.Errorf("cover output = %dx%d, want 400x400", w, h)
	}
}

func TestProcessFillForcesExactDims(t *testing.T) {
	src := pngImage(t, 300, 100)

	out, err := Process(src, Options{
		Width: 200, Height: 200, Fit: FitFill, Format: FormatPNG, Quality: 90,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	w, h := decodeDims(t, out)
	if w != 200 || h != 200 {
		t.Errorf("fill output = %dx%d, want 200x200", w, h)
	}
}

func TestExtractRegionClamping(t *testing.T) {
	// A region reaching past the right/bottom edge is clamped to the image:
	// left=90, width=min(30, 100-90)=10, forced even, giving a 10x10 box.
	src := pngImage(t, 100, 100)
	region := &Region{Left: 0.9, Top: 0.9, Width: 0.3, Height: 0.3}

	out, err := Process(src, Options{
		Width: 10, Height: 10, Fit: FitFill, Format: FormatPNG, Quality: 90,
		ExtractRegion: region,
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	w, h := decodeDims(t, out)
	if w != 10 || h != 10 {
		t.Errorf("clamped crop output = %dx%d, want 10x10", w, h)
	}
}

func TestExtractHelper(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	testCases := []struct {
		name   string
		region Region
		wantW  int
		wantH  int
	}{
		{
			name:   "edge region clamped",
			region: Region{Left: 0.9, Top: 0.9, Width: 0.3, Height: 0.3},
			wantW:  10,
			wantH:  10,
		},
		{
			name:   "center region",
			region: Region{Left: 0.25, Top: 0.25, Width: 0.5, Height: 0.5},
			wantW:  50,
			wantH:  50,
		},
		{
			name:   "odd dims forced even",
			region: Region{Left: 0, Top: 0, Width: 0.33, Height: 0.33},
			wantW:  32, // round(33) truncated to even
			wantH:  32,
		},
		{
			name:   "degenerate region skips crop",
			region: Region{Left: 0.5, Top: 0.5, Width: 0.001, Height: 0.001},
			wantW:  100,
			wantH:  100,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			out := extract(img, tc.region)
			b := out.Bounds()
			if b.Dx() != tc.wantW || b.Dy() != tc.wantH {
				t.Errorf("extract = %dx%d, want %dx%d", b.Dx(), b.Dy(), tc.wantW, tc.wantH)
			}
		})
	}
}

func TestEvenDimensionInvariant(t *testing.T) {
	testCases := []struct {
		name    string
		srcW    int
		srcH    int
		targetW int
		targetH int
		fit     FitMode
	}{
		{"contain odd source", 333, 111, 500, 500, FitContain},
		{"cover odd source", 501, 333, 200, 200, FitCover},
		{"contain tall", 100, 999, 300, 300, FitContain},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			src := pngImage(t, tc.srcW, tc.srcH)
			out, err := Process(src, Options{
				Width: tc.targetW, Height: tc.targetH, Fit: tc.fit,
				Format: FormatPNG, Quality: 90,
			})
			if err != nil {
				t.Fatalf("Process failed: %v", err)
			}
			w, h := decodeDims(t, out)
			if w%2 != 0 || h%2 != 0 {
				t.Errorf("output dims %dx%d are not both even", w, h)
			}
		})
	}
}

func TestProcessRejectsGarbage(t *testing.T) {
	_, err := Process([]byte("not an image"), Options{
		Width: 100, Height: 100, Fit: FitCover, Format: FormatPNG,
	})
	if err == nil {
		t.Fatal("expected decode error, got nil")
	}
}

func TestCompressReencodesWithoutResizing(t *testing.T) {
	src := pngImage(t, 64, 48)

	out, err := Compress(src, FormatJPG, 70)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	info, err := GetInfo(out)
	if err != nil {
		t.Fatalf("GetInfo on compressed output failed: %v", err)
	}
	if info.Format != "jpeg" {
		t.Errorf("compressed format = %q, want jpeg", info.Format)
	}
	if info.Width != 64 || info.Height != 48 {
		t.Errorf("compressed dims = %dx%d, want 64x48 unchanged", info.Width, info.Height)
	}
}

func TestCompressRejectsGarbage(t *testing.T) {
	_, err := Compress([]byte("not an image"), FormatJPG, 70)
	if err == nil {
		t.Fatal("expected compression error, got nil")
	}
	if code := domain.CodeOf(err); code != domain.CodeCompression {
		t.Errorf("error code = %q, want %q", code, domain.CodeCompression)
	}
	if !domain.IsRecoverable(err) {
		t.Error("compression failure should be recoverable")
	}
}

func TestGetInfo(t *testing.T) {
	src := pngImage(t, 640, 480)
	info, err := GetInfo(src)
	if err != nil {
		t.Fatalf("GetInfo failed: %v", err)
	}
	if info.Width != 640 || info.Height != 480 {
		t.Errorf("info dims = %dx%d, want 640x480", info.Width, info.Height)
	}
	if info.Format != "png" {
		t.Errorf("info format = %q, want png", info.Format)
	}
	if info.Size != int64(len(src)) {
		t.Errorf("info size = %d, want %d", info.Size, len(src))
	}
}

func TestFormatContentType(t *testing.T) {
	if got := FormatJPG.ContentType(); got != "image/jpeg" {
		t.Errorf("jpg content type = %q", got)
	}
	if got := FormatPNG.ContentType(); got != "image/png" {
		t.Errorf("png content type = %q", got)
	}
	if got := FormatWEBP.ContentType(); got != "image/webp" {
		t.Errorf("webp content type = %q", got)
	}
}
