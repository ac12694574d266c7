// Package prompts holds the instruction templates sent to the vision analysis
// provider, and the context shaping that folds brand/product hints into them.
package prompts

import (
	"fmt"
	"strings"

	"github.com/pixelpress/pixelpress/internal/domain"
)

// AnalysisSystemPrompt defines the analyzer role and the required output shape.
// The provider must answer with a single JSON object so the adapter can parse
// it mechanically.
const AnalysisSystemPrompt = `You are a product photography analyst for an e-commerce image pipeline. You inspect one product image and return a machine-readable assessment.

Respond with a single JSON object and nothing else, using exactly these fields:
{
  "detected_objects": ["list of objects visible in the image"],
  "suggested_crop": {"left": 0.0, "top": 0.0, "width": 1.0, "height": 1.0},
  "quality_score": 0,
  "dominant_colors": ["#rrggbb hex values"],
  "tags": ["short descriptive tags"],
  "description": "one-paragraph description of the product shot",
  "issues": [{"type": "string", "severity": "low|medium|high", "message": "string", "suggestion": "string"}]
}

Rules:
- suggested_crop is the tightest region that keeps the full product with comfortable margin, in coordinates normalized to [0,1] relative to the image. Omit it if the framing is already good.
- quality_score is 0-100 judging sharpness, lighting, and framing for e-commerce use.
- issues covers problems like blur, harsh shadows, clutter, cut-off product, or distracting background.`

// analysisUserPrompt is the base user instruction before context shaping.
const analysisUserPrompt = `Analyze this product image for catalog use.`

// BuildAnalysisPrompt renders the user instruction, folding optional brand and
// product context into the guidance given to the provider.
func BuildAnalysisPrompt(actx *domain.AnalysisContext) string {
	var b strings.Builder
	b.WriteString(analysisUserPrompt)

	if actx == nil {
		return b.String()
	}

	if brand := actx.Brand; brand != nil {
		b.WriteString("\n\nBrand context:")
		if brand.Name != "" {
			fmt.Fprintf(&b, "\n- Brand: %s", brand.Name)
		}
		if brand.Vertical != "" {
			fmt.Fprintf(&b, "\n- Vertical: %s", brand.Vertical)
		}
		if brand.Tone != "" {
			fmt.Fprintf(&b, "\n- Visual tone: %s", brand.Tone)
		}
		if brand.Background != "" {
			fmt.Fprintf(&b, "\n- Preferred background: %s", brand.Background)
		}
		b.WriteString("\nJudge framing and background fit against this brand context.")
	}

	if product := actx.Product; product != nil {
		b.WriteString("\n\nProduct context:")
		if product.ID != "" {
			fmt.Fprintf(&b, "\n- Product ID: %s", product.ID)
		}
		if product.Category != "" {
			fmt.Fprintf(&b, "\n- Category: %s", product.Category)
		}
		if len(product.Attributes) > 0 {
			fmt.Fprintf(&b, "\n- Attributes: %s", strings.Join(product.Attributes, ", "))
		}
		b.WriteString("\nThe suggested crop must keep the whole product of this category in frame.")
	}

	return b.String()
}
