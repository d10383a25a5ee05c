// Package normalize extracts the medical core of a raw bill line.
//
// Extraction strips inventory noise (HS codes, lot numbers, expiry dates,
// vendor tails, packaging counts), classifies the surviving tokens into
// importance tiers, and pulls out the structured anchors used for matching:
// dosage, form and route, imaging modality, and body part. It also flags
// administrative artifacts and package lines.
//
// Extraction is deterministic and total. Unknown text degrades to a
// normalized string with empty attributes, never to an error.
package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"medbill-verify/core/types"
	"medbill-verify/internal/logging"
)

// Options tunes an Extractor
type Options struct {
	// ArtifactPatterns are extra regular expressions (matched against the
	// lowercased line) that mark administrative artifacts
	ArtifactPatterns []string `json:"artifact_patterns" mapstructure:"artifact_patterns"`

	// PackageKeywords replace the default package keywords when non-empty
	PackageKeywords []string `json:"package_keywords" mapstructure:"package_keywords"`
}

// Extractor turns raw line text into a types.Extraction
type Extractor struct {
	vocab     *Vocabulary
	artifacts []*regexp.Regexp
	packages  *regexp.Regexp
}

// New builds an extractor. Invalid extra patterns are logged and skipped.
func New(opts Options, logger *zap.Logger) *Extractor {
	logger = logging.OrGlobal(logger)
	vocab := DefaultVocabulary()
	if len(opts.PackageKeywords) > 0 {
		vocab.PackageKeywords = opts.PackageKeywords
	}

	e := &Extractor{vocab: vocab}
	for _, p := range append(append([]string{}, defaultArtifactPatterns...), opts.ArtifactPatterns...) {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			logger.Warn("skipping invalid artifact pattern", zap.String("pattern", p), zap.Error(err))
			continue
		}
		e.artifacts = append(e.artifacts, re)
	}

	quoted := make([]string, 0, len(vocab.PackageKeywords))
	for _, k := range vocab.PackageKeywords {
		quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(k)))
	}
	e.packages = regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)s?\b`)
	return e
}

// NewDefault builds an extractor with the built-in vocabularies
func NewDefault() *Extractor {
	return New(Options{}, zap.NewNop())
}

// Vocabulary exposes the keyword sets, e.g. for token-overlap stop words
func (e *Extractor) Vocabulary() *Vocabulary {
	return e.vocab
}

// Extract normalizes raw text and extracts its medical attributes
func (e *Extractor) Extract(raw string) types.Extraction {
	out := types.Extraction{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		out.IsArtifact = true
		return out
	}

	lower := strings.ToLower(trimmed)
	out.IsArtifact = e.IsArtifact(lower)
	out.IsPackage = e.packages.MatchString(lower)

	cleaned := e.clean(trimmed)
	tokens := e.tokenize(cleaned)

	kept := make([]string, 0, len(tokens))
	var core []string
	for _, tok := range tokens {
		tier := e.classify(tok)
		switch {
		case tier == types.TierNoise:
			continue
		case e.vocab.Forms[tok] != "":
			if out.Attributes.Form == "" {
				out.Attributes.Form = e.vocab.Forms[tok]
			}
			continue
		}
		// form words were consumed above, so a route hit here is an explicit route token
		if r, ok := e.vocab.Routes[tok]; ok && out.Attributes.Route == "" {
			out.Attributes.Route = r
		}
		out.Tokens = append(out.Tokens, types.Token{Text: tok, Tier: tier})
		kept = append(kept, tok)

		switch {
		case isDosageToken(tok), isNumber(tok):
		case e.vocab.Qualifiers[tok]:
			out.Attributes.Qualifiers = append(out.Attributes.Qualifiers, tok)
		default:
			core = append(core, tok)
		}
		if m, ok := e.vocab.Modalities[tok]; ok && out.Attributes.Modality == "" {
			out.Attributes.Modality = m
		}
		if b, ok := e.vocab.BodyParts[tok]; ok && out.Attributes.BodyPart == "" {
			out.Attributes.BodyPart = b
		}
	}

	out.Normalized = strings.Join(kept, " ")
	if out.Normalized == "" {
		// everything was noise; fall back to the plain lowercase text
		out.Normalized = strings.Join(tokenSplit.Split(lower, -1), " ")
		out.Normalized = strings.TrimSpace(multiSpace.ReplaceAllString(out.Normalized, " "))
	}
	out.Attributes.CoreName = strings.Join(core, " ")
	out.Attributes.Dosage = ExtractDosage(cleaned)
	if out.Attributes.Route == "" && out.Attributes.Form != "" {
		out.Attributes.Route = e.vocab.Routes[out.Attributes.Form]
	}
	return out
}

// IsArtifact reports whether lowercased text is an administrative artifact
func (e *Extractor) IsArtifact(lower string) bool {
	for _, re := range e.artifacts {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// clean strips inventory metadata, doctor names and vendor tails
func (e *Extractor) clean(text string) string {
	s := strings.ToUpper(text)
	s = vendorTail.ReplaceAllString(s, " ")

	// pipes separate the service from doctor names and vendor tags
	segments := strings.Split(s, "|")
	kept := segments[:0]
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" || strings.HasPrefix(seg, "DR ") || strings.HasPrefix(seg, "DR.") {
			continue
		}
		kept = append(kept, seg)
	}
	s = strings.Join(kept, " ")

	s = doctorName.ReplaceAllString(s, " ")
	s = chainedBrand.ReplaceAllString(s, "$1")
	for _, re := range inventoryPatterns {
		s = re.ReplaceAllString(s, " ")
	}
	s = xrayVariants.ReplaceAllString(s, "XRAY")
	s = followupVariants.ReplaceAllString(s, "FOLLOWUP")
	s = twoDEcho.ReplaceAllString(s, "2DECHO")
	s = dosageGap.ReplaceAllString(s, "$1$2")
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}

func (e *Extractor) tokenize(cleaned string) []string {
	parts := tokenSplit.Split(strings.ToLower(cleaned), -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, ".")
		if p == "" {
			continue
		}
		if len(p) < 2 && !isNumber(p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// classify assigns an importance tier to a lowercase token
func (e *Extractor) classify(tok string) types.TokenTier {
	switch {
	case e.vocab.Packaging[tok]:
		return types.TierNoise
	case isDosageToken(tok):
		return types.TierHigh
	case e.vocab.Modalities[tok] != "":
		return types.TierCritical
	case e.vocab.Qualifiers[tok]:
		return types.TierHigh
	case e.vocab.BodyParts[tok] != "":
		return types.TierHigh
	case e.vocab.Forms[tok] != "":
		return types.TierLow
	case e.vocab.Critical[tok]:
		return types.TierCritical
	case e.vocab.Medium[tok]:
		return types.TierMedium
	case len(tok) >= 5 && isAlpha(tok):
		return types.TierCritical
	}
	return types.TierMedium
}

// ExtractDosage returns the first strength found in text, if any
func ExtractDosage(text string) *types.Dosage {
	m := dosagePattern.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	num, unit := m[1], strings.ToLower(m[2])
	if num == "" {
		num, unit = m[3], "%"
	}
	mag, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil
	}
	switch unit {
	case "µg", "ug":
		unit = "mcg"
	case "gm":
		unit = "g"
	case "unit":
		unit = "units"
	}
	return &types.Dosage{Magnitude: mag, Unit: unit}
}

var dosageToken = regexp.MustCompile(`^\d+(?:\.\d+)?(?:mcg|µg|ug|mg|gm|g|ml|iu|units?|%)$`)

func isDosageToken(tok string) bool {
	return dosageToken.MatchString(tok)
}

func isNumber(tok string) bool {
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

func isAlpha(tok string) bool {
	for _, r := range tok {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}
