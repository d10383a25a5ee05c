package normalize

import "regexp"

// Vocabulary holds the fixed keyword sets used by the extractor.
// Keys are lowercase tokens, values are canonical forms.
type Vocabulary struct {
	Modalities map[string]string
	BodyParts  map[string]string
	Forms      map[string]string
	Routes     map[string]string
	Qualifiers map[string]bool
	Medium     map[string]bool
	Packaging  map[string]bool
	Critical   map[string]bool
	StopWords  map[string]bool

	// PackageKeywords flag package/bundle lines
	PackageKeywords []string
}

// DefaultVocabulary returns the built-in keyword sets
func DefaultVocabulary() *Vocabulary {
	return &Vocabulary{
		Modalities: map[string]string{
			"mri": "mri", "ct": "ct", "xray": "xray", "radiograph": "xray",
			"ultrasound": "ultrasound", "usg": "ultrasound", "sonography": "ultrasound",
			"ecg": "ecg", "ekg": "ecg", "electrocardiogram": "ecg",
			"eeg": "eeg", "echo": "echo", "echocardiography": "echo", "2decho": "echo",
			"endoscopy": "endoscopy", "colonoscopy": "colonoscopy",
			"mammography": "mammography", "mammogram": "mammography",
			"pet": "pet", "angiography": "angiography", "angiogram": "angiography",
			"fluoroscopy": "fluoroscopy", "doppler": "doppler",
		},
		BodyParts: map[string]string{
			"brain": "brain", "cerebral": "brain", "head": "head", "skull": "head",
			"chest": "chest", "thorax": "chest", "abdomen": "abdomen", "abdominal": "abdomen",
			"cardiac": "cardiac", "heart": "cardiac", "lung": "lung", "lungs": "lung",
			"liver": "liver", "hepatic": "liver", "kidney": "kidney", "renal": "kidney",
			"kub": "kub", "spine": "spine", "knee": "knee", "shoulder": "shoulder",
			"pelvis": "pelvis", "pelvic": "pelvis", "neck": "neck", "back": "back",
			"ankle": "ankle", "wrist": "wrist", "elbow": "elbow", "hip": "hip",
			"foot": "foot", "hand": "hand", "finger": "finger", "toe": "toe",
			"arm": "arm", "leg": "leg", "stomach": "stomach", "intestine": "intestine",
			"pancreas": "pancreas", "spleen": "spleen", "bladder": "bladder",
			"cervical": "cervical", "thoracic": "thoracic", "lumbar": "lumbar",
			"sacral": "sacral", "breast": "breast", "thyroid": "thyroid", "eye": "eye",
		},
		Forms: map[string]string{
			"tablet": "tablet", "tablets": "tablet", "tab": "tablet", "tabs": "tablet",
			"capsule": "capsule", "capsules": "capsule", "cap": "capsule", "caps": "capsule",
			"injection": "injection", "inj": "injection", "vial": "injection",
			"ampoule": "injection", "amp": "injection",
			"infusion": "infusion", "syrup": "syrup", "syp": "syrup",
			"suspension": "suspension", "susp": "suspension",
			"cream": "cream", "ointment": "ointment", "oint": "ointment", "gel": "gel",
			"lotion": "lotion", "drops": "drops", "drop": "drops",
			"inhaler": "inhaler", "rotacap": "inhaler", "respule": "nebulizer",
			"respules": "nebulizer", "nebulizer": "nebulizer",
			"powder": "powder", "sachet": "powder", "spray": "spray", "patch": "patch",
			"suppository": "suppository",
		},
		Routes: map[string]string{
			"tablet": "oral", "capsule": "oral", "syrup": "oral", "suspension": "oral", "powder": "oral",
			"injection": "parenteral", "infusion": "parenteral",
			"cream": "topical", "ointment": "topical", "gel": "topical", "lotion": "topical", "patch": "topical",
			"inhaler": "inhalation", "nebulizer": "inhalation", "spray": "nasal",
			"drops": "drops", "suppository": "rectal",
			// explicit route tokens
			"iv": "parenteral", "im": "parenteral", "sc": "parenteral", "oral": "oral", "topical": "topical",
		},
		Qualifiers: set(
			"first", "second", "third", "initial", "repeat", "followup", "follow",
			"emergency", "urgent", "stat", "specialist", "senior", "junior", "cross",
			"left", "right", "bilateral", "contrast", "plain", "night",
		),
		Medium: set(
			"visit", "session", "upper", "lower", "anterior", "posterior",
			"charges", "charge", "fee", "fees", "per", "day", "hours", "hour",
		),
		Packaging: set(
			"strip", "strips", "box", "pack", "bottle", "brand", "mfr", "manufacturer",
			"company", "batch", "lot", "exp", "expiry", "mfg", "mfd", "pcs", "nos",
		),
		Critical: set(
			"paracetamol", "aspirin", "insulin", "metformin", "nicorandil",
			"consultation", "surgery", "biopsy", "icu", "ward", "room",
		),
		StopWords: set(
			"the", "a", "an", "of", "for", "with", "in", "on", "at", "to", "from",
			"by", "and", "or", "but", "is", "are", "per", "charges", "charge",
		),
		PackageKeywords: []string{"package", "pkg", "bundle", "combo", "plan"},
	}
}

func set(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

// Inventory metadata stripped before tokenization. Applied to uppercased text.
var inventoryPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(\d{4,}\)`),
	regexp.MustCompile(`\[\d{4,}\]`),
	regexp.MustCompile(`\(HS[:\s]*\d+\)`),
	regexp.MustCompile(`\b(?:LOT|BATCH)\b\s*(?:NO\b\.?|#)?[\s:#.]*[A-Z0-9\-]*\d[A-Z0-9\-]*`),
	regexp.MustCompile(`\b(?:EXP|EXPIRY|MFG|MFD)[\s.:]*\d{1,2}[/-](?:\d{1,2}[/-])?\d{2,4}`),
	regexp.MustCompile(`\b(?:EXP|EXPIRY|MFG|MFD)[\s.:]*[A-Z]{3}[\s-]\d{2,4}`),
	regexp.MustCompile(`\b(?:BRAND|MFR|MANUFACTURER)[\s:]+[A-Z][A-Z ]*`),
	regexp.MustCompile(`\b\d+\s*X\s*\d+\s*(?:ML|MG|GM|L|TABS?|CAPS?)\b`),
	regexp.MustCompile(`\b(?:STRIP|BOX|PACK|BOTTLE|VIAL)\s*OF\s*\d+`),
	regexp.MustCompile(`\b\d+\s*(?:STRIPS?|TABS?|CAPS?|PCS|NOS)\b`),
	regexp.MustCompile(`\bHSN?\s*(?:CODE)?[\s:]*\d{4,}`),
	regexp.MustCompile(`^\s*\d+\s*[.)]\s+`),
	regexp.MustCompile(`^\s*\(\d{1,3}\)\s*`),
}

var (
	// |GTF, |PHARMA vendor tails
	vendorTail = regexp.MustCompile(`\|\s*[A-Z]{2,10}\s*$`)

	// NICORANDIL-TABLET-5MG-KORANDIL-: anything hyphen-chained after the strength is brand
	chainedBrand = regexp.MustCompile(`(\d+(?:\.\d+)?(?:MG|MCG|ML|IU|GM|G))(?:-[A-Z]+)+-?`)

	// Dr. Vivek Jacob P
	doctorName = regexp.MustCompile(`\bDR\.?\s+[A-Z][A-Z.]*(?:\s+[A-Z][A-Z.]*){0,3}\s*$`)

	// 500 mg, 0.5g, 100IU, 5%
	dosagePattern = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mcg|µg|ug|mg|gm|g|ml|iu|units?)\b|(\d+(?:\.\d+)?)\s*%`)

	// joins "500 mg" into "500mg" before tokenizing
	dosageGap = regexp.MustCompile(`(?i)(\d)\s+(mcg|mg|gm|g|ml|iu|units?|%)\b`)

	xrayVariants     = regexp.MustCompile(`(?i)\bx[\s\-]?ray\b`)
	followupVariants = regexp.MustCompile(`(?i)\bfollow[\s\-]?up\b`)
	twoDEcho         = regexp.MustCompile(`(?i)\b2\s*d\s*echo\b`)

	tokenSplit = regexp.MustCompile(`[^a-z0-9.%µ]+`)
	multiSpace = regexp.MustCompile(`\s+`)
)

// Artifact lines: page markers, contact details, emails, promotional text,
// bill headers and insurance references. Applied to lowercased text.
var defaultArtifactPatterns = []string{
	`^\s*page\s*\d+(\s*(of|/)\s*\d+)?\s*$`,
	`^\s*\d+\s*/\s*\d+\s*$`,
	`\b(ph|phone|tel|telephone|mobile|mob|fax|contact|call)\b[\s.:#-]*\+?[\d][\d\s()\-]{5,}`,
	`\b1800[\s-]?[\dx]{3}[\s-]?[\dx]{3,4}\b`,
	`[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`,
	`(www\.|https?://)`,
	`\b(thank you|thanks for|get well soon|visit us|follow us|for queries|customer care|helpline)\b`,
	`^\s*(bill|invoice|receipt)\s*(no|number|date|#)\b`,
	`\b(patient name|patient id|uhid|ip\s*no|mr\s*no|admission date|discharge date|bed\s*no|ward\s*no)\b`,
	`\b(policy|claim|authori[sz]ation|pre-?auth|tpa|member)\s*(no|number|id|ref)\b`,
	`^\s*(sub\s*-?\s*total|grand\s*total|total|net\s*amount|amount\s*payable|balance\s*due)\s*[:\-]?[\s\d.,]*$`,
	`^\s*amount\s*in\s*words\b`,
	`^\s*(gstin|pan|cin)\b`,
	`^[\s\-=_*.]{3,}$`,
	`^[\d\s.,/\-:]+$`,
}
