package transform

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// NormalizedMetadata is the MLE asset schema produced from raw AEM
// metadata. It is constructed fresh per event and serialized as the body
// of the outbound API call.
type NormalizedMetadata struct {
	// Identification
	AssetID   string `json:"assetId"`
	AssetPath string `json:"assetPath"`
	AssetURL  string `json:"assetUrl,omitempty"`
	PublicURL string `json:"publicUrl,omitempty"`

	// Media properties
	MediaType string `json:"mediaType"`
	MimeType  string `json:"mimeType,omitempty"`
	FileSize  int64  `json:"fileSize,omitempty"`
	FileName  string `json:"fileName,omitempty"`

	// Dimensions
	Width  int64 `json:"width,omitempty"`
	Height int64 `json:"height,omitempty"`

	// Content
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	AltText     string `json:"altText,omitempty"`

	// Classification
	Tags       []string `json:"tags"`
	Categories []string `json:"categories"`
	Keywords   []string `json:"keywords"`

	// Business
	Brand       string `json:"brand,omitempty"`
	Campaign    string `json:"campaign,omitempty"`
	ProductType string `json:"productType,omitempty"`
	Usage       string `json:"usage,omitempty"`

	// Status
	ApprovalStatus string `json:"approvalStatus"`
	PublishStatus  string `json:"publishStatus,omitempty"`
	WorkflowStatus string `json:"workflowStatus,omitempty"`

	// Timestamps
	CreatedDate   string `json:"createdDate,omitempty"`
	ModifiedDate  string `json:"modifiedDate,omitempty"`
	PublishedDate string `json:"publishedDate"`

	// Technical
	ColorSpace  string `json:"colorSpace,omitempty"`
	Resolution  string `json:"resolution,omitempty"`
	Orientation string `json:"orientation,omitempty"`

	// Rights
	Copyright string `json:"copyright,omitempty"`
	License   string `json:"license,omitempty"`
	Creator   string `json:"creator,omitempty"`

	// Event context
	EventType    string `json:"eventType"`
	SourceSystem string `json:"sourceSystem"`

	// Everything not covered by the fixed schema
	CustomMetadata map[string]any `json:"customMetadata"`
}

// Field precedence tables. Order matters: the first present field wins.
var (
	idFields          = []string{"jcr:uuid", "dam:assetID", "uuid"}
	formatFields      = []string{"dc:format", "dam:MIMEtype"}
	titleFields       = []string{"dc:title", "jcr:title"}
	descriptionFields = []string{"dc:description", "jcr:description"}
	altTextFields     = []string{"dam:altText", "dc:altText"}
	tagFields         = []string{"cq:tags", "dam:tags"}
	categoryFields    = []string{"dam:categories", "cq:categories"}
	keywordFields     = []string{"dc:subject", "dam:keywords"}
	approvalFields    = []string{"dam:status", "dam:approvalStatus", "status", "reviewStatus"}
)

var mimeByExtension = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
}

// standardKeys enumerates source fields consumed by the fixed schema;
// anything else lands in customMetadata unless it sits under a reserved
// repository namespace.
var standardKeys = map[string]struct{}{
	"dc:format": {}, "dam:MIMEtype": {},
	"dc:title": {}, "dc:description": {},
	"dam:altText": {}, "dc:altText": {},
	"dam:tags": {}, "dam:categories": {},
	"dc:subject": {}, "dam:keywords": {},
	"dam:status": {}, "dam:approvalStatus": {}, "status": {}, "reviewStatus": {},
	"dam:size": {},
	"tiff:ImageWidth": {}, "tiff:ImageLength": {},
	"dam:publishStatus": {}, "dam:workflowStatus": {},
	"dam:colorSpace": {}, "dam:resolution": {}, "dam:orientation": {},
	"dc:rights": {}, "dam:license": {}, "dc:creator": {},
	"brand": {}, "dam:brand": {},
	"campaign": {}, "dam:campaign": {},
	"productType": {}, "dam:productType": {},
	"usage": {}, "dam:usage": {},
	"uuid": {},
}

var reservedPrefixes = []string{"jcr:", "cq:"}

// SourceSystem identifies the CMS that produces inbound events.
const SourceSystem = "aem"

// Transformer maps AEM asset metadata into NormalizedMetadata. Pure,
// no I/O; the only non-deterministic output is publishedDate.
type Transformer struct {
	authorBaseURL  string
	publishBaseURL string
	now            func() time.Time
}

// NewTransformer constructs a Transformer with the configured AEM author
// and publish base URLs used to build asset links.
func NewTransformer(authorBaseURL, publishBaseURL string) *Transformer {
	return &Transformer{
		authorBaseURL:  strings.TrimRight(authorBaseURL, "/"),
		publishBaseURL: strings.TrimRight(publishBaseURL, "/"),
		now:            time.Now,
	}
}

// Transform builds the normalized record for one asset event.
func (t *Transformer) Transform(metadata map[string]any, assetPath, eventType string) *NormalizedMetadata {
	if metadata == nil {
		metadata = map[string]any{}
	}

	fileName := path.Base(assetPath)
	mimeType := t.mimeType(metadata, fileName)

	n := &NormalizedMetadata{
		AssetID:   t.assetID(metadata, fileName),
		AssetPath: assetPath,
		AssetURL:  joinURL(t.authorBaseURL, assetPath),
		PublicURL: joinURL(t.publishBaseURL, assetPath),

		MediaType: mediaTypeFromMime(mimeType),
		MimeType:  mimeType,
		FileSize:  firstNumber(metadata, "dam:size"),
		FileName:  fileName,

		Width:  firstNumber(metadata, "tiff:ImageWidth"),
		Height: firstNumber(metadata, "tiff:ImageLength"),

		Title:       firstString(metadata, titleFields...),
		Description: firstString(metadata, descriptionFields...),
		AltText:     firstString(metadata, altTextFields...),

		Tags:       unionValues(metadata, tagFields...),
		Categories: unionValues(metadata, categoryFields...),
		Keywords:   unionValues(metadata, keywordFields...),

		Brand:       firstString(metadata, "brand", "dam:brand"),
		Campaign:    firstString(metadata, "campaign", "dam:campaign"),
		ProductType: firstString(metadata, "productType", "dam:productType"),
		Usage:       firstString(metadata, "usage", "dam:usage"),

		ApprovalStatus: ApprovalStatus(metadata),
		PublishStatus:  firstString(metadata, "dam:publishStatus"),
		WorkflowStatus: firstString(metadata, "dam:workflowStatus"),

		CreatedDate:   firstString(metadata, "jcr:created"),
		ModifiedDate:  firstString(metadata, "cq:lastModified", "jcr:lastModified"),
		PublishedDate: t.now().UTC().Format(time.RFC3339),

		ColorSpace:  firstString(metadata, "dam:colorSpace"),
		Resolution:  firstString(metadata, "dam:resolution"),
		Orientation: firstString(metadata, "dam:orientation"),

		Copyright: firstString(metadata, "dc:rights"),
		License:   firstString(metadata, "dam:license"),
		Creator:   firstString(metadata, "dc:creator"),

		EventType:    eventType,
		SourceSystem: SourceSystem,

		CustomMetadata: customMetadata(metadata),
	}

	return n
}

// ApprovalStatus reports "approved" when any status field in precedence
// order equals approved or published (case-insensitive), else "pending".
func ApprovalStatus(metadata map[string]any) string {
	for _, field := range approvalFields {
		v, ok := metadata[field]
		if !ok {
			continue
		}
		s := strings.ToLower(strings.TrimSpace(stringify(v)))
		if s == "approved" || s == "published" {
			return "approved"
		}
	}
	return "pending"
}

func (t *Transformer) assetID(metadata map[string]any, fileName string) string {
	if id := firstString(metadata, idFields...); id != "" {
		return id
	}
	return strings.TrimSuffix(fileName, path.Ext(fileName))
}

func (t *Transformer) mimeType(metadata map[string]any, fileName string) string {
	if mt := firstString(metadata, formatFields...); mt != "" {
		return mt
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if mt, ok := mimeByExtension[ext]; ok {
		return mt
	}
	return "application/octet-stream"
}

func mediaTypeFromMime(mimeType string) string {
	switch {
	case mimeType == "":
		return "unknown"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.Contains(mimeType, "pdf"):
		return "document"
	case strings.HasPrefix(mimeType, "text/"):
		return "text"
	default:
		return "other"
	}
}

func customMetadata(metadata map[string]any) map[string]any {
	custom := map[string]any{}
	for k, v := range metadata {
		if _, ok := standardKeys[k]; ok {
			continue
		}
		if hasReservedPrefix(k) {
			continue
		}
		custom[k] = v
	}
	return custom
}

func hasReservedPrefix(key string) bool {
	for _, p := range reservedPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func joinURL(base, assetPath string) string {
	if base == "" {
		return ""
	}
	if !strings.HasPrefix(assetPath, "/") {
		assetPath = "/" + assetPath
	}
	return base + assetPath
}

// firstString returns the first present field rendered as a string.
// Sequences contribute their first element.
func firstString(metadata map[string]any, fields ...string) string {
	for _, field := range fields {
		v, ok := metadata[field]
		if !ok {
			continue
		}
		if s := stringify(v); s != "" {
			return s
		}
	}
	return ""
}

func firstNumber(metadata map[string]any, fields ...string) int64 {
	for _, field := range fields {
		switch v := metadata[field].(type) {
		case float64:
			return int64(v)
		case int:
			return int64(v)
		case int64:
			return v
		case string:
			var n int64
			if _, err := fmt.Sscanf(strings.TrimSpace(v), "%d", &n); err == nil {
				return n
			}
		}
	}
	return 0
}

// unionValues merges the listed fields into one deduplicated slice,
// preserving first-seen order. Scalar values count as single-element
// sequences.
func unionValues(metadata map[string]any, fields ...string) []string {
	out := []string{}
	seen := map[string]struct{}{}
	for _, field := range fields {
		v, ok := metadata[field]
		if !ok {
			continue
		}
		for _, item := range asSlice(v) {
			if item == "" {
				continue
			}
			if _, dup := seen[item]; dup {
				continue
			}
			seen[item] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func asSlice(v any) []string {
	switch vv := v.(type) {
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, stringify(item))
		}
		return out
	case []string:
		return vv
	default:
		return []string{stringify(v)}
	}
}

func stringify(v any) string {
	switch vv := v.(type) {
	case string:
		return vv
	case float64:
		if vv == float64(int64(vv)) {
			return fmt.Sprintf("%d", int64(vv))
		}
		return fmt.Sprintf("%g", vv)
	case bool:
		return fmt.Sprintf("%t", vv)
	case []any:
		if len(vv) == 0 {
			return ""
		}
		return stringify(vv[0])
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", vv)
	}
}
