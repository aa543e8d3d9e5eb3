package criteria

import (
	"errors"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region kind
// Kind tags the payload carried by a Criterion.
type Kind string

const (
	KindAnd                   Kind = "And"
	KindOr                    Kind = "Or"
	KindNormalizedPath        Kind = "NormalizedPath"
	KindPartialNormalizedPath Kind = "PartialNormalizedPath"
	KindUIPixelHash           Kind = "UIPixelHash"
	KindCVText                Kind = "CVText"
	KindCVImage               Kind = "CVImage"
	KindCVObjectDetection     Kind = "CVObjectDetection"
	KindActionComplete        Kind = "ActionComplete"
	KindValidationsComplete   Kind = "ValidationsComplete"
)
// #endregion kind

// #region rules
// CountRule decides how a path's live object count is compared.
type CountRule string

const (
	CountZero             CountRule = "Zero"
	CountNonZero          CountRule = "NonZero"
	CountGreaterThanEqual CountRule = "GreaterThanEqual"
	CountLessThanEqual    CountRule = "LessThanEqual"
)

// ToleratesAbsence reports whether a path missing from the snapshot can still satisfy the rule.
func (r CountRule) ToleratesAbsence(count int) bool {
	return r == CountZero || (r == CountLessThanEqual && count <= 0)
}

// TextMatchingRule decides whether a detected token must equal or merely contain a word.
type TextMatchingRule string

const (
	TextMatches  TextMatchingRule = "Matches"
	TextContains TextMatchingRule = "Contains"
)

// TextCaseRule decides whether comparisons are case sensitive.
type TextCaseRule string

const (
	CaseMatches TextCaseRule = "Matches"
	CaseIgnore  TextCaseRule = "Ignore"
)
// #endregion rules

// #region payloads
// PathData is the payload of NormalizedPath and PartialNormalizedPath criteria.
type PathData struct {
	APIVersion   int       `json:"apiVersion,omitempty"`
	Path         string    `json:"path"`
	Count        int       `json:"count"`
	CountRule    CountRule `json:"countRule"`
	AddedCount   int       `json:"addedCount"`
	RemovedCount int       `json:"removedCount"`
}

// CVTextData asks the CV service for a phrase on screen.
type CVTextData struct {
	APIVersion       int               `json:"apiVersion,omitempty"`
	Text             string            `json:"text"`
	TextMatchingRule TextMatchingRule  `json:"textMatchingRule"`
	TextCaseRule     TextCaseRule      `json:"textCaseRule"`
	WithinRect       *world.WithinRect `json:"withinRect,omitempty"`
}

// CVImageData asks the CV service to locate a reference image.
// ImageData is base64, or a file:// or resource:// reference.
type CVImageData struct {
	APIVersion int               `json:"apiVersion,omitempty"`
	ImageData  string            `json:"imageData"`
	WithinRect *world.WithinRect `json:"withinRect,omitempty"`
	Threshold  *float64          `json:"threshold,omitempty"`
}

// CVObjectDetectionData queries the object detector by text or by image. Exactly one query is set.
type CVObjectDetectionData struct {
	APIVersion int               `json:"apiVersion,omitempty"`
	TextQuery  *string           `json:"textQuery,omitempty"`
	ImageQuery *string           `json:"imageQuery,omitempty"`
	WithinRect *world.WithinRect `json:"withinRect,omitempty"`
	Threshold  *float64          `json:"threshold,omitempty"`
}

var ErrObjectQuery = errors.New("exactly one of textQuery or imageQuery must be set")

func (d *CVObjectDetectionData) Validate() error {
	if (d.TextQuery == nil) == (d.ImageQuery == nil) {
		return ErrObjectQuery
	}
	return nil
}

// Describe names the query for diagnostics.
func (d *CVObjectDetectionData) Describe() string {
	if d.TextQuery != nil {
		return "textQuery: " + *d.TextQuery
	}
	if d.ImageQuery != nil {
		return "imageQuery"
	}
	return "no query"
}
// #endregion payloads
