package cvservice

import (
	"context"
	"errors"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region request-types
// Image is a screenshot or reference image. Data is base64 encoded on the wire.
type Image struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// TextDiscoverRequest asks the service for every text token in the screenshot.
type TextDiscoverRequest struct {
	Screenshot Image `json:"screenshot"`
}

// ImageMatchRequest asks for every location of ImageToMatch in the screenshot.
type ImageMatchRequest struct {
	Screenshot   Image             `json:"screenshot"`
	ImageToMatch string            `json:"imageToMatch"`
	WithinRect   *world.WithinRect `json:"withinRect,omitempty"`
	Threshold    *float64          `json:"threshold,omitempty"`
}

// ObjectQueryRequest runs object detection by text or by reference image. Exactly one query is set.
type ObjectQueryRequest struct {
	Screenshot Image             `json:"screenshot"`
	TextQuery  *string           `json:"textQuery,omitempty"`
	ImageQuery *string           `json:"imageQuery,omitempty"`
	WithinRect *world.WithinRect `json:"withinRect,omitempty"`
	Threshold  *float64          `json:"threshold,omitempty"`
}

var ErrInvalidQuery = errors.New("cv object query requires exactly one of textQuery or imageQuery")

func (r ObjectQueryRequest) Validate() error {
	if (r.TextQuery == nil) == (r.ImageQuery == nil) {
		return ErrInvalidQuery
	}
	return nil
}
// #endregion request-types

// #region result-types
// TextResult is one detected text token.
type TextResult struct {
	Text       string     `json:"text"`
	Rect       world.Rect `json:"rect"`
	Resolution world.Size `json:"resolution"`
}

// ImageResult is one detected region for an image or object query.
type ImageResult struct {
	Rect       world.Rect `json:"rect"`
	Resolution world.Size `json:"resolution"`
	Index      int        `json:"index,omitempty"`
}

type resultsEnvelope[T any] struct {
	Results []T `json:"results"`
}
// #endregion result-types

// #region interfaces
// TextDiscoverer is the text discovery half of the service.
type TextDiscoverer interface {
	DiscoverText(ctx context.Context, req TextDiscoverRequest) ([]TextResult, error)
}

// ImageMatcher is the reference image matching half of the service.
type ImageMatcher interface {
	MatchImage(ctx context.Context, req ImageMatchRequest) ([]ImageResult, error)
}

// ObjectQuerier is the object detection half of the service.
type ObjectQuerier interface {
	QueryObjects(ctx context.Context, req ObjectQueryRequest) ([]ImageResult, error)
}
// #endregion interfaces
