package criteria

import (
	"encoding/json"
	"fmt"
)

// #region wire-types
type envelope struct {
	Type       Kind            `json:"type"`
	Transient  bool            `json:"transient"`
	APIVersion int             `json:"apiVersion"`
	Data       json.RawMessage `json:"data,omitempty"`
}

type compositeData struct {
	CriteriaList []*Criterion `json:"criteriaList"`
}
// #endregion wire-types

// #region marshal
func (c Criterion) MarshalJSON() ([]byte, error) {
	env := envelope{Type: c.Kind, Transient: c.Transient, APIVersion: c.APIVersion}

	var payload any
	switch c.Kind {
	case KindAnd, KindOr:
		children := c.Children
		if children == nil {
			children = []*Criterion{}
		}
		payload = compositeData{CriteriaList: children}
	case KindNormalizedPath, KindPartialNormalizedPath:
		payload = c.Path
	case KindCVText:
		payload = c.CVText
	case KindCVImage:
		payload = c.CVImage
	case KindCVObjectDetection:
		payload = c.CVObject
	case KindUIPixelHash, KindActionComplete, KindValidationsComplete:
		payload = struct{}{}
	default:
		return nil, fmt.Errorf("marshal criterion: unknown type %q", c.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s data: %w", c.Kind, err)
	}
	env.Data = data
	return json.Marshal(env)
}
// #endregion marshal

// #region unmarshal
func (c *Criterion) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return fmt.Errorf("parse criterion: %w", err)
	}

	out := Criterion{Kind: env.Type, Transient: env.Transient, APIVersion: env.APIVersion}
	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	switch env.Type {
	case KindAnd, KindOr:
		var cd compositeData
		if err := json.Unmarshal(data, &cd); err != nil {
			return fmt.Errorf("parse %s data: %w", env.Type, err)
		}
		out.Children = cd.CriteriaList
	case KindNormalizedPath, KindPartialNormalizedPath:
		var pd PathData
		if err := json.Unmarshal(data, &pd); err != nil {
			return fmt.Errorf("parse %s data: %w", env.Type, err)
		}
		if pd.CountRule == "" {
			pd.CountRule = CountNonZero
		}
		out.Path = &pd
	case KindCVText:
		var td CVTextData
		if err := json.Unmarshal(data, &td); err != nil {
			return fmt.Errorf("parse %s data: %w", env.Type, err)
		}
		if td.TextMatchingRule == "" {
			td.TextMatchingRule = TextMatches
		}
		if td.TextCaseRule == "" {
			td.TextCaseRule = CaseMatches
		}
		out.CVText = &td
	case KindCVImage:
		var id CVImageData
		if err := json.Unmarshal(data, &id); err != nil {
			return fmt.Errorf("parse %s data: %w", env.Type, err)
		}
		out.CVImage = &id
	case KindCVObjectDetection:
		var od CVObjectDetectionData
		if err := json.Unmarshal(data, &od); err != nil {
			return fmt.Errorf("parse %s data: %w", env.Type, err)
		}
		if err := od.Validate(); err != nil {
			return fmt.Errorf("parse %s data: %w", env.Type, err)
		}
		out.CVObject = &od
	case KindUIPixelHash, KindActionComplete, KindValidationsComplete:
	default:
		return fmt.Errorf("parse criterion: unknown type %q", env.Type)
	}

	*c = out
	return nil
}
// #endregion unmarshal
