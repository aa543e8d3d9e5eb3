package evaluator

import (
	"fmt"
	"strings"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

// #region unmatched
// Unmatched keeps only the non-empty reasons of a per-criterion result slice.
// An empty return means every criterion matched.
func Unmatched(results []string) []string {
	var out []string
	for _, r := range results {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

func fill(n int, reason string) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = reason
	}
	return out
}
// #endregion unmatched

// #region path-evaluator
// PathEvaluator checks NormalizedPath and PartialNormalizedPath criteria against one delta map.
// It is stateless; deltas are computed once per frame by the caller.
type PathEvaluator struct{}

// Evaluate returns one reason per criterion, empty when matched.
func (PathEvaluator) Evaluate(list []*criteria.Criterion, deltas map[string]world.PathDelta) []string {
	out := make([]string, len(list))
	for i, c := range list {
		if c.Settled() || c.Path == nil {
			continue
		}
		label := "NormalizedPath"
		var (
			delta world.PathDelta
			found bool
		)
		if c.Kind == criteria.KindPartialNormalizedPath {
			label = "PartialNormalizedPath"
			delta, found = partialDelta(c.Path.Path, deltas)
		} else {
			delta, found = deltas[c.Path.Path]
		}
		out[i] = checkPath(label, c.Path, delta, found)
	}
	return out
}

func partialDelta(pattern string, deltas map[string]world.PathDelta) (world.PathDelta, bool) {
	var (
		sum   world.PathDelta
		found bool
	)
	for path, d := range deltas {
		if strings.Contains(path, pattern) {
			found = true
			sum.Count += d.Count
			sum.Added += d.Added
			sum.Removed += d.Removed
		}
	}
	return sum, found
}

func checkPath(label string, p *criteria.PathData, d world.PathDelta, found bool) string {
	if !found {
		if p.CountRule.ToleratesAbsence(p.Count) {
			return ""
		}
		return fmt.Sprintf("%s - %s - missing object", label, p.Path)
	}

	switch p.CountRule {
	case criteria.CountZero:
		if d.Count != 0 {
			return fmt.Sprintf("%s - %s - CountRule.Zero - actual: %d", label, p.Path, d.Count)
		}
	case criteria.CountNonZero:
		if d.Count <= 0 {
			return fmt.Sprintf("%s - %s - CountRule.NonZero - actual: %d", label, p.Path, d.Count)
		}
	case criteria.CountGreaterThanEqual:
		if d.Count < p.Count {
			return fmt.Sprintf("%s - %s - CountRule.GreaterThanEqual - actual: %d, expected: %d", label, p.Path, d.Count, p.Count)
		}
	case criteria.CountLessThanEqual:
		if d.Count > p.Count {
			return fmt.Sprintf("%s - %s - CountRule.LessThanEqual - actual: %d, expected: %d", label, p.Path, d.Count, p.Count)
		}
	}

	if d.Added < p.AddedCount {
		return fmt.Sprintf("%s - %s - addedCount - actual: %d, expected: %d", label, p.Path, d.Added, p.AddedCount)
	}
	if d.Removed < p.RemovedCount {
		return fmt.Sprintf("%s - %s - removedCount - actual: %d, expected: %d", label, p.Path, d.Removed, p.RemovedCount)
	}
	return ""
}
// #endregion path-evaluator

// #region pixel-hash
const PixelHashUnchanged = "UIPixelHash has not changed"

// PixelHashEvaluator asks the observer whether the UI pixels changed since the last check.
type PixelHashEvaluator struct {
	observer world.PixelHashObserver
}

func NewPixelHashEvaluator(observer world.PixelHashObserver) *PixelHashEvaluator {
	return &PixelHashEvaluator{observer: observer}
}

// Changed is false when no observer is attached.
func (e *PixelHashEvaluator) Changed() bool {
	if e == nil || e.observer == nil {
		return false
	}
	return e.observer.HasPixelHashChanged()
}
// #endregion pixel-hash
