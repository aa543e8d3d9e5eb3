package evaluator

import (
	"strings"

	"github.com/danielpatrickdp/segment-replay/internal/criteria"
	"github.com/danielpatrickdp/segment-replay/internal/cvservice"
	"github.com/danielpatrickdp/segment-replay/internal/world"
)

const maxTextCombinations = 4096

// #region word-matching
func normalizeCase(s string, rule criteria.TextCaseRule) string {
	s = strings.TrimSpace(s)
	if rule == criteria.CaseIgnore {
		return strings.ToLower(s)
	}
	return s
}

func wordMatches(rule criteria.TextMatchingRule, token, word string) bool {
	if rule == criteria.TextContains {
		return strings.Contains(token, word)
	}
	return token == word
}
// #endregion word-matching

// #region match-text
// MatchText consumes the words of d.Text with the detected tokens and returns the words left over.
// Under Matches a token consumes at most one equal word; under Contains it consumes every word it contains.
// With a WithinRect, a token only counts when its projected bottom-left or top-right corner is inside.
func MatchText(d *criteria.CVTextData, tokens []cvservice.TextResult) []string {
	words := strings.Fields(d.Text)
	for _, tok := range tokens {
		if len(words) == 0 {
			break
		}
		if d.WithinRect != nil && !d.WithinRect.CornerInside(tok.Rect, tok.Resolution) {
			continue
		}
		text := normalizeCase(tok.Text, d.TextCaseRule)
		for j := len(words) - 1; j >= 0; j-- {
			if !wordMatches(d.TextMatchingRule, text, normalizeCase(words[j], d.TextCaseRule)) {
				continue
			}
			words = append(words[:j], words[j+1:]...)
			if d.TextMatchingRule != criteria.TextContains {
				break
			}
		}
	}
	return words
}
// #endregion match-text

// #region best-bounds
// BestTextBounds finds where the phrase sits on screen. It considers single tokens containing the
// whole phrase, then every combination assigning one distinct token per word, and returns the
// smallest enclosing box. Boxes intersecting the WithinRect are preferred when one is given.
// Rects are in screen space when a WithinRect is set, else in detection space.
func BestTextBounds(d *criteria.CVTextData, tokens []cvservice.TextResult) (world.Rect, bool) {
	words := strings.Fields(d.Text)
	if len(words) == 0 || len(tokens) == 0 {
		return world.Rect{}, false
	}

	rects := make([]world.Rect, len(tokens))
	texts := make([]string, len(tokens))
	for i, tok := range tokens {
		rects[i] = tok.Rect
		if d.WithinRect != nil {
			rects[i] = d.WithinRect.Project(tok.Rect, tok.Resolution)
		}
		texts[i] = normalizeCase(tok.Text, d.TextCaseRule)
	}

	var (
		best       world.Rect
		found      bool
		bestInside bool
	)
	consider := func(r world.Rect) {
		inside := d.WithinRect == nil || d.WithinRect.Rect.Overlaps(r)
		switch {
		case !found:
		case inside && !bestInside:
		case inside == bestInside && r.Area() < best.Area():
		default:
			return
		}
		best, found, bestInside = r, true, inside
	}

	phrase := normalizeCase(strings.Join(words, " "), d.TextCaseRule)
	for i, text := range texts {
		if wordMatches(d.TextMatchingRule, text, phrase) {
			consider(rects[i])
		}
	}

	candidates := make([][]int, len(words))
	for w, word := range words {
		nw := normalizeCase(word, d.TextCaseRule)
		for i, text := range texts {
			if wordMatches(d.TextMatchingRule, text, nw) {
				candidates[w] = append(candidates[w], i)
			}
		}
		if len(candidates[w]) == 0 {
			return best, found
		}
	}

	used := make([]bool, len(tokens))
	explored := 0
	var walk func(w int, acc world.Rect)
	walk = func(w int, acc world.Rect) {
		if explored >= maxTextCombinations {
			return
		}
		if w == len(words) {
			explored++
			consider(acc)
			return
		}
		for _, idx := range candidates[w] {
			if used[idx] {
				continue
			}
			used[idx] = true
			next := rects[idx]
			if w > 0 {
				next = acc.Union(rects[idx])
			}
			walk(w+1, next)
			used[idx] = false
		}
	}
	walk(0, world.Rect{})

	if found && d.WithinRect != nil && !bestInside {
		return best, false
	}
	return best, found
}
// #endregion best-bounds
