package criteria

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/danielpatrickdp/segment-replay/internal/world"
)

func sampleTree() []*Criterion {
	query := "play button"
	return []*Criterion{
		Or(
			NormalizedPath(PathData{Path: "Root/Enemy", CountRule: CountNonZero}).AsTransient(),
			PixelHash().AsTransient(),
		),
		And(
			CVText(CVTextData{
				Text:             "Game Over",
				TextMatchingRule: TextContains,
				TextCaseRule:     CaseIgnore,
				WithinRect:       &world.WithinRect{ScreenSize: world.Size{Width: 1920, Height: 1080}, Rect: world.Rect{Width: 400, Height: 200}},
			}),
			CVObject(CVObjectDetectionData{TextQuery: &query}),
		),
		ActionComplete(),
	}
}

func TestRoundTripPreservesTree(t *testing.T) {
	original := sampleTree()
	original[0].Children[0].MarkMatched()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var parsed []*Criterion
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// replay state is not serialized
	if parsed[0].Children[0].TransientMatched() {
		t.Fatal("transient matched flag must not survive serialization")
	}

	ResetAll(original)
	if !reflect.DeepEqual(original, parsed) {
		t.Fatalf("round trip mismatch\noriginal: %s", data)
	}
}

func TestUnmarshalDefaults(t *testing.T) {
	raw := `{"type":"CVText","transient":true,"apiVersion":8,"data":{"text":"Start"}}`
	var c Criterion
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if c.CVText.TextMatchingRule != TextMatches || c.CVText.TextCaseRule != CaseMatches {
		t.Errorf("expected Matches defaults, got %s/%s", c.CVText.TextMatchingRule, c.CVText.TextCaseRule)
	}
	if c.EffectiveAPIVersion() != 8 {
		t.Errorf("expected api version 8, got %d", c.EffectiveAPIVersion())
	}
}

func TestUnmarshalRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"unknown type", `{"type":"Telepathy","data":{}}`},
		{"both object queries", `{"type":"CVObjectDetection","data":{"textQuery":"a","imageQuery":"b"}}`},
		{"no object query", `{"type":"CVObjectDetection","data":{}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var c Criterion
			if err := json.Unmarshal([]byte(tc.raw), &c); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	var c Criterion
	err := json.Unmarshal([]byte(`{"type":"CVObjectDetection","data":{}}`), &c)
	if !errors.Is(err, ErrObjectQuery) {
		t.Errorf("expected ErrObjectQuery, got %v", err)
	}
}

func TestTransientHelpers(t *testing.T) {
	tree := sampleTree()
	if !HasTransient(tree) {
		t.Fatal("expected transient criteria in tree")
	}
	if AnyTransientMatched(tree) {
		t.Fatal("nothing matched yet")
	}

	// a non-transient match does not count
	tree[1].Children[0].MarkMatched()
	if AnyTransientMatched(tree) {
		t.Fatal("non-transient match must not count as transient")
	}

	tree[0].Children[1].MarkMatched()
	if !AnyTransientMatched(tree) {
		t.Fatal("expected nested transient match to be found")
	}

	ResetAll(tree)
	if AnyTransientMatched(tree) {
		t.Fatal("expected reset to clear matches")
	}
}

func TestEffectiveAPIVersionUsesDeepestPayload(t *testing.T) {
	tree := And(
		NormalizedPath(PathData{Path: "A", APIVersion: 7}),
		Or(CVImage(CVImageData{ImageData: "x", APIVersion: 9})),
	)
	tree.APIVersion = 1
	if got := tree.EffectiveAPIVersion(); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestNumberIsPreOrder(t *testing.T) {
	tree := sampleTree()
	Number(tree)

	got := []int{
		tree[0].Index(), tree[0].Children[0].Index(), tree[0].Children[1].Index(),
		tree[1].Index(), tree[1].Children[0].Index(), tree[1].Children[1].Index(),
		tree[2].Index(),
	}
	want := []int{1, 2, 3, 4, 5, 6, 7}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}
