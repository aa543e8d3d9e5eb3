package criteria

// #region criterion
// Criterion is one node of a segment's key frame tree.
// Exactly one payload field is set, selected by Kind. Composites use Children.
// The transient-matched cell is replay state and is never serialized.
type Criterion struct {
	Kind       Kind
	Transient  bool
	APIVersion int

	Children []*Criterion
	Path     *PathData
	CVText   *CVTextData
	CVImage  *CVImageData
	CVObject *CVObjectDetectionData

	transientMatched bool
	index            int
}

// Index is the node's 1-based pre-order position in its segment tree, 0 until Number runs.
func (c *Criterion) Index() int {
	return c.index
}

// TransientMatched reports whether this node matched at some point since the last reset.
func (c *Criterion) TransientMatched() bool {
	return c.transientMatched
}

// MarkMatched records a match. For transient nodes it is permanent until ReplayReset.
func (c *Criterion) MarkMatched() {
	c.transientMatched = true
}

// Settled reports whether the node is transient and already matched, so it must not be evaluated again.
func (c *Criterion) Settled() bool {
	return c.Transient && c.transientMatched
}

// ReplayReset clears the runtime cell of this node and its subtree.
func (c *Criterion) ReplayReset() {
	c.transientMatched = false
	for _, child := range c.Children {
		child.ReplayReset()
	}
}

// EffectiveAPIVersion is the highest version used anywhere in the subtree.
func (c *Criterion) EffectiveAPIVersion() int {
	v := c.APIVersion
	switch {
	case c.Path != nil:
		v = max(v, c.Path.APIVersion)
	case c.CVText != nil:
		v = max(v, c.CVText.APIVersion)
	case c.CVImage != nil:
		v = max(v, c.CVImage.APIVersion)
	case c.CVObject != nil:
		v = max(v, c.CVObject.APIVersion)
	}
	for _, child := range c.Children {
		v = max(v, child.EffectiveAPIVersion())
	}
	return v
}
// #endregion criterion

// #region list-helpers
// HasTransient reports whether any node in the list or below is transient.
func HasTransient(list []*Criterion) bool {
	for _, c := range list {
		if c.Transient || HasTransient(c.Children) {
			return true
		}
	}
	return false
}

// AnyTransientMatched reports whether any transient node in the list or below has matched.
func AnyTransientMatched(list []*Criterion) bool {
	for _, c := range list {
		if c.Settled() || AnyTransientMatched(c.Children) {
			return true
		}
	}
	return false
}

// Number assigns pre-order indexes from 1 across the list and its subtrees.
func Number(list []*Criterion) {
	n := 0
	var walk func([]*Criterion)
	walk = func(list []*Criterion) {
		for _, c := range list {
			n++
			c.index = n
			walk(c.Children)
		}
	}
	walk(list)
}

// ResetAll replay-resets every tree in the list.
func ResetAll(list []*Criterion) {
	for _, c := range list {
		c.ReplayReset()
	}
}

// MaxAPIVersion is the highest effective version across the list.
func MaxAPIVersion(list []*Criterion) int {
	v := 0
	for _, c := range list {
		v = max(v, c.EffectiveAPIVersion())
	}
	return v
}
// #endregion list-helpers

// #region builders
func And(children ...*Criterion) *Criterion {
	return &Criterion{Kind: KindAnd, Children: children}
}

func Or(children ...*Criterion) *Criterion {
	return &Criterion{Kind: KindOr, Children: children}
}

func NormalizedPath(d PathData) *Criterion {
	return &Criterion{Kind: KindNormalizedPath, Path: &d}
}

func PartialNormalizedPath(d PathData) *Criterion {
	return &Criterion{Kind: KindPartialNormalizedPath, Path: &d}
}

func PixelHash() *Criterion {
	return &Criterion{Kind: KindUIPixelHash}
}

func ActionComplete() *Criterion {
	return &Criterion{Kind: KindActionComplete}
}

func ValidationsComplete() *Criterion {
	return &Criterion{Kind: KindValidationsComplete}
}

func CVText(d CVTextData) *Criterion {
	return &Criterion{Kind: KindCVText, CVText: &d}
}

func CVImage(d CVImageData) *Criterion {
	return &Criterion{Kind: KindCVImage, CVImage: &d}
}

func CVObject(d CVObjectDetectionData) *Criterion {
	return &Criterion{Kind: KindCVObjectDetection, CVObject: &d}
}

// AsTransient marks the node transient and returns it.
func (c *Criterion) AsTransient() *Criterion {
	c.Transient = true
	return c
}
// #endregion builders
