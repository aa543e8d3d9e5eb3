package world

// #region screenshots
// Screenshot is a JPEG encoded frame of the application.
type Screenshot struct {
	Width  int
	Height int
	JPEG   []byte
}

// Screenshotter supplies the most recent frame. ok is false until a frame has been captured.
type Screenshotter interface {
	Screenshot(ordinal int) (shot Screenshot, ok bool)
}

// PixelHashObserver reports whether the rendered UI changed since the last call.
type PixelHashObserver interface {
	HasPixelHashChanged() bool
}
// #endregion screenshots

// #region input
// MouseEvent is an abstract mouse state sent to the input simulation layer.
type MouseEvent struct {
	Ordinal  int
	Position Point
	Left     bool
	Middle   bool
	Right    bool
	Forward  bool
	Back     bool
	Scroll   Point
}

// KeyEvent is an abstract key state change.
type KeyEvent struct {
	Ordinal int
	Key     string
	Down    bool
}

// InputSink receives every input event the engine emits.
type InputSink interface {
	SendMouse(ev MouseEvent)
	SendKey(ev KeyEvent)
}
// #endregion input
