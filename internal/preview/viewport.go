package preview

import (
	"errors"
	"fmt"
)

var ErrInvalidViewport = errors.New("invalid viewport")

// Viewport is the device frame the preview is shown in.
type Viewport string

const (
	ViewportDesktop Viewport = "desktop"
	ViewportTablet  Viewport = "tablet"
	ViewportMobile  Viewport = "mobile"
)

// Frame is a viewport's CSS width and height.
type Frame struct {
	Width  string `json:"width"`
	Height string `json:"height"`
}

var frames = map[Viewport]Frame{
	ViewportDesktop: {Width: "100%", Height: "100%"},
	ViewportTablet:  {Width: "768px", Height: "1024px"},
	ViewportMobile:  {Width: "375px", Height: "667px"},
}

func ParseViewport(s string) (Viewport, error) {
	v := Viewport(s)
	if _, ok := frames[v]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidViewport, s)
	}
	return v, nil
}

func (v Viewport) Frame() Frame { return frames[v] }
