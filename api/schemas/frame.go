// api/schemas/frame.go
package schemas

// FrameTransform records how a stabilized Frame's pixel space maps back to
// the live surface's CSS pixel space: the centered crop applied to the raw
// capture, the uniform scale factor of the downscale, and the viewport and
// device pixel ratio observed at capture time. The most recent transform is
// what turns the next batch of model coordinates into real input positions.
type FrameTransform struct {
	// Crop origin and size in raw capture pixels (device pixels).
	CropX float64 `json:"crop_x"`
	CropY float64 `json:"crop_y"`
	CropW float64 `json:"crop_w"`
	CropH float64 `json:"crop_h"`

	// Scale is frame pixels per cropped capture pixel (<= 1, never upscaled).
	Scale float64 `json:"scale"`

	// DevicePixelRatio converts device pixels to CSS pixels.
	DevicePixelRatio float64 `json:"device_pixel_ratio"`

	// Page viewport in CSS pixels at capture time.
	ViewportW float64 `json:"viewport_w"`
	ViewportH float64 `json:"viewport_h"`
}

// Frame is a single stabilized screenshot: the encoded image the model sees
// plus the transform needed to map its coordinates back onto the surface.
type Frame struct {
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	PNG       []byte         `json:"-"`
	Transform FrameTransform `json:"transform"`
}

// Viewport is a live surface viewport measurement in CSS pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}
