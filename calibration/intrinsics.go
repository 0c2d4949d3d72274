package calibration

import "go.viam.com/intrinsics/rimage/transform"

// Intrinsics is the published calibration result.
type Intrinsics struct {
	Fx float64 `json:"Fx"`
	Fy float64 `json:"Fy"`
	Ox float64 `json:"Ox"`
	Oy float64 `json:"Oy"`
}

// NewIntrinsicsFromPinhole keeps the focal lengths and principal point of a pinhole model.
func NewIntrinsicsFromPinhole(p *transform.PinholeCameraIntrinsics) Intrinsics {
	return Intrinsics{Fx: p.Fx, Fy: p.Fy, Ox: p.Ppx, Oy: p.Ppy}
}
