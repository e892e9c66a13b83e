package domain

// ICEConfig is the fixed broker-side peer connection configuration, identical
// on host and viewer.
type ICEConfig struct {
	STUNURLs          []string
	CandidatePoolSize int
	BundlePolicy      string
	RTCPMuxPolicy     string
	SDPSemantics      string
}

// DefaultICEConfig returns the stock configuration used by both roles.
func DefaultICEConfig() ICEConfig {
	return ICEConfig{
		STUNURLs: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
			"stun:stun2.l.google.com:19302",
			"stun:stun3.l.google.com:19302",
			"stun:stun4.l.google.com:19302",
		},
		CandidatePoolSize: 10,
		BundlePolicy:      "max-bundle",
		RTCPMuxPolicy:     "require",
		SDPSemantics:      "unified-plan",
	}
}

// ValueRange expresses an ideal value with optional floor and cap, the way
// display-capture constraints are negotiated.
type ValueRange struct {
	Ideal int
	Min   int
	Max   int
}

// CaptureConstraints are the target constraints for the initial display
// capture request.
type CaptureConstraints struct {
	Width          ValueRange
	Height         ValueRange
	FrameRate      ValueRange
	DisplaySurface string
	Audio          bool
}

// TrackConstraints is the secondary refinement pass applied to the acquired
// video track. Failure to apply it is non-fatal.
type TrackConstraints struct {
	Width       ValueRange
	Height      ValueRange
	FrameRate   ValueRange
	ContentHint string
}

// ContentHintDetail optimizes the codec for screen content over motion.
const ContentHintDetail = "detail"

// Display surface hints.
const SurfaceMonitor = "monitor"

// Track kinds.
const (
	TrackKindVideo = "video"
	TrackKindAudio = "audio"
)

// DefaultCaptureConstraints returns the initial capture request: ideal
// 1920x1080 capped at 2560x1440, ideal 25 fps capped at 30, full-monitor
// surface, audio enabled.
func DefaultCaptureConstraints() CaptureConstraints {
	return CaptureConstraints{
		Width:          ValueRange{Ideal: 1920, Max: 2560},
		Height:         ValueRange{Ideal: 1080, Max: 1440},
		FrameRate:      ValueRange{Ideal: 25, Max: 30},
		DisplaySurface: SurfaceMonitor,
		Audio:          true,
	}
}

// RefinementConstraints returns the tighter second pass with a resolution and
// frame-rate floor plus the detail content hint.
func RefinementConstraints() TrackConstraints {
	return TrackConstraints{
		Width:       ValueRange{Ideal: 1920, Min: 1280},
		Height:      ValueRange{Ideal: 1080, Min: 720},
		FrameRate:   ValueRange{Ideal: 24, Min: 15},
		ContentHint: ContentHintDetail,
	}
}

// VideoBitrateCapKbps is injected into outgoing media offers as an SDP
// bandwidth line to raise the negotiated video ceiling.
const VideoBitrateCapKbps = 8000
