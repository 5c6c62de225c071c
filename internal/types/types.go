package types

// FrameTask represents a single encoded frame sent to a detector worker
type FrameTask struct {
	Index int
	Data  []byte
}

// Handshake is the first message a detector writes after it starts
type Handshake struct {
	Landmarks int    `json:"landmarks"` // points per face, e.g. 5 or 68
	Model     string `json:"model,omitempty"`
}

// FaceResult matches the JSON structure returned by the detector for each face
type FaceResult struct {
	Box        [4]float64   `json:"box"`    // [left, top, right, bottom]
	Points     [][2]float64 `json:"points"` // [x, y] in landmark order
	Confidence float64      `json:"confidence"`
}

// ErrorResult captures the error object returned by the detector on failure
type ErrorResult struct {
	Error string `json:"error"`
}
