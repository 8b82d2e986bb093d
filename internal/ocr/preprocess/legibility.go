package preprocess

// Legibility checks.
const (
	CheckWidth  = "width"
	CheckHeight = "height"
	CheckBytes  = "bytes"
	CheckDecode = "decode"
	CheckPixels = "pixels"
)

// Thresholds are the minimums an original upload must meet.
type Thresholds struct {
	MinWidth  int
	MinHeight int
	MinBytes  int64
}

// Failure is one check that did not pass.
type Failure struct {
	Check string `json:"check"`
	Value int64  `json:"value"`
	Min   int64  `json:"min"`
	Max   int64  `json:"max,omitempty"`
}

// Legibility is the gate verdict.
type Legibility struct {
	OK       bool      `json:"ok"`
	Failures []Failure `json:"failures,omitempty"`
}

// CheckLegibility compares original dimensions and size against th.
func CheckLegibility(meta Meta, originalBytes int64, th Thresholds) Legibility {
	var failures []Failure
	if meta.OriginalWidth < th.MinWidth {
		failures = append(failures, Failure{Check: CheckWidth, Value: int64(meta.OriginalWidth), Min: int64(th.MinWidth)})
	}
	if meta.OriginalHeight < th.MinHeight {
		failures = append(failures, Failure{Check: CheckHeight, Value: int64(meta.OriginalHeight), Min: int64(th.MinHeight)})
	}
	if originalBytes < th.MinBytes {
		failures = append(failures, Failure{Check: CheckBytes, Value: originalBytes, Min: th.MinBytes})
	}
	return Legibility{OK: len(failures) == 0, Failures: failures}
}

// Undecodable is the verdict for payloads that could not be read as images.
func Undecodable(originalBytes int64) Legibility {
	return Legibility{Failures: []Failure{{Check: CheckDecode, Value: originalBytes}}}
}

// Oversized is the verdict for images whose declared size exceeds the pixel budget.
func Oversized(e *TooLargeError) Legibility {
	return Legibility{Failures: []Failure{{Check: CheckPixels, Value: e.Pixels(), Max: e.MaxPixels}}}
}
