// Package mock provides a test double for the vad package.
//
// Use Detector to inject canned segments and to inspect the clips that were
// submitted for analysis:
//
//	det := &mock.Detector{
//	    Result: vad.Result{Segments: []vad.Segment{{StartMs: 500, EndMs: 2000}}, SpeechRatio: 0.4},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/vocalgap/vocalgap/pkg/vad"
)

// Call records a single invocation of Detector.DetectSegments.
type Call struct {
	// SampleCount is the length of the submitted clip.
	SampleCount int

	// SampleRate is the submitted sample rate.
	SampleRate int
}

// Detector is a mock implementation of [vad.Detector].
type Detector struct {
	mu sync.Mutex

	// Result is returned from DetectSegments when Err is nil.
	Result vad.Result

	// Err, if non-nil, is returned as the error from DetectSegments.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

var _ vad.Detector = (*Detector)(nil)

// DetectSegments records the call and returns Result, Err.
func (d *Detector) DetectSegments(ctx context.Context, samples []float64, sampleRate int) (vad.Result, error) {
	if err := ctx.Err(); err != nil {
		return vad.Result{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Calls = append(d.Calls, Call{SampleCount: len(samples), SampleRate: sampleRate})
	if d.Err != nil {
		return vad.Result{}, d.Err
	}
	return d.Result, nil
}

// CallCount returns how many times DetectSegments was invoked.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.Calls)
}
