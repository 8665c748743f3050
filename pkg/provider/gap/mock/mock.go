// Package mock provides test doubles for the gap package interfaces.
//
// Use Provider to script boundary detections and inspect which requests the
// detection pipeline issued. Every method records its calls, so tests can
// assert call counts (for example that a retry re-rendered the vocals file
// with Overwrite set).
//
// Example:
//
//	p := &mock.Provider{
//	    ProviderMethod: gap.MethodFastPreview,
//	    Boundaries: gap.Boundaries{
//	        Semantics: gap.SemanticsSpeechStart,
//	        Intervals: []gap.TimeInterval{{StartMs: 4800, EndMs: 4800}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/vocalgap/vocalgap/pkg/provider/gap"
)

// VocalsFileCall records a single invocation of Provider.VocalsFile.
type VocalsFileCall struct {
	// Req is the request passed to VocalsFile.
	Req gap.VocalsRequest
}

// DetectBoundariesCall records a single invocation of
// Provider.DetectBoundaries.
type DetectBoundariesCall struct {
	// AudioFile and VocalsFile are the paths passed to DetectBoundaries.
	AudioFile  string
	VocalsFile string
}

// ConfidenceCall records a single invocation of Provider.Confidence.
type ConfidenceCall struct {
	// AudioFile and GapMs are the arguments passed to Confidence.
	AudioFile string
	GapMs     int64
}

// Provider is a mock implementation of gap.Provider.
type Provider struct {
	mu sync.Mutex

	// VocalsPath is returned by VocalsFile. If empty, the request's
	// Destination is echoed back.
	VocalsPath string

	// VocalsErr, if non-nil, is returned as the error from VocalsFile.
	VocalsErr error

	// Boundaries is returned by DetectBoundaries. BoundariesSeq, when
	// non-empty, overrides it: call n returns BoundariesSeq[n], with the
	// last element repeated once the sequence is exhausted.
	Boundaries    gap.Boundaries
	BoundariesSeq []gap.Boundaries

	// BoundariesErr, if non-nil, is returned as the error from
	// DetectBoundaries.
	BoundariesErr error

	// Score is returned by Confidence. Zero means 0.5.
	Score float64

	// ProviderMethod is returned by Method. Empty means full separation.
	ProviderMethod gap.Method

	// Semantics is returned by DefaultSemantics.
	Semantics gap.Semantics

	// VocalsFileCalls, DetectBoundariesCalls and ConfidenceCalls record
	// every invocation.
	VocalsFileCalls       []VocalsFileCall
	DetectBoundariesCalls []DetectBoundariesCall
	ConfidenceCalls       []ConfidenceCall
}

var _ gap.Provider = (*Provider)(nil)

// VocalsFile records the call and returns VocalsPath (or the request's
// destination), VocalsErr.
func (p *Provider) VocalsFile(ctx context.Context, req gap.VocalsRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.VocalsFileCalls = append(p.VocalsFileCalls, VocalsFileCall{Req: req})
	if p.VocalsErr != nil {
		return "", p.VocalsErr
	}
	if p.VocalsPath != "" {
		return p.VocalsPath, nil
	}
	return req.Destination, nil
}

// DetectBoundaries records the call and returns the scripted boundaries.
func (p *Provider) DetectBoundaries(ctx context.Context, audioFile, vocalsFile string) (gap.Boundaries, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.DetectBoundariesCalls)
	p.DetectBoundariesCalls = append(p.DetectBoundariesCalls, DetectBoundariesCall{
		AudioFile:  audioFile,
		VocalsFile: vocalsFile,
	})
	if p.BoundariesErr != nil {
		return gap.Boundaries{}, p.BoundariesErr
	}
	if len(p.BoundariesSeq) > 0 {
		if n >= len(p.BoundariesSeq) {
			n = len(p.BoundariesSeq) - 1
		}
		return p.BoundariesSeq[n], nil
	}
	return p.Boundaries, nil
}

// Confidence records the call and returns Score (0.5 when unset).
func (p *Provider) Confidence(ctx context.Context, audioFile string, gapMs int64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConfidenceCalls = append(p.ConfidenceCalls, ConfidenceCall{AudioFile: audioFile, GapMs: gapMs})
	if p.Score == 0 {
		return 0.5
	}
	return p.Score
}

// Method returns ProviderMethod, defaulting to full separation.
func (p *Provider) Method() gap.Method {
	if p.ProviderMethod == "" {
		return gap.MethodFullSeparation
	}
	return p.ProviderMethod
}

// DefaultSemantics returns Semantics.
func (p *Provider) DefaultSemantics() gap.Semantics { return p.Semantics }
