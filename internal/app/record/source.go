package record

import "github.com/dkeye/huddle/internal/core"

type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceRemote SourceKind = "remote"
	SourceScreen SourceKind = "screen"
)

// Source is one input of a recording. Either side may be nil.
type Source struct {
	ID    string
	Kind  SourceKind
	Video core.VideoSource
	Audio core.AudioSource
}

// SourceProvider lists the sources to record right now. It is polled on
// every draw tick, so joins and leaves show up without a restart.
type SourceProvider interface {
	Sources() []Source
}

type SourceFunc func() []Source

func (f SourceFunc) Sources() []Source { return f() }
