package model

import (
	"context"

	"github.com/randalmurphal/convograph/pkg/flowgraph"
)

// TokenSink receives reply fragments from nodes that stream.
type TokenSink interface {
	// Allow reports whether node may stream tokens.
	Allow(node flowgraph.NodeID) bool

	// Token delivers one fragment. An error stops the stream.
	Token(node flowgraph.NodeID, text string) error
}

type sinkKey struct{}

// WithTokenSink returns a context carrying sink.
func WithTokenSink(ctx context.Context, sink TokenSink) context.Context {
	return context.WithValue(ctx, sinkKey{}, sink)
}

func sinkFrom(ctx context.Context) TokenSink {
	sink, _ := ctx.Value(sinkKey{}).(TokenSink)
	return sink
}
