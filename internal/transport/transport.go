// Package transport describes the external Transport contract consumed by
// the Segment Pipeline and the orchestrator's manifest fetch:
// a cancellable {loader, parser} pair per media kind, surfacing
// retryable-vs-fatal errors via internal/errs.
package transport

import "context"

// Parsed is the decoded payload a parser produces from raw bytes: either a
// segment's media bytes (passthrough) or a freshly parsed model.Manifest,
// represented generically so one Transport type serves both segment and
// manifest kinds.
type Parsed struct {
	Bytes    []byte
	Manifest any // *model.Manifest when this Parsed came from a manifest parse
}

// Context carries the ambient attributes a loader/parser may need:
// the segment/manifest URL. Deadlines travel on the context.Context.
type Context struct {
	URL string
}

// LoaderFunc fetches raw bytes for a descriptor-less request (the
// descriptor itself — Segment or manifest URL — lives in Context).
type LoaderFunc func(ctx context.Context, rc Context) ([]byte, error)

// ParserFunc decodes raw bytes into a Parsed value.
type ParserFunc func(ctx context.Context, raw []byte, rc Context) (Parsed, error)

// Pair is the {loader, parser} contract for one media kind.
type Pair struct {
	Load  LoaderFunc
	Parse ParserFunc
}

// Transport bundles the pairs required by the orchestrator: one for
// manifests, one for segments (audio/video/text/image all share the same
// byte-fetch + parse shape; the parser distinguishes by mime type).
type Transport struct {
	Manifest Pair
	Segment  Pair
}
