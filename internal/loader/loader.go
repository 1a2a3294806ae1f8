// Package loader walks VAST wrapper chains. Every wrapper of a document is
// fetched concurrently, while events are emitted in preorder depth-first
// order of the wrapper tree.
package loader

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/dgallion1/vastchain/internal/fetch"
	"github.com/dgallion1/vastchain/internal/parser"
	"github.com/dgallion1/vastchain/internal/stream"
	"github.com/dgallion1/vastchain/internal/vast"
)

// Hooks observe the lifecycle of every node. They are called from the
// goroutines fetching the nodes and must be safe for concurrent use.
type Hooks struct {
	WillFetch  func(uri string)
	DidFetch   func(uri string, resp *fetch.Response)
	WillParse  func(uri string, body []byte)
	DidParse   func(uri string, doc *vast.Document)
	FetchError func(err *fetch.AttemptError)
	Error      func(uri string, err *vast.LoaderError)
}

// Loader builds load event streams for VAST chains.
type Loader struct {
	fetcher fetch.Fetcher
	parser  parser.Parser
	log     *slog.Logger
	stats   *fetch.Stats
	hooks   Hooks
}

// New creates a loader. A nil parser uses the XML parser; a nil logger
// uses slog.Default.
func New(fetcher fetch.Fetcher, p parser.Parser, log *slog.Logger) *Loader {
	if p == nil {
		p = parser.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loader{fetcher: fetcher, parser: p, log: log}
}

// WithStats records every fetch attempt in stats.
func (l *Loader) WithStats(stats *fetch.Stats) *Loader {
	cp := *l
	cp.stats = stats
	return &cp
}

// WithHooks returns a loader reporting to hooks.
func (l *Loader) WithHooks(hooks Hooks) *Loader {
	cp := *l
	cp.hooks = hooks
	return &cp
}

// Load returns the load events of the chain rooted at cfg.URI. Nothing is
// fetched until the returned source runs.
func (l *Loader) Load(cfg LoadConfig) stream.Source[LoadEvent] {
	cfg = cfg.normalized()
	t := &traversal{
		loader: l,
		cfg:    cfg,
		fetch: &fetch.Bounded{
			Fetcher:        l.fetcher,
			Timeout:        cfg.Timeout,
			RetryCount:     cfg.RetryCount,
			BackoffBase:    cfg.BackoffBase,
			BackoffMax:     cfg.BackoffMax,
			OnAttemptError: l.hooks.FetchError,
			Stats:          l.stats,
			Log:            l.log,
		},
	}
	return t.tree(cfg.URI, nil, 1)
}

// LoadAds returns the flattened ad events of the chain rooted at cfg.URI.
func (l *Loader) LoadAds(cfg LoadConfig) stream.Source[AdEvent] {
	return Ads(l.Load(cfg))
}

type traversal struct {
	loader *Loader
	cfg    LoadConfig
	fetch  *fetch.Bounded
}

// tree emits the node's own event followed by the events of its wrapper
// subtree.
func (t *traversal) tree(uri string, parent *vast.Wrapper, depth int) stream.Source[LoadEvent] {
	return func(ctx context.Context, emit func(LoadEvent) error) error {
		loaded := stream.NewShared(func(ctx context.Context) (LoadEvent, error) {
			return t.load(ctx, uri, parent, depth)
		})

		self := func(ctx context.Context, emit func(LoadEvent) error) error {
			ev, err := loaded.Get(ctx)
			if err != nil {
				return err
			}
			return emit(ev)
		}
		descendants := func(ctx context.Context, emit func(LoadEvent) error) error {
			ev, err := loaded.Get(ctx)
			if err != nil {
				return err
			}
			if ev.Type == EventFailed {
				return nil
			}
			return t.descendants(ev.Document, depth)(ctx, emit)
		}

		return stream.ConcatEager[LoadEvent](self, descendants)(ctx, emit)
	}
}

func (t *traversal) descendants(doc *vast.Document, depth int) stream.Source[LoadEvent] {
	wrappers := doc.Wrappers()
	if len(wrappers) == 0 {
		return stream.Empty[LoadEvent]()
	}

	if !doc.FollowAdditionalWrappers() || (t.cfg.MaxDepth > 0 && depth >= t.cfg.MaxDepth) {
		events := make([]LoadEvent, 0, len(wrappers))
		for _, w := range wrappers {
			events = append(events, t.failed(vast.NewLoaderError(vast.CodeWrapperLimit, nil, w.VASTAdTagURI), w, depth+1))
		}
		return stream.FromSlice(events)
	}

	children := make([]stream.Source[LoadEvent], 0, len(wrappers))
	for _, w := range wrappers {
		children = append(children, t.tree(w.VASTAdTagURI, w, depth+1))
	}
	return stream.ConcatEager(children...)
}

// load fetches and parses one document. The returned error is only set when
// the traversal itself was cancelled.
func (t *traversal) load(ctx context.Context, uri string, parent *vast.Wrapper, depth int) (LoadEvent, error) {
	hooks := t.loader.hooks
	log := t.loader.log.With("uri", uri, "depth", depth)

	if hooks.WillFetch != nil {
		hooks.WillFetch(uri)
	}
	log.Debug("fetching vast")
	resp, err := t.fetch.Fetch(ctx, uri, t.cfg.Credentials.Resolve(uri))
	if err != nil {
		if ctx.Err() != nil {
			return LoadEvent{}, ctx.Err()
		}
		code := vast.CodeWrapperTimeout
		if parent == nil {
			code = vast.CodeUndefined
		}
		return t.failed(vast.NewLoaderError(code, err, uri), parent, depth), nil
	}
	if hooks.DidFetch != nil {
		hooks.DidFetch(uri, resp)
	}

	if hooks.WillParse != nil {
		hooks.WillParse(uri, resp.Body)
	}
	doc, err := t.loader.parser.Parse(bytes.NewReader(resp.Body), uri, vast.Origin{Wrapper: parent, Depth: depth})
	if err != nil {
		return t.failed(vast.NewLoaderError(vast.CodeXMLParse, err, uri), parent, depth), nil
	}
	if t.cfg.NoSingleAdPods {
		doc.DropSingleAdPod()
	}
	if hooks.DidParse != nil {
		hooks.DidParse(uri, doc)
	}

	if parent != nil && len(doc.Ads) == 0 {
		return t.failed(vast.NewLoaderError(vast.CodeNoAdsAfterWrapper, nil, uri), parent, depth), nil
	}

	log.Debug("loaded vast", "ads", len(doc.Ads), "wrappers", len(doc.Wrappers()))
	return Loaded(doc), nil
}

func (t *traversal) failed(err *vast.LoaderError, parent *vast.Wrapper, depth int) LoadEvent {
	t.loader.log.Warn("vast load failed",
		"uri", err.URI,
		"depth", depth,
		"code", int(err.Code),
		"error", err,
	)
	if t.loader.hooks.Error != nil {
		t.loader.hooks.Error(err.URI, err)
	}
	return Failed(err, parent)
}
