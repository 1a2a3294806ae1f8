package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dgallion1/vastchain/internal/fetch"
	"github.com/dgallion1/vastchain/internal/stream"
	"github.com/dgallion1/vastchain/internal/vast"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const base = "http://t/"

// vastXML builds a document from compact ad specs: "p" is an inline ad,
// "q>B" a wrapper pointing at base+"B", and "q>B!" the same wrapper with
// followAdditionalWrappers="false".
func vastXML(ads ...string) string {
	var b strings.Builder
	b.WriteString(`<VAST version="4.0">`)
	for i, spec := range ads {
		id, target, isWrapper := strings.Cut(spec, ">")
		if !isWrapper {
			fmt.Fprintf(&b, `<Ad id="%s" sequence="%d"><InLine><AdSystem>t</AdSystem><AdTitle>%s</AdTitle></InLine></Ad>`, id, i+1, id)
			continue
		}
		follow := "true"
		if strings.HasSuffix(target, "!") {
			target, follow = strings.TrimSuffix(target, "!"), "false"
		}
		fmt.Fprintf(&b, `<Ad id="%s" sequence="%d"><Wrapper followAdditionalWrappers="%s"><AdSystem>t</AdSystem><VASTAdTagURI>%s%s</VASTAdTagURI></Wrapper></Ad>`,
			id, i+1, follow, base, target)
	}
	b.WriteString(`</VAST>`)
	return b.String()
}

type node struct {
	body  string
	delay time.Duration
	err   error
	hang  bool
}

type fakeFetcher struct {
	mu    sync.Mutex
	nodes map[string]node
	calls []fetch.Request
}

func newFake(nodes map[string]node) *fakeFetcher {
	full := make(map[string]node, len(nodes))
	for name, n := range nodes {
		full[base+name] = n
	}
	return &fakeFetcher{nodes: full}
}

func (f *fakeFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	n, ok := f.nodes[req.URI]
	f.mu.Unlock()
	if !ok {
		return nil, &vast.HTTPError{Status: 404, StatusText: "Not Found"}
	}
	if n.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n.delay > 0 {
		select {
		case <-time.After(n.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if n.err != nil {
		return nil, n.err
	}
	return &fetch.Response{URI: req.URI, Body: []byte(n.body), StatusCode: 200}, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, strings.TrimPrefix(c.URI, base))
	}
	return out
}

func short(uri string) string { return strings.TrimPrefix(uri, base) }

func describeLoad(ev LoadEvent) string {
	if ev.Type == EventLoaded {
		return "loaded " + short(ev.Document.URI)
	}
	by := "-"
	if ev.Wrapper != nil {
		by = ev.Wrapper.ID()
	}
	return fmt.Sprintf("failed %d %s", ev.Err.Code, by)
}

func describeAd(ev AdEvent) string {
	if ev.Type == EventAdLoaded {
		return ev.Ad.ID()
	}
	by := "-"
	if ev.Wrapper != nil {
		by = ev.Wrapper.ID()
	}
	return fmt.Sprintf("failed %d %s", ev.Err.Code, by)
}

func loadAll(t *testing.T, l *Loader, cfg LoadConfig) ([]string, []string) {
	t.Helper()
	loads, err := stream.Collect(context.Background(), l.Load(cfg))
	require.NoError(t, err)
	ads, err := stream.Collect(context.Background(), l.LoadAds(cfg))
	require.NoError(t, err)

	var gotLoads, gotAds []string
	for _, ev := range loads {
		gotLoads = append(gotLoads, describeLoad(ev))
	}
	for _, ev := range ads {
		gotAds = append(gotAds, describeAd(ev))
	}
	return gotLoads, gotAds
}

// tree:
//
//	A: p, q>B, r, s>C, t
//	B: u>D, v, w>E
//	C: x    D: y    E: z
func treeNodes() map[string]node {
	return map[string]node{
		"A": {body: vastXML("p", "q>B", "r", "s>C", "t"), delay: 30 * time.Millisecond},
		"B": {body: vastXML("u>D", "v", "w>E"), delay: 20 * time.Millisecond},
		"C": {body: vastXML("x"), delay: time.Millisecond},
		"D": {body: vastXML("y"), delay: 10 * time.Millisecond},
		"E": {body: vastXML("z")},
	}
}

func TestLoad_PreorderRegardlessOfLatency(t *testing.T) {
	f := newFake(treeNodes())
	l := New(f, nil, nil)

	loads, ads := loadAll(t, l, DefaultLoadConfig(base+"A"))

	wantLoads := []string{"loaded A", "loaded B", "loaded D", "loaded E", "loaded C"}
	if diff := cmp.Diff(wantLoads, loads); diff != "" {
		t.Errorf("load events mismatch (-want +got):\n%s", diff)
	}
	wantAds := []string{"p", "q", "u", "y", "v", "w", "z", "r", "s", "x", "t"}
	if diff := cmp.Diff(wantAds, ads); diff != "" {
		t.Errorf("ad events mismatch (-want +got):\n%s", diff)
	}
}

func TestLoad_DocumentsCarryOrigin(t *testing.T) {
	l := New(newFake(treeNodes()), nil, nil)
	events, err := stream.Collect(context.Background(), l.Load(DefaultLoadConfig(base+"A")))
	require.NoError(t, err)
	require.Len(t, events, 5)

	root := events[0]
	assert.Nil(t, root.Wrapper)
	assert.Equal(t, 1, root.Document.Depth())

	d := events[2].Document
	assert.Equal(t, base+"D", d.URI)
	assert.Equal(t, 3, d.Depth())
	assert.Equal(t, "u", d.Parent().ID())
	assert.Equal(t, base+"B", d.Parent().Document().URI)
	assert.Same(t, d.Parent(), events[2].Wrapper)
}

func TestLoad_DepthLimit(t *testing.T) {
	f := newFake(treeNodes())
	cfg := DefaultLoadConfig(base + "A")
	cfg.MaxDepth = 2

	loads, ads := loadAll(t, New(f, nil, nil), cfg)

	wantLoads := []string{"loaded A", "loaded B", "failed 302 u", "failed 302 w", "loaded C"}
	if diff := cmp.Diff(wantLoads, loads); diff != "" {
		t.Errorf("load events mismatch (-want +got):\n%s", diff)
	}
	wantAds := []string{"p", "q", "u", "failed 302 u", "v", "w", "failed 302 w", "r", "s", "x", "t"}
	if diff := cmp.Diff(wantAds, ads); diff != "" {
		t.Errorf("ad events mismatch (-want +got):\n%s", diff)
	}
	for _, uri := range f.fetched() {
		assert.NotContains(t, []string{"D", "E"}, uri, "no fetch beyond max depth")
	}
}

func TestLoad_MaxDepthOneStopsAtRoot(t *testing.T) {
	f := newFake(treeNodes())
	cfg := DefaultLoadConfig(base + "A")
	cfg.MaxDepth = 1

	loads, _ := loadAll(t, New(f, nil, nil), cfg)
	assert.Equal(t, []string{"loaded A", "failed 302 q", "failed 302 s"}, loads)
}

func TestLoad_ZeroMaxDepthIsUnbounded(t *testing.T) {
	nodes := map[string]node{}
	for i := range 15 {
		nodes[fmt.Sprint(i)] = node{body: vastXML(fmt.Sprintf("w%d>%d", i, i+1))}
	}
	nodes["15"] = node{body: vastXML("leaf")}
	cfg := DefaultLoadConfig(base + "0")
	cfg.MaxDepth = 0

	loads, ads := loadAll(t, New(newFake(nodes), nil, nil), cfg)
	assert.Len(t, loads, 16)
	assert.Equal(t, "leaf", ads[len(ads)-1])
}

func TestLoad_DocumentDisallowsFollowing(t *testing.T) {
	nodes := treeNodes()
	nodes["A"] = node{body: vastXML("p", "q>B!", "r")}
	f := newFake(nodes)

	loads, ads := loadAll(t, New(f, nil, nil), DefaultLoadConfig(base+"A"))

	assert.Equal(t, []string{"loaded A", "loaded B", "failed 302 u", "failed 302 w"}, loads)
	assert.Equal(t, []string{"p", "q", "u", "failed 302 u", "v", "w", "failed 302 w", "r"}, ads)
}

func TestLoad_WrapperTimeout(t *testing.T) {
	f := newFake(map[string]node{
		"root": {body: vastXML("p", "q>slow")},
		"slow": {hang: true},
	})
	cfg := DefaultLoadConfig(base + "root")
	cfg.Timeout = 20 * time.Millisecond

	events, err := stream.Collect(context.Background(), New(f, nil, nil).Load(cfg))
	require.NoError(t, err)
	require.Len(t, events, 2)
	failed := events[1]
	assert.Equal(t, EventFailed, failed.Type)
	assert.Equal(t, vast.CodeWrapperTimeout, failed.Err.Code)
	assert.True(t, errors.Is(failed.Err, fetch.ErrTimeout))
	assert.Equal(t, "q", failed.Wrapper.ID())

	ads, err := stream.Collect(context.Background(), New(f, nil, nil).LoadAds(cfg))
	require.NoError(t, err)
	var got []string
	for _, ev := range ads {
		got = append(got, describeAd(ev))
	}
	assert.Equal(t, []string{"p", "q", "failed 301 q"}, got)
}

func TestLoad_CredentialFallback(t *testing.T) {
	var mu sync.Mutex
	var tried []fetch.Credentials
	f := fetch.FetcherFunc(func(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
		mu.Lock()
		tried = append(tried, req.Credentials)
		mu.Unlock()
		if req.Credentials == fetch.CredentialsInclude {
			return nil, errors.New("cors rejected")
		}
		return &fetch.Response{URI: req.URI, Body: []byte(vastXML("p"))}, nil
	})
	cfg := DefaultLoadConfig(base + "root")
	cfg.Credentials = fetch.Strategy(fetch.CredentialsInclude, fetch.CredentialsOmit)

	events, err := stream.Collect(context.Background(), New(f, nil, nil).Load(cfg))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventLoaded, events[0].Type)
	assert.Equal(t, []fetch.Credentials{fetch.CredentialsInclude, fetch.CredentialsOmit}, tried)
}

func TestLoad_RetryCount(t *testing.T) {
	f := newFake(map[string]node{"root": {body: vastXML("p", "q>gone")}})
	f.nodes[base+"gone"] = node{err: errors.New("connection reset")}
	cfg := DefaultLoadConfig(base + "root")
	cfg.RetryCount = 2

	loads, _ := loadAll(t, New(f, nil, nil), cfg)
	assert.Equal(t, []string{"loaded root", "failed 301 q"}, loads)

	gone := 0
	for _, uri := range f.fetched() {
		if uri == "gone" {
			gone++
		}
	}
	assert.Equal(t, 6, gone, "three attempts per run, two runs")
}

func TestLoad_RetryCountAppliesToHTTPErrors(t *testing.T) {
	f := newFake(map[string]node{"root": {body: vastXML("p", "q>missing")}})
	cfg := DefaultLoadConfig(base + "root")
	cfg.RetryCount = 2

	var loads []LoadEvent
	err := New(f, nil, nil).Load(cfg)(context.Background(), func(ev LoadEvent) error {
		loads = append(loads, ev)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, loads, 2)
	assert.Equal(t, vast.CodeWrapperTimeout, loads[1].Err.Code)

	var httpErr *vast.HTTPError
	require.ErrorAs(t, loads[1].Err, &httpErr)
	assert.Equal(t, 404, httpErr.Status)

	missing := 0
	for _, uri := range f.fetched() {
		if uri == "missing" {
			missing++
		}
	}
	assert.Equal(t, 3, missing)
}

func TestLoad_NoSingleAdPods(t *testing.T) {
	nodes := map[string]node{
		"root": {body: vastXML("p", "q>B")},
		"B":    {body: vastXML("x")},
	}
	sequences := func(cfg LoadConfig) map[string]int {
		events, err := stream.Collect(context.Background(), New(newFake(nodes), nil, nil).LoadAds(cfg))
		require.NoError(t, err)
		out := map[string]int{}
		for _, ev := range events {
			out[ev.Ad.ID()] = ev.Ad.Sequence()
		}
		return out
	}

	cfg := DefaultLoadConfig(base + "root")
	assert.Equal(t, map[string]int{"p": 1, "q": 2, "x": 1}, sequences(cfg))

	cfg.NoSingleAdPods = true
	assert.Equal(t, map[string]int{"p": 1, "q": 2, "x": 0}, sequences(cfg), "only the lone ad loses its sequence")
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name  string
		nodes map[string]node
		loads []string
		ads   []string
	}{
		{
			name:  "root fetch failure",
			nodes: map[string]node{"root": {err: errors.New("dns")}},
			loads: []string{"failed 900 -"},
			ads:   []string{"failed 900 -"},
		},
		{
			name:  "root parse failure",
			nodes: map[string]node{"root": {body: "<html>nope</html>"}},
			loads: []string{"failed 100 -"},
			ads:   []string{"failed 100 -"},
		},
		{
			name: "wrapper parse failure",
			nodes: map[string]node{
				"root": {body: vastXML("p", "q>bad", "r")},
				"bad":  {body: "<VAST><Ad"},
			},
			loads: []string{"loaded root", "failed 100 q"},
			ads:   []string{"p", "q", "failed 100 q", "r"},
		},
		{
			name: "empty wrapped document",
			nodes: map[string]node{
				"root":  {body: vastXML("p", "q>empty", "r")},
				"empty": {body: vastXML()},
			},
			loads: []string{"loaded root", "failed 303 q"},
			ads:   []string{"p", "q", "failed 303 q", "r"},
		},
		{
			name:  "empty root document",
			nodes: map[string]node{"root": {body: vastXML()}},
			loads: []string{"loaded root"},
			ads:   nil,
		},
		{
			name: "missing wrapper target",
			nodes: map[string]node{
				"root": {body: vastXML("q>missing", "r>ok")},
				"ok":   {body: vastXML("x")},
			},
			loads: []string{"loaded root", "failed 301 q", "loaded ok"},
			ads:   []string{"q", "failed 301 q", "r", "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loads, ads := loadAll(t, New(newFake(tt.nodes), nil, nil), DefaultLoadConfig(base+"root"))
			assert.Equal(t, tt.loads, loads)
			assert.Equal(t, tt.ads, ads)
		})
	}
}

func TestLoad_DataURIRoot(t *testing.T) {
	f := newFake(map[string]node{"B": {body: vastXML("x")}})
	l := New(&fetch.DataURIFetcher{Next: f}, nil, nil)

	root := "data:text/xml," + strings.ReplaceAll(vastXML("p", "q>B"), " ", "%20")
	loads, ads := loadAll(t, l, DefaultLoadConfig(root))
	assert.Equal(t, []string{"loaded " + root, "loaded B"}, loads)
	assert.Equal(t, []string{"p", "q", "x"}, ads)
	assert.Equal(t, []string{"B", "B"}, f.fetched())
}

func TestLoad_Hooks(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]string{}
	record := func(kind, uri string) {
		mu.Lock()
		seen[kind] = append(seen[kind], short(uri))
		mu.Unlock()
	}

	f := newFake(map[string]node{
		"root": {body: vastXML("p", "q>B", "r>bad")},
		"B":    {body: vastXML("x")},
		"bad":  {err: errors.New("boom")},
	})
	l := New(f, nil, nil).WithHooks(Hooks{
		WillFetch:  func(uri string) { record("willFetch", uri) },
		DidFetch:   func(uri string, _ *fetch.Response) { record("didFetch", uri) },
		WillParse:  func(uri string, _ []byte) { record("willParse", uri) },
		DidParse:   func(uri string, _ *vast.Document) { record("didParse", uri) },
		FetchError: func(err *fetch.AttemptError) { record("fetchError", err.URI) },
		Error:      func(uri string, _ *vast.LoaderError) { record("error", uri) },
	})

	_, err := stream.Collect(context.Background(), l.Load(DefaultLoadConfig(base+"root")))
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"root", "B", "bad"}, seen["willFetch"])
	assert.ElementsMatch(t, []string{"root", "B"}, seen["didFetch"])
	assert.ElementsMatch(t, []string{"root", "B"}, seen["willParse"])
	assert.ElementsMatch(t, []string{"root", "B"}, seen["didParse"])
	assert.Equal(t, []string{"bad"}, seen["fetchError"])
	assert.Equal(t, []string{"bad"}, seen["error"])
}

func TestLoad_RecordsStats(t *testing.T) {
	stats := fetch.NewStats(time.Hour)
	l := New(newFake(treeNodes()), nil, nil).WithStats(stats)

	_, err := stream.Collect(context.Background(), l.Load(DefaultLoadConfig(base+"A")))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Snapshot().Count)
}

func TestLoad_FetchesEachDocumentOnce(t *testing.T) {
	f := newFake(treeNodes())
	_, err := stream.Collect(context.Background(), New(f, nil, nil).Load(DefaultLoadConfig(base+"A")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D", "E"}, f.fetched())
}

func TestLoad_ChildrenFetchedConcurrently(t *testing.T) {
	nodes := map[string]node{"root": {body: vastXML("a>1", "b>2", "c>3", "d>4")}}
	for i := 1; i <= 4; i++ {
		nodes[fmt.Sprint(i)] = node{body: vastXML(fmt.Sprintf("leaf%d", i)), delay: 50 * time.Millisecond}
	}

	start := time.Now()
	events, err := stream.Collect(context.Background(), New(newFake(nodes), nil, nil).Load(DefaultLoadConfig(base+"root")))
	elapsed := time.Since(start)
	require.NoError(t, err)

	var loads []string
	for _, ev := range events {
		loads = append(loads, describeLoad(ev))
	}
	assert.Equal(t, []string{"loaded root", "loaded 1", "loaded 2", "loaded 3", "loaded 4"}, loads)
	assert.Less(t, elapsed, 150*time.Millisecond, "siblings should overlap")
}

func TestLoad_CancelStopsTraversal(t *testing.T) {
	f := newFake(map[string]node{
		"root":  {body: vastXML("p", "q>slow", "r>slow2")},
		"slow":  {hang: true},
		"slow2": {hang: true},
	})
	ctx, cancel := context.WithCancel(context.Background())

	var got []string
	err := New(f, nil, nil).Load(DefaultLoadConfig(base+"root"))(ctx, func(ev LoadEvent) error {
		got = append(got, describeLoad(ev))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{"loaded root"}, got)
}

func TestLoad_EmitErrorStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := New(newFake(treeNodes()), nil, nil).Load(DefaultLoadConfig(base+"A"))(context.Background(), func(LoadEvent) error {
		calls++
		if calls == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 2, calls)
}
