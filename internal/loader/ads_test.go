package loader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/vastchain/internal/stream"
	"github.com/dgallion1/vastchain/internal/vast"
)

func ids(ads []vast.Ad) []string {
	out := make([]string, 0, len(ads))
	for _, ad := range ads {
		out = append(out, ad.ID())
	}
	return out
}

func TestWalk(t *testing.T) {
	q := vast.NewWrapper("q", 2, "", "http://t/B")
	s := vast.NewWrapper("s", 4, "", "http://t/C")
	root := vast.NewDocument("http://t/A", "4.0", []vast.Ad{
		vast.NewInLine("p", 1, "", ""), q, vast.NewInLine("r", 3, "", ""), s, vast.NewInLine("t", 5, "", ""),
	}, vast.Origin{Depth: 1})
	child := vast.NewDocument("http://t/B", "4.0", []vast.Ad{
		vast.NewInLine("u", 1, "", ""), vast.NewInLine("v", 2, "", ""),
	}, vast.Origin{Wrapper: q, Depth: 2})

	assert.Equal(t, []string{"p", "q"}, ids(walk(root, 0)))
	assert.Equal(t, []string{"r", "s"}, ids(walk(root, 2)))
	assert.Equal(t, []string{"t"}, ids(walk(root, 4)))
	assert.Empty(t, walk(root, 5))
	assert.Equal(t, []string{"u", "v", "r", "s"}, ids(walk(child, 0)))
}

func TestAds_FailedMiddleWrapper(t *testing.T) {
	q := vast.NewWrapper("q", 2, "", "http://t/B")
	root := vast.NewDocument("http://t/A", "4.0", []vast.Ad{
		vast.NewInLine("p", 1, "", ""), q, vast.NewInLine("r", 3, "", ""),
	}, vast.Origin{Depth: 1})

	src := stream.FromSlice([]LoadEvent{
		Loaded(root),
		Failed(vast.NewLoaderError(vast.CodeWrapperTimeout, nil, q.VASTAdTagURI), q),
	})
	events, err := stream.Collect(context.Background(), Ads(src))
	require.NoError(t, err)
	require.Len(t, events, 4)

	assert.Equal(t, EventAdLoaded, events[0].Type)
	assert.Nil(t, events[0].Wrapper)
	assert.Same(t, q, events[1].Ad)
	assert.Equal(t, EventAdLoadFailed, events[2].Type)
	assert.Same(t, q, events[2].Wrapper)
	assert.Equal(t, vast.CodeWrapperTimeout, events[2].Err.Code)
	assert.Equal(t, "r", events[3].Ad.ID())
}

func TestAds_FailedRoot(t *testing.T) {
	src := stream.Just(Failed(vast.NewLoaderError(vast.CodeUndefined, nil, "http://t/A"), nil))
	events, err := stream.Collect(context.Background(), Ads(src))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventAdLoadFailed, events[0].Type)
	assert.Nil(t, events[0].Wrapper)
}

func TestAds_NestedAdsCarryCausingWrapper(t *testing.T) {
	q := vast.NewWrapper("q", 1, "", "http://t/B")
	root := vast.NewDocument("http://t/A", "4.0", []vast.Ad{q}, vast.Origin{Depth: 1})
	child := vast.NewDocument("http://t/B", "4.0", []vast.Ad{vast.NewInLine("x", 1, "", "")}, vast.Origin{Wrapper: q, Depth: 2})

	events, err := stream.Collect(context.Background(), Ads(stream.FromSlice([]LoadEvent{Loaded(root), Loaded(child)})))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Nil(t, events[0].Wrapper)
	assert.Same(t, q, events[1].Wrapper)
}

func TestEvents_MarshalJSON(t *testing.T) {
	q := vast.NewWrapper("q", 1, "Broker", "http://t/B")
	root := vast.NewDocument("http://t/A", "4.0", []vast.Ad{q}, vast.Origin{Depth: 1})

	b, err := Failed(vast.NewLoaderError(vast.CodeWrapperLimit, nil, "http://t/B"), q).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"type": "VAST_LOADING_FAILED",
		"error": {"code": 302, "message": "Wrapper limit reached.", "uri": "http://t/B"},
		"wrapper": {"kind": "wrapper", "id": "q", "sequence": 1, "ad_system": "Broker", "tag_uri": "http://t/B", "document_uri": "http://t/A", "index": 0, "depth": 1}
	}`, string(b))

	b, err = Loaded(root).MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type": "VAST_LOADED", "document": {"uri": "http://t/A", "version": "4.0", "depth": 1, "ads": 1}}`, string(b))
}
