package loader

import (
	"github.com/dgallion1/vastchain/internal/stream"
	"github.com/dgallion1/vastchain/internal/vast"
)

// Ads flattens a preorder load event stream into ad events. Each loaded
// document contributes its ads up to and including its first wrapper; the
// next event of the stream belongs to that wrapper, so the remainder of the
// document is resumed once the wrapper's subtree is exhausted.
func Ads(src stream.Source[LoadEvent]) stream.Source[AdEvent] {
	return stream.ConcatMap(src, func(ev LoadEvent) stream.Source[AdEvent] {
		return stream.FromSlice(flatten(ev))
	})
}

func flatten(ev LoadEvent) []AdEvent {
	switch ev.Type {
	case EventLoaded:
		return adsOf(walk(ev.Document, 0))
	case EventFailed:
		out := []AdEvent{{Type: EventAdLoadFailed, Err: ev.Err, Wrapper: ev.Wrapper}}
		if ev.Wrapper == nil || ev.Wrapper.Document() == nil {
			return out
		}
		return append(out, adsOf(walk(ev.Wrapper.Document(), ev.Wrapper.Index()+1))...)
	}
	return nil
}

// walk collects ads of doc starting at from and stops after the first
// wrapper. When doc runs out it climbs to the ad after the causing wrapper.
func walk(doc *vast.Document, from int) []vast.Ad {
	var out []vast.Ad
	for doc != nil {
		for i := from; i < len(doc.Ads); i++ {
			out = append(out, doc.Ads[i])
			if _, ok := doc.Ads[i].(*vast.Wrapper); ok {
				return out
			}
		}
		w := doc.Parent()
		if w == nil {
			return out
		}
		doc, from = w.Document(), w.Index()+1
	}
	return out
}

func adsOf(ads []vast.Ad) []AdEvent {
	out := make([]AdEvent, 0, len(ads))
	for _, ad := range ads {
		var parent *vast.Wrapper
		if doc := ad.Document(); doc != nil {
			parent = doc.Parent()
		}
		out = append(out, AdEvent{Type: EventAdLoaded, Ad: ad, Wrapper: parent})
	}
	return out
}
