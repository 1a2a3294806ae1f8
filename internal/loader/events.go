package loader

import (
	"encoding/json"

	"github.com/dgallion1/vastchain/internal/vast"
)

// EventType tags LoadEvent and AdEvent variants.
type EventType string

const (
	EventLoaded       EventType = "VAST_LOADED"
	EventFailed       EventType = "VAST_LOADING_FAILED"
	EventAdLoaded     EventType = "AD_LOADED"
	EventAdLoadFailed EventType = "AD_LOADING_FAILED"
)

// LoadEvent is the outcome of one attempted document load. Wrapper is the
// wrapper that caused the load, nil for the root.
type LoadEvent struct {
	Type     EventType
	Document *vast.Document
	Err      *vast.LoaderError
	Wrapper  *vast.Wrapper
}

func Loaded(doc *vast.Document) LoadEvent {
	return LoadEvent{Type: EventLoaded, Document: doc, Wrapper: doc.Parent()}
}

func Failed(err *vast.LoaderError, wrapper *vast.Wrapper) LoadEvent {
	return LoadEvent{Type: EventFailed, Err: err, Wrapper: wrapper}
}

// AdEvent is one entry of the flattened ad stream. Ad is set for
// EventAdLoaded and may be a wrapper placeholder.
type AdEvent struct {
	Type    EventType
	Ad      vast.Ad
	Err     *vast.LoaderError
	Wrapper *vast.Wrapper
}

type errorView struct {
	Code    vast.Code `json:"code"`
	Message string    `json:"message"`
	URI     string    `json:"uri,omitempty"`
	Cause   string    `json:"cause,omitempty"`
}

type adView struct {
	Kind        string `json:"kind"`
	ID          string `json:"id,omitempty"`
	Sequence    int    `json:"sequence,omitempty"`
	AdSystem    string `json:"ad_system,omitempty"`
	Title       string `json:"title,omitempty"`
	TagURI      string `json:"tag_uri,omitempty"`
	DocumentURI string `json:"document_uri,omitempty"`
	Index       int    `json:"index"`
	Depth       int    `json:"depth"`
	MediaFiles  int    `json:"media_files,omitempty"`
}

type documentView struct {
	URI     string `json:"uri"`
	Version string `json:"version,omitempty"`
	Depth   int    `json:"depth"`
	Ads     int    `json:"ads"`
}

func viewError(err *vast.LoaderError) *errorView {
	if err == nil {
		return nil
	}
	v := &errorView{Code: err.Code, Message: err.Code.Description(), URI: err.URI}
	if err.Cause != nil {
		v.Cause = err.Cause.Error()
	}
	return v
}

func viewAd(ad vast.Ad) *adView {
	if ad == nil {
		return nil
	}
	v := &adView{
		ID:       ad.ID(),
		Sequence: ad.Sequence(),
		AdSystem: ad.AdSystem(),
		Index:    ad.Index(),
	}
	if doc := ad.Document(); doc != nil {
		v.DocumentURI = doc.URI
		v.Depth = doc.Depth()
	}
	switch a := ad.(type) {
	case *vast.InLine:
		v.Kind = "inline"
		v.Title = a.Title
		for _, c := range a.Creatives {
			v.MediaFiles += len(c.MediaFiles)
		}
	case *vast.Wrapper:
		v.Kind = "wrapper"
		v.TagURI = a.VASTAdTagURI
	}
	return v
}

func (e LoadEvent) MarshalJSON() ([]byte, error) {
	out := struct {
		Type     EventType     `json:"type"`
		Document *documentView `json:"document,omitempty"`
		Error    *errorView    `json:"error,omitempty"`
		Wrapper  *adView       `json:"wrapper,omitempty"`
	}{
		Type:  e.Type,
		Error: viewError(e.Err),
	}
	if e.Document != nil {
		out.Document = &documentView{
			URI:     e.Document.URI,
			Version: e.Document.Version,
			Depth:   e.Document.Depth(),
			Ads:     len(e.Document.Ads),
		}
	}
	if e.Wrapper != nil {
		out.Wrapper = viewAd(e.Wrapper)
	}
	return json.Marshal(out)
}

func (e AdEvent) MarshalJSON() ([]byte, error) {
	out := struct {
		Type    EventType  `json:"type"`
		Ad      *adView    `json:"ad,omitempty"`
		Error   *errorView `json:"error,omitempty"`
		Wrapper *adView    `json:"wrapper,omitempty"`
	}{
		Type:  e.Type,
		Ad:    viewAd(e.Ad),
		Error: viewError(e.Err),
	}
	if e.Wrapper != nil {
		out.Wrapper = viewAd(e.Wrapper)
	}
	return json.Marshal(out)
}
