package vast

// Origin is the enclosing context of a document: the wrapper that caused it
// to be fetched (nil for the root) and its depth in the chain.
type Origin struct {
	Wrapper *Wrapper
	Depth   int
}

// Document is one parsed VAST response.
type Document struct {
	URI     string
	Version string
	Ads     []Ad
	Errors  []string // <Error> tracking URIs at document level
	Origin  Origin
}

// NewDocument binds every ad to the document and its position. Ads must not
// be shared between documents.
func NewDocument(uri, version string, ads []Ad, origin Origin) *Document {
	doc := &Document{
		URI:     uri,
		Version: version,
		Ads:     ads,
		Origin:  origin,
	}
	for i, ad := range ads {
		ad.bind(doc, i)
	}
	return doc
}

// Parent returns the wrapper that led to this document, or nil for the root.
func (d *Document) Parent() *Wrapper {
	return d.Origin.Wrapper
}

// Depth returns the document's depth in the chain. The root is at depth 1.
func (d *Document) Depth() int {
	if d.Origin.Depth <= 0 {
		return 1
	}
	return d.Origin.Depth
}

// FollowAdditionalWrappers reports whether wrappers inside this document may
// be followed.
func (d *Document) FollowAdditionalWrappers() bool {
	w := d.Origin.Wrapper
	return w == nil || w.FollowAdditionalWrappers
}

// DropSingleAdPod clears the sequence of a lone ad so it is treated as a
// standalone ad rather than a pod of one.
func (d *Document) DropSingleAdPod() {
	if len(d.Ads) == 1 {
		d.Ads[0].clearSequence()
	}
}

// Wrappers returns the wrapper ads in entry order.
func (d *Document) Wrappers() []*Wrapper {
	var out []*Wrapper
	for _, ad := range d.Ads {
		if w, ok := ad.(*Wrapper); ok {
			out = append(out, w)
		}
	}
	return out
}

// Ad is an entry of a document: either an *InLine or a *Wrapper.
type Ad interface {
	ID() string
	Sequence() int
	Document() *Document
	Index() int
	AdSystem() string

	bind(doc *Document, index int)
	clearSequence()
}

type adBase struct {
	id       string
	sequence int
	system   string
	doc      *Document
	index    int

	Impressions []string
	Errors      []string
}

func (a *adBase) ID() string          { return a.id }
func (a *adBase) Sequence() int       { return a.sequence }
func (a *adBase) Document() *Document { return a.doc }
func (a *adBase) Index() int          { return a.index }
func (a *adBase) AdSystem() string    { return a.system }

func (a *adBase) clearSequence() { a.sequence = 0 }

func (a *adBase) bind(doc *Document, index int) {
	a.doc = doc
	a.index = index
}

// InLine is a leaf ad carrying its creatives directly.
type InLine struct {
	adBase
	Title     string
	Creatives []Creative
}

// NewInLine creates an unbound inline ad.
func NewInLine(id string, sequence int, system, title string) *InLine {
	return &InLine{
		adBase: adBase{id: id, sequence: sequence, system: system},
		Title:  title,
	}
}

// Wrapper points at another VAST document.
type Wrapper struct {
	adBase
	VASTAdTagURI             string
	FollowAdditionalWrappers bool
	AllowMultipleAds         bool
	FallbackOnNoAd           bool
	Creatives                []Creative
}

// NewWrapper creates an unbound wrapper. FollowAdditionalWrappers defaults
// to true.
func NewWrapper(id string, sequence int, system, tagURI string) *Wrapper {
	return &Wrapper{
		adBase:                   adBase{id: id, sequence: sequence, system: system},
		VASTAdTagURI:             tagURI,
		FollowAdditionalWrappers: true,
	}
}

// Creative is the subset of a creative the loader reports on.
type Creative struct {
	ID         string
	AdID       string
	Duration   string
	MediaFiles []MediaFile
}

type MediaFile struct {
	URI      string
	Type     string
	Delivery string
	Width    int
	Height   int
}
