package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dgallion1/vastchain/internal/vast"
	"golang.org/x/net/html/charset"
)

// ErrNotVAST is returned when the root element is not <VAST>.
var ErrNotVAST = errors.New("root element is not VAST")

// XMLParser handles VAST XML documents. Only the elements needed to follow
// wrapper chains and report on ads are read.
type XMLParser struct{}

type xmlVAST struct {
	XMLName xml.Name `xml:"VAST"`
	Version string   `xml:"version,attr"`
	Errors  []string `xml:"Error"`
	Ads     []xmlAd  `xml:"Ad"`
}

type xmlAd struct {
	ID       string      `xml:"id,attr"`
	Sequence string      `xml:"sequence,attr"`
	InLine   *xmlInLine  `xml:"InLine"`
	Wrapper  *xmlWrapper `xml:"Wrapper"`
}

type xmlInLine struct {
	AdSystem    string        `xml:"AdSystem"`
	AdTitle     string        `xml:"AdTitle"`
	Impressions []string      `xml:"Impression"`
	Errors      []string      `xml:"Error"`
	Creatives   []xmlCreative `xml:"Creatives>Creative"`
}

type xmlWrapper struct {
	FollowAdditionalWrappers string        `xml:"followAdditionalWrappers,attr"`
	AllowMultipleAds         string        `xml:"allowMultipleAds,attr"`
	FallbackOnNoAd           string        `xml:"fallbackOnNoAd,attr"`
	AdSystem                 string        `xml:"AdSystem"`
	VASTAdTagURI             string        `xml:"VASTAdTagURI"`
	Impressions              []string      `xml:"Impression"`
	Errors                   []string      `xml:"Error"`
	Creatives                []xmlCreative `xml:"Creatives>Creative"`
}

type xmlCreative struct {
	ID         string         `xml:"id,attr"`
	AdID       string         `xml:"adId,attr"`
	Duration   string         `xml:"Linear>Duration"`
	MediaFiles []xmlMediaFile `xml:"Linear>MediaFiles>MediaFile"`
}

type xmlMediaFile struct {
	Delivery string `xml:"delivery,attr"`
	Type     string `xml:"type,attr"`
	Width    string `xml:"width,attr"`
	Height   string `xml:"height,attr"`
	URI      string `xml:",chardata"`
}

func (p *XMLParser) Parse(r io.Reader, uri string, origin vast.Origin) (*vast.Document, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var raw xmlVAST
	if err := dec.Decode(&raw); err != nil {
		var unexpected xml.UnmarshalError
		if errors.As(err, &unexpected) && strings.Contains(string(unexpected), "expected element type <VAST>") {
			return nil, ErrNotVAST
		}
		return nil, fmt.Errorf("parse vast: %w", err)
	}

	ads := make([]vast.Ad, 0, len(raw.Ads))
	for i, a := range raw.Ads {
		ad, err := convertAd(a)
		if err != nil {
			return nil, fmt.Errorf("ad %d: %w", i, err)
		}
		ads = append(ads, ad)
	}

	doc := vast.NewDocument(uri, strings.TrimSpace(raw.Version), ads, origin)
	doc.Errors = trimAll(raw.Errors)
	return doc, nil
}

func convertAd(a xmlAd) (vast.Ad, error) {
	seq := 0
	if s := strings.TrimSpace(a.Sequence); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("invalid sequence %q", a.Sequence)
		}
		seq = n
	}

	switch {
	case a.InLine != nil:
		in := vast.NewInLine(a.ID, seq, strings.TrimSpace(a.InLine.AdSystem), strings.TrimSpace(a.InLine.AdTitle))
		in.Impressions = trimAll(a.InLine.Impressions)
		in.Errors = trimAll(a.InLine.Errors)
		in.Creatives = convertCreatives(a.InLine.Creatives)
		return in, nil
	case a.Wrapper != nil:
		tagURI := strings.TrimSpace(a.Wrapper.VASTAdTagURI)
		if tagURI == "" {
			return nil, errors.New("wrapper without VASTAdTagURI")
		}
		w := vast.NewWrapper(a.ID, seq, strings.TrimSpace(a.Wrapper.AdSystem), tagURI)
		w.FollowAdditionalWrappers = parseBool(a.Wrapper.FollowAdditionalWrappers, true)
		w.AllowMultipleAds = parseBool(a.Wrapper.AllowMultipleAds, false)
		w.FallbackOnNoAd = parseBool(a.Wrapper.FallbackOnNoAd, false)
		w.Impressions = trimAll(a.Wrapper.Impressions)
		w.Errors = trimAll(a.Wrapper.Errors)
		w.Creatives = convertCreatives(a.Wrapper.Creatives)
		return w, nil
	default:
		return nil, errors.New("ad has neither InLine nor Wrapper")
	}
}

func convertCreatives(in []xmlCreative) []vast.Creative {
	if len(in) == 0 {
		return nil
	}
	out := make([]vast.Creative, 0, len(in))
	for _, c := range in {
		cr := vast.Creative{
			ID:       c.ID,
			AdID:     c.AdID,
			Duration: strings.TrimSpace(c.Duration),
		}
		for _, mf := range c.MediaFiles {
			w, _ := strconv.Atoi(strings.TrimSpace(mf.Width))
			h, _ := strconv.Atoi(strings.TrimSpace(mf.Height))
			cr.MediaFiles = append(cr.MediaFiles, vast.MediaFile{
				URI:      strings.TrimSpace(mf.URI),
				Type:     mf.Type,
				Delivery: mf.Delivery,
				Width:    w,
				Height:   h,
			})
		}
		out = append(out, cr)
	}
	return out
}

func parseBool(v string, fallback bool) bool {
	if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
		return b
	}
	return fallback
}

func trimAll(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
