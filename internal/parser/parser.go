package parser

import (
	"io"

	"github.com/dgallion1/vastchain/internal/vast"
)

// Parser converts a fetched body into a VAST document. The origin is bound
// into the document at construction.
type Parser interface {
	Parse(r io.Reader, uri string, origin vast.Origin) (*vast.Document, error)
}

// Func adapts a function to the Parser interface.
type Func func(r io.Reader, uri string, origin vast.Origin) (*vast.Document, error)

func (f Func) Parse(r io.Reader, uri string, origin vast.Origin) (*vast.Document, error) {
	return f(r, uri, origin)
}

// Default returns the XML parser.
func Default() Parser {
	return &XMLParser{}
}
