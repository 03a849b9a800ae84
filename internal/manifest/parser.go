package manifest

import (
	"encoding/xml"
	"io"
	"strings"

	"github.com/datallboy/manifetch/internal/domain"
)

// document mirrors the manifest XML. The root element name varies between
// releases, so only the repeated File records are matched.
type document struct {
	Files []record `xml:"File"`
}

type record struct {
	Path     string `xml:"Path"`
	Download string `xml:"Download"`
	Hash     string `xml:"Hash"`
	Size     int64  `xml:"Size"`
}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes a manifest document. Records with missing fields are kept
// as-is; the scheduler rejects them when it reaches them.
func (p *Parser) Parse(r io.Reader, source string) (*domain.Manifest, error) {
	var doc document
	decoder := xml.NewDecoder(r)
	if err := decoder.Decode(&doc); err != nil {
		return nil, &domain.ManifestError{Index: -1, Err: err}
	}

	m := &domain.Manifest{Source: source, Files: make([]domain.FileDescriptor, 0, len(doc.Files))}
	for _, rec := range doc.Files {
		m.Files = append(m.Files, domain.FileDescriptor{
			Path: strings.TrimSpace(rec.Path),
			URL:  strings.TrimSpace(rec.Download),
			Hash: strings.ToLower(strings.TrimSpace(rec.Hash)),
			Size: rec.Size,
		})
	}
	return m, nil
}
