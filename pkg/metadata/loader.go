package metadata

import (
	"fmt"
	"path/filepath"

	"github.com/beevik/etree"
)

// Loader binds an acquisition directory to its scan descriptor. A
// directory may hold several XML files; the descriptor is the first one
// whose tree contains a Sequence element.
type Loader struct {
	dir     string
	xmlPath string
	doc     *etree.Document
	meta    *ScanMetadata
}

// NewLoader locates and parses the scan descriptor in dir. It returns
// ErrDescriptorNotFound when no XML file in dir carries scan metadata.
func NewLoader(dir string) (*Loader, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.xml"))
	if err != nil {
		return nil, err
	}
	for _, path := range matches {
		doc := etree.NewDocument()
		if err := doc.ReadFromFile(path); err != nil {
			// Not every XML file in an acquisition directory is
			// well-formed scan metadata; keep looking.
			continue
		}
		if doc.FindElement("//Sequence") != nil {
			return &Loader{dir: dir, xmlPath: path, doc: doc}, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", dir, ErrDescriptorNotFound)
}

// Meta extracts the scan metadata. The record is computed on first use and
// cached for the lifetime of the loader; it is never mutated afterwards.
func (l *Loader) Meta() (*ScanMetadata, error) {
	if l.meta == nil {
		m, err := Extract(l.doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", l.xmlPath, err)
		}
		l.meta = m
	}
	return l.meta, nil
}

// Dir returns the acquisition directory.
func (l *Loader) Dir() string {
	return l.dir
}

// XMLPath returns the path of the descriptor file.
func (l *Loader) XMLPath() string {
	return l.xmlPath
}

// Document returns the parsed descriptor tree. The tree is read-only
// shared state; callers must not modify it.
func (l *Loader) Document() *etree.Document {
	return l.doc
}
