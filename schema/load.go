package schema

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Document is the YAML bootstrap form of a catalog.
type Document struct {
	Identity string           `json:"identity,omitempty"`
	Types    []TypeDescriptor `json:"types"`
	Links    []LinkSpec       `json:"links,omitempty"`
}

// Load parses a YAML catalog document and builds a Catalog.
func Load(data []byte) (*Catalog, error) {
	var doc Document
	if err := yaml.UnmarshalStrict(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return doc.Builder().Build()
}

// LoadFile reads and loads a catalog document from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	return Load(data)
}

// Builder returns a Builder seeded with the document's declarations.
func (d *Document) Builder() *Builder {
	b := NewBuilder().Identity(d.Identity)
	for _, td := range d.Types {
		b.Type(td)
	}
	for _, ls := range d.Links {
		b.Link(ls)
	}
	return b
}

// Document renders the catalog back into its bootstrap form.
func (c *Catalog) Document() Document {
	doc := Document{}
	if td, ok := c.byID[c.identity]; ok {
		doc.Identity = td.Name
	}
	for _, td := range c.Types() {
		cp := *td
		cp.fieldIndex = nil
		doc.Types = append(doc.Types, cp)
	}
	for _, lt := range c.linkList {
		doc.Links = append(doc.Links, LinkSpec{
			Name:       lt.Name,
			From:       c.byID[lt.From].Name,
			To:         c.byID[lt.To].Name,
			Schema:     lt.Schema,
			Table:      lt.Table,
			FromColumn: lt.FromColumn,
			ToColumn:   lt.ToColumn,
		})
	}
	return doc
}
