package radius

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrBadDictionary indicates a dictionary file entry with a missing name,
// a zero type code, or a zero vendor ID.
var ErrBadDictionary = errors.New("invalid dictionary entry")

// dictFile is the YAML dictionary layout:
//
//	attributes:
//	  - {name: Filter-Id, type: 11, kind: string}
//	vendors:
//	  - name: Cisco
//	    id: 9
//	    attributes:
//	      - {name: Cisco-AVPair, type: 1, kind: string}
type dictFile struct {
	Attributes []dictAttr   `yaml:"attributes"`
	Vendors    []dictVendor `yaml:"vendors"`
}

type dictAttr struct {
	Name string `yaml:"name"`
	Type uint8  `yaml:"type"`
	Kind string `yaml:"kind"`
}

type dictVendor struct {
	Name       string     `yaml:"name"`
	ID         uint32     `yaml:"id"`
	Attributes []dictAttr `yaml:"attributes"`
}

// LoadFile merges a YAML dictionary file into d. Entries already present
// are replaced (last load wins). Call before the dictionary is shared
// with codecs; loading does not synchronize with lookups.
func (d *Dictionary) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load dictionary: %w", err)
	}

	if err := d.loadYAML(raw); err != nil {
		return fmt.Errorf("load dictionary %s: %w", path, err)
	}

	return nil
}

// loadYAML parses and merges one dictionary document.
func (d *Dictionary) loadYAML(raw []byte) error {
	var f dictFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}

	for _, a := range f.Attributes {
		e, err := entryFromFile(a, 0)
		if err != nil {
			return err
		}
		d.Add(e)
	}

	for _, v := range f.Vendors {
		if v.ID == 0 {
			return fmt.Errorf("vendor %q: zero vendor id: %w", v.Name, ErrBadDictionary)
		}
		for _, a := range v.Attributes {
			e, err := entryFromFile(a, v.ID)
			if err != nil {
				return fmt.Errorf("vendor %q: %w", v.Name, err)
			}
			d.Add(e)
		}
	}

	return nil
}

// entryFromFile validates and converts one file attribute.
func entryFromFile(a dictAttr, vendorID uint32) (Entry, error) {
	if a.Name == "" {
		return Entry{}, fmt.Errorf("attribute %d: empty name: %w", a.Type, ErrBadDictionary)
	}
	if a.Type == 0 {
		return Entry{}, fmt.Errorf("attribute %q: zero type code: %w", a.Name, ErrBadDictionary)
	}

	kind, err := parseKind(a.Kind)
	if err != nil {
		return Entry{}, fmt.Errorf("attribute %q: %w", a.Name, err)
	}

	return Entry{
		Type:     a.Type,
		VendorID: vendorID,
		Name:     a.Name,
		Kind:     kind,
	}, nil
}
