package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks type and link declarations for consistency. All problems
// are reported together, each wrapped with ErrInvalidCatalog.
func Validate(types []TypeDescriptor, links []LinkSpec, identity string) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidCatalog, fmt.Sprintf(format, args...)))
	}

	ids := make(map[TypeID]string, len(types))
	names := make(map[string]*TypeDescriptor, len(types))
	tables := make(map[string]string, len(types))
	for i := range types {
		td := &types[i]
		if td.ID <= 0 {
			add("type %q: id must be positive", td.Name)
		}
		if prev, ok := ids[td.ID]; ok {
			add("type %q: duplicate id %d (also %q)", td.Name, td.ID, prev)
		}
		ids[td.ID] = td.Name
		if td.Name == "" {
			add("type %d: missing name", td.ID)
		}
		if _, ok := names[td.Name]; ok {
			add("duplicate type name %q", td.Name)
		}
		names[td.Name] = td
		if td.Table == "" {
			add("type %q: missing table", td.Name)
		}
		tk := strings.ToLower(td.Schema + "." + td.Table)
		if prev, ok := tables[tk]; ok {
			add("type %q: table %s already used by %q", td.Name, td.QualifiedTable(), prev)
		}
		tables[tk] = td.Name
		errs = append(errs, validateFields(td)...)
		if td.Cache.Policy == CacheBounded && td.Cache.Capacity <= 0 {
			add("type %q: bounded cache needs a positive capacity", td.Name)
		}
		if td.ConfigTable {
			if td.UniqueColumn == "" {
				add("type %q: config table needs a unique column", td.Name)
			} else if f, ok := td.Field(td.UniqueColumn); !ok {
				add("type %q: unique column %q is not a field", td.Name, td.UniqueColumn)
			} else if !f.Unique {
				add("type %q: unique column %q is not marked unique", td.Name, td.UniqueColumn)
			}
		}
	}

	linkNames := make(map[string]bool, len(links))
	for _, ls := range links {
		if ls.Name == "" || ls.Table == "" || ls.FromColumn == "" || ls.ToColumn == "" {
			add("link %q: name, table and columns are required", ls.Name)
		}
		if _, ok := names[ls.From]; !ok {
			add("link %q: unknown type %q", ls.Name, ls.From)
		}
		if _, ok := names[ls.To]; !ok {
			add("link %q: unknown type %q", ls.Name, ls.To)
		}
		linkNames[ls.Name] = true
	}

	for i := range types {
		td := &types[i]
		if ref := td.ConfigRef; ref != nil {
			cfg, ok := names[ref.Type]
			switch {
			case !ok:
				add("type %q: config reference to unknown type %q", td.Name, ref.Type)
			case !cfg.ConfigTable:
				add("type %q: config reference target %q is not a config table", td.Name, ref.Type)
			default:
				if _, ok := td.Field(ref.Field); !ok {
					add("type %q: config reference field %q is not a field", td.Name, ref.Field)
				}
			}
		}
		if d := td.Delegation; d != nil && !linkNames[d.Link] {
			add("type %q: delegation link %q is not declared", td.Name, d.Link)
		}
		if td.Delegation != nil && identity == "" {
			add("type %q: delegation requires an identity type", td.Name)
		}
	}
	if identity != "" {
		if _, ok := names[identity]; !ok {
			add("identity type %q is not declared", identity)
		}
	}
	return errors.Join(errs...)
}

func validateFields(td *TypeDescriptor) []error {
	var errs []error
	seen := make(map[string]bool, len(td.Fields))
	for _, f := range td.Fields {
		switch {
		case f.Name == "":
			errs = append(errs, fmt.Errorf("%w: type %q: field without name", ErrInvalidCatalog, td.Name))
			continue
		case strings.HasPrefix(strings.ToLower(f.Name), ReservedPrefix):
			errs = append(errs, fmt.Errorf("%w: type %q: field %q uses reserved prefix %q", ErrInvalidCatalog, td.Name, f.Name, ReservedPrefix))
		case seen[f.Name]:
			errs = append(errs, fmt.Errorf("%w: type %q: duplicate field %q", ErrInvalidCatalog, td.Name, f.Name))
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			errs = append(errs, fmt.Errorf("%w: type %q: field %q has invalid type", ErrInvalidCatalog, td.Name, f.Name))
		}
		if f.Scale < 0 || f.Size < 0 {
			errs = append(errs, fmt.Errorf("%w: type %q: field %q has negative size or scale", ErrInvalidCatalog, td.Name, f.Name))
		}
		if f.Unique && (f.Type == FieldGeometry || f.Type == FieldBlob || f.Type == FieldMultiText) {
			errs = append(errs, fmt.Errorf("%w: type %q: field %q of type %s cannot be unique", ErrInvalidCatalog, td.Name, f.Name, f.Type))
		}
	}
	return errs
}
