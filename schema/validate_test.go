package schema_test

import (
	"strings"
	"testing"

	"github.com/pthm/strata/schema"
)

func TestValidate(t *testing.T) {
	base := func() schema.TypeDescriptor {
		return schema.TypeDescriptor{
			ID:    1,
			Name:  "A",
			Table: "a",
			Fields: []schema.FieldDescriptor{
				{Name: "code", Type: schema.FieldText, Unique: true},
			},
		}
	}

	tests := []struct {
		name     string
		types    func() []schema.TypeDescriptor
		links    []schema.LinkSpec
		identity string
		wantErr  string
	}{
		{
			name:  "valid",
			types: func() []schema.TypeDescriptor { return []schema.TypeDescriptor{base()} },
		},
		{
			name: "duplicate id",
			types: func() []schema.TypeDescriptor {
				b := base()
				b.Name, b.Table = "B", "b"
				return []schema.TypeDescriptor{base(), b}
			},
			wantErr: "duplicate id",
		},
		{
			name: "reserved prefix",
			types: func() []schema.TypeDescriptor {
				a := base()
				a.Fields = append(a.Fields, schema.FieldDescriptor{Name: "repo_id", Type: schema.FieldNumeric})
				return []schema.TypeDescriptor{a}
			},
			wantErr: "reserved prefix",
		},
		{
			name: "config table without unique column",
			types: func() []schema.TypeDescriptor {
				a := base()
				a.ConfigTable = true
				return []schema.TypeDescriptor{a}
			},
			wantErr: "needs a unique column",
		},
		{
			name: "bounded cache without capacity",
			types: func() []schema.TypeDescriptor {
				a := base()
				a.Cache = schema.CachePolicy{Policy: schema.CacheBounded}
				return []schema.TypeDescriptor{a}
			},
			wantErr: "positive capacity",
		},
		{
			name:    "link to unknown type",
			types:   func() []schema.TypeDescriptor { return []schema.TypeDescriptor{base()} },
			links:   []schema.LinkSpec{{Name: "l", From: "A", To: "Z", Table: "l", FromColumn: "a", ToColumn: "z"}},
			wantErr: `unknown type "Z"`,
		},
		{
			name: "delegation without identity",
			types: func() []schema.TypeDescriptor {
				a := base()
				a.Delegation = &schema.Delegation{Link: "self"}
				return []schema.TypeDescriptor{a}
			},
			links:   []schema.LinkSpec{{Name: "self", From: "A", To: "A", Table: "l", FromColumn: "a", ToColumn: "b"}},
			wantErr: "requires an identity type",
		},
		{
			name: "unique geometry",
			types: func() []schema.TypeDescriptor {
				a := base()
				a.Fields = append(a.Fields, schema.FieldDescriptor{Name: "g", Type: schema.FieldGeometry, Unique: true})
				return []schema.TypeDescriptor{a}
			},
			wantErr: "cannot be unique",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(tt.types(), tt.links, tt.identity)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !schema.IsInvalidCatalogErr(err) {
				t.Errorf("error does not wrap ErrInvalidCatalog: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
