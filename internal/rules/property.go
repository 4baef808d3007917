package rules

import (
	"fmt"
	"strings"
)

// Property type markers accepted by NewProperty.
const (
	TypeText     = "text"
	TypeInteger  = "integer"
	TypeDecimal  = "decimal"
	TypeBoolean  = "boolean"
	TypeDateTime = "datetime"
	TypeEnum     = "enum"
	TypeJSON     = "json"
)

var propertyTypes = map[string]bool{
	TypeText:     true,
	TypeInteger:  true,
	TypeDecimal:  true,
	TypeBoolean:  true,
	TypeDateTime: true,
	TypeEnum:     true,
	TypeJSON:     true,
}

// Property is the identity of one model property. Rules and value stores share
// the same *Property, so two models with a property of the same name never
// mix their rules up.
type Property struct {
	name     string
	typ      string
	key      bool
	parent   bool
	readOnly bool
	hidden   bool
}

// PropertyOption sets a flag on a Property during construction.
type PropertyOption func(*Property)

// AsKey marks the property as the model's primary key.
func AsKey() PropertyOption { return func(p *Property) { p.key = true } }

// AsParentKey marks the property as the key of the owning parent.
func AsParentKey() PropertyOption { return func(p *Property) { p.parent = true } }

// AsReadOnly makes the property unwritable through SetValue.
func AsReadOnly() PropertyOption { return func(p *Property) { p.readOnly = true } }

// AsHidden keeps the property out of transfer objects.
func AsHidden() PropertyOption { return func(p *Property) { p.hidden = true } }

// NewProperty creates a property identity. An empty type means text.
func NewProperty(name, typ string, opts ...PropertyOption) (*Property, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ArgumentError{Param: "name", Reason: "property name must not be empty"}
	}
	if typ == "" {
		typ = TypeText
	}
	if !propertyTypes[typ] {
		return nil, &ArgumentError{Param: "type", Reason: fmt.Sprintf("unknown property type %q for %s", typ, name)}
	}
	p := &Property{name: name, typ: typ}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func (p *Property) Name() string      { return p.name }
func (p *Property) Type() string      { return p.typ }
func (p *Property) IsKey() bool       { return p.key }
func (p *Property) IsParentKey() bool { return p.parent }
func (p *Property) IsReadOnly() bool  { return p.readOnly }

// IsVisible reports whether the property travels in transfer objects.
func (p *Property) IsVisible() bool { return !p.hidden }

func (p *Property) String() string { return p.name }
