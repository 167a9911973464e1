// Package locator maps logical page fields to ordered selector alternatives.
//
// Every element the flow touches is named by a field. A scoped field is only
// ever resolved inside a container element (an offer card), never against
// the whole page, so one offer's price cannot be read from another.
package locator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/dropcart/internal/driver"
)

// Field is one logical element with its selector alternatives in priority
// order.
type Field struct {
	Name      string
	Selectors []string
	Scoped    bool
}

// Group joins the alternatives into one CSS selector group.
func (f Field) Group() string {
	return strings.Join(f.Selectors, ", ")
}

var (
	// ErrUnknownField is returned for names missing from the map.
	ErrUnknownField = errors.New("unknown locator field")

	// ErrUnscoped is returned when a scoped field is resolved without a
	// container.
	ErrUnscoped = errors.New("scoped field resolved without a container")
)

// Map is an immutable set of fields.
type Map struct {
	fields map[string]Field
}

// New builds a map, rejecting duplicate names and fields without selectors.
func New(fields ...Field) (*Map, error) {
	m := &Map{fields: make(map[string]Field, len(fields))}
	for _, f := range fields {
		if f.Name == "" {
			return nil, fmt.Errorf("field without a name")
		}
		if _, dup := m.fields[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		if len(f.Selectors) == 0 {
			return nil, fmt.Errorf("field %q has no selectors", f.Name)
		}
		for i, s := range f.Selectors {
			if strings.TrimSpace(s) == "" {
				return nil, fmt.Errorf("field %q selector %d is empty", f.Name, i)
			}
		}
		sels := make([]string, len(f.Selectors))
		copy(sels, f.Selectors)
		f.Selectors = sels
		m.fields[f.Name] = f
	}
	return m, nil
}

// Field returns the named field.
func (m *Map) Field(name string) (Field, error) {
	f, ok := m.fields[name]
	if !ok {
		return Field{}, fmt.Errorf("%w: %q", ErrUnknownField, name)
	}
	return f, nil
}

// Names returns field names in sorted order.
func (m *Map) Names() []string {
	names := make([]string, 0, len(m.fields))
	for name := range m.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Override returns a copy of m with the given fields replaced. Fields must
// already exist in m.
func (m *Map) Override(fields ...Field) (*Map, error) {
	out := &Map{fields: make(map[string]Field, len(m.fields))}
	for k, v := range m.fields {
		out.fields[k] = v
	}
	for _, f := range fields {
		if _, ok := m.fields[f.Name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, f.Name)
		}
		if len(f.Selectors) == 0 {
			return nil, fmt.Errorf("field %q has no selectors", f.Name)
		}
		out.fields[f.Name] = f
	}
	return out, nil
}

// Find resolves a field to elements, trying alternatives in order and
// returning the first non-empty match. Scoped fields require scope.
func (m *Map) Find(ctx context.Context, d driver.Driver, name string, scope driver.Element) ([]driver.Element, error) {
	f, err := m.Field(name)
	if err != nil {
		return nil, err
	}
	if f.Scoped && scope == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnscoped, name)
	}
	for _, sel := range f.Selectors {
		els, err := d.Locate(ctx, sel, scope)
		if err != nil {
			return nil, err
		}
		if len(els) > 0 {
			return els, nil
		}
	}
	return nil, driver.Wrap("find "+name, f.Group(), driver.ErrNotFound)
}

// First resolves a field to its first element.
func (m *Map) First(ctx context.Context, d driver.Driver, name string, scope driver.Element) (driver.Element, error) {
	els, err := m.Find(ctx, d, name, scope)
	if err != nil {
		return nil, err
	}
	return els[0], nil
}

// Present reports whether any alternative matches. Only ErrNotFound is
// folded into false.
func (m *Map) Present(ctx context.Context, d driver.Driver, name string, scope driver.Element) (bool, error) {
	_, err := m.Find(ctx, d, name, scope)
	if errors.Is(err, driver.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Text reads the trimmed text of the field's first element.
func (m *Map) Text(ctx context.Context, d driver.Driver, name string, scope driver.Element) (string, error) {
	el, err := m.First(ctx, d, name, scope)
	if err != nil {
		return "", err
	}
	text, err := d.ReadText(ctx, el)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Click clicks the field's first element.
func (m *Map) Click(ctx context.Context, d driver.Driver, name string, scope driver.Element) error {
	el, err := m.First(ctx, d, name, scope)
	if err != nil {
		return err
	}
	return d.Click(ctx, el)
}

// WaitVisible waits until any alternative of an unscoped field is visible.
func (m *Map) WaitVisible(ctx context.Context, d driver.Driver, name string, timeout time.Duration) error {
	f, err := m.pageField(name)
	if err != nil {
		return err
	}
	return d.WaitVisible(ctx, f.Group(), timeout)
}

// WaitHidden waits until no alternative of an unscoped field is visible.
func (m *Map) WaitHidden(ctx context.Context, d driver.Driver, name string, timeout time.Duration) error {
	f, err := m.pageField(name)
	if err != nil {
		return err
	}
	return d.WaitHidden(ctx, f.Group(), timeout)
}

func (m *Map) pageField(name string) (Field, error) {
	f, err := m.Field(name)
	if err != nil {
		return Field{}, err
	}
	if f.Scoped {
		return Field{}, fmt.Errorf("cannot wait on scoped field %q", name)
	}
	return f, nil
}
