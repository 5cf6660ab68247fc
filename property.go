package iff

import (
	"fmt"

	"github.com/Urethramancer/iff/internal/propcodec"
)

// SetProperty appends a property to c: a Folder child holding a Prop leaf
// with name and a Value leaf with the CBOR encoding of value.
func (c *Chunk) SetProperty(name string, value any) error {
	data, err := propcodec.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode property %q: %w", name, err)
	}
	folder := c.AddChild(Folder)
	folder.AddChildData(Prop, []byte(name))
	folder.AddChildData(Value, data)
	return nil
}

// Property decodes the first property of c called name into v. The
// property chunks must be loaded.
func (c *Chunk) Property(name string, v any) error {
	for _, child := range c.Children() {
		if child.id != Folder {
			continue
		}
		prop, value := child.Find(Prop), child.Find(Value)
		if prop == nil || value == nil {
			continue
		}
		if !prop.Loaded() || !value.Loaded() {
			return fmt.Errorf("property %q: %w", name, ErrNotLoaded)
		}
		if string(prop.Data()) != name {
			continue
		}
		if err := propcodec.Unmarshal(value.Data(), v); err != nil {
			return fmt.Errorf("decode property %q: %w", name, err)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrNoProperty, name)
}
