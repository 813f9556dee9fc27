package display

import (
	"fmt"

	"github.com/NeowayLabs/kms/mode"
)

const maxProps = 64

// propID is implemented by the closed property enumerations.
type propID interface {
	~int
	String() string
}

// props is the per object property store: kernel property ids, cached
// values and a dirty mask, all indexed by the property enumeration. A
// kernel id of 0 means the property is not supported by the object.
type props[P propID] struct {
	d       *Display
	objID   uint32
	objType uint32

	ids     [maxProps]uint32
	values  [maxProps]uint64
	changed uint64
}

func (o *props[P]) bind(d *Display, objID, objType uint32) {
	o.d = d
	o.objID = objID
	o.objType = objType
}

// fill resolves the kernel ids of every property named in names. The
// current kernel value seeds the cache the first time a property is seen,
// later fills keep pending values. Unknown kernel properties are passed
// to extra.
func (o *props[P]) fill(names []string, extra func(name string, id uint32, value uint64)) error {
	list, err := o.d.dev.ObjectProperties(o.objID, o.objType)
	if err != nil {
		return err
	}
	for i, id := range list.Props {
		info, err := o.d.property(id)
		if err != nil {
			return err
		}
		found := false
		for j, name := range names {
			if name == info.Name {
				if o.ids[j] == 0 {
					o.values[j] = list.Values[i]
				}
				o.ids[j] = id
				found = true
				break
			}
		}
		if !found && extra != nil {
			extra(info.Name, id, list.Values[i])
		}
	}
	return nil
}

// HasProp reports whether the kernel advertised the property.
func (o *props[P]) HasProp(p P) bool {
	return o.ids[p] != 0
}

// PropID returns the kernel id of the property, 0 when unsupported.
func (o *props[P]) PropID(p P) uint32 {
	return o.ids[p]
}

// PropValue returns the cached value, which may not be committed yet.
func (o *props[P]) PropValue(p P) uint64 {
	return o.values[p]
}

// SetProp overwrites the cached value and marks the property dirty.
func (o *props[P]) SetProp(p P, value uint64) {
	o.values[p] = value
	o.changed |= 1 << uint(p)
}

// update marks the property dirty only when value differs from the cached
// one.
func (o *props[P]) update(p P, value uint64) {
	if o.values[p] == value {
		return
	}
	o.SetProp(p, value)
}

func (o *props[P]) PropChanged(p P) bool {
	return o.changed&(1<<uint(p)) != 0
}

func (o *props[P]) SetPropChanged(p P) {
	o.changed |= 1 << uint(p)
}

func (o *props[P]) ClearPropChanged(p P) {
	o.changed &^= 1 << uint(p)
}

// Changed returns the dirty mask, one bit per property index.
func (o *props[P]) Changed() uint64 {
	return o.changed
}

// Prop reads the current value of the property from the kernel. The
// cache is not consulted.
func (o *props[P]) Prop(p P) (uint64, error) {
	if !o.HasProp(p) {
		return 0, fmt.Errorf("%s: %w", p, ErrNoProperty)
	}
	list, err := o.d.dev.ObjectProperties(o.objID, o.objType)
	if err != nil {
		return 0, err
	}
	v, ok := list.Lookup(o.ids[p])
	if !ok {
		return 0, fmt.Errorf("%s on object %d: %w", p, o.objID, ErrNoProperty)
	}
	return v, nil
}

// PropInfo returns the kernel description of the property.
func (o *props[P]) PropInfo(p P) (*mode.Property, error) {
	if !o.HasProp(p) {
		return nil, fmt.Errorf("%s: %w", p, ErrNoProperty)
	}
	return o.d.property(o.ids[p])
}

// TryPropEnum sets an enum property by entry name. It returns false when
// the property or the entry is missing.
func (o *props[P]) TryPropEnum(p P, name string) bool {
	info, err := o.PropInfo(p)
	if err != nil {
		return false
	}
	v, ok := info.EnumValue(name)
	if !ok {
		return false
	}
	o.SetProp(p, v)
	return true
}

// updateEnum is TryPropEnum marking the property dirty only on change.
func (o *props[P]) updateEnum(p P, name string) bool {
	info, err := o.PropInfo(p)
	if err != nil {
		return false
	}
	v, ok := info.EnumValue(name)
	if ok {
		o.update(p, v)
	}
	return ok
}

func (o *props[P]) SetPropEnum(p P, name string) error {
	if !o.TryPropEnum(p, name) {
		return fmt.Errorf("%s = %q: %w", p, name, ErrNoProperty)
	}
	return nil
}

// PropRange returns the bounds of a range property.
func (o *props[P]) PropRange(p P) (uint64, uint64, error) {
	info, err := o.PropInfo(p)
	if err != nil {
		return 0, 0, err
	}
	if (!info.IsType(mode.PropRange) && !info.IsType(mode.PropSignedRange)) || len(info.Values) < 2 {
		return 0, 0, fmt.Errorf("%s is not a range: %w", p, ErrNoProperty)
	}
	return info.Values[0], info.Values[1], nil
}

// ReplacePropBlob destroys the blob currently referenced by the property
// and points it at a new blob holding data, or at no blob when data is
// empty.
func (o *props[P]) ReplacePropBlob(p P, data []byte) error {
	if old := uint32(o.values[p]); old != 0 {
		if err := o.d.dev.DestroyPropertyBlob(old); err != nil {
			return err
		}
	}
	var id uint32
	if len(data) > 0 {
		var err error
		id, err = o.d.dev.CreatePropertyBlob(data)
		if err != nil {
			o.SetProp(p, 0)
			return err
		}
	}
	o.SetProp(p, uint64(id))
	return nil
}

// setKernel issues a legacy SetProperty on the object.
func (o *props[P]) setKernel(p P) error {
	return o.d.dev.SetObjectProperty(o.objID, o.objType, o.ids[p], o.values[p])
}

// addAtomic queues every dirty property into req.
func (o *props[P]) addAtomic(req *mode.AtomicRequest, n P) error {
	for p := P(0); p < n; p++ {
		if !o.PropChanged(p) {
			continue
		}
		if !o.HasProp(p) {
			return fmt.Errorf("object %d: %s: %w", o.objID, p, ErrNoProperty)
		}
		o.d.log.Debug().Uint32("object", o.objID).Stringer("prop", p).
			Uint64("value", o.values[p]).Msg("atomic property")
		req.AddProperty(o.objID, o.ids[p], o.values[p])
	}
	return nil
}
