package mode

import (
	"fmt"
	"os"
	"sort"
	"unsafe"

	"github.com/NeowayLabs/kms"
	"github.com/NeowayLabs/kms/ioctl"
)

// Page flip and atomic commit flags.
const (
	PageFlipEvent = 0x01
	PageFlipAsync = 0x02

	AtomicTestOnly     = 0x0100
	AtomicNonblock     = 0x0200
	AtomicAllowModeset = 0x0400

	AtomicFlagsSupported = PageFlipEvent | PageFlipAsync | AtomicTestOnly |
		AtomicNonblock | AtomicAllowModeset
)

type (
	sysAtomic struct {
		flags         uint32
		countObjs     uint32
		objsPtr       uintptr
		countPropsPtr uintptr
		propsPtr      uintptr
		propValuesPtr uintptr
		reserved      uint64
		userData      uint64
	}

	AtomicItem struct {
		Object   uint32
		Property uint32
		Value    uint64
	}

	// AtomicRequest accumulates property updates for one atomic commit.
	// The zero value is ready to use.
	AtomicRequest struct {
		items []AtomicItem
	}
)

var (
	// DRM_IOWR(0xBC, struct drm_mode_atomic)
	IOCTLModeAtomic = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(sysAtomic{})), kms.IOCTLBase, 0xBC)
)

// AddProperty queues one update and returns the number of queued items.
func (r *AtomicRequest) AddProperty(object, property uint32, value uint64) int {
	r.items = append(r.items, AtomicItem{Object: object, Property: property, Value: value})
	return len(r.items)
}

func (r *AtomicRequest) Len() int {
	return len(r.items)
}

// Items returns the queued updates sorted by object then property, with
// only the last value kept for repeated (object, property) pairs.
func (r *AtomicRequest) Items() []AtomicItem {
	sorted := append([]AtomicItem(nil), r.items...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Object != sorted[j].Object {
			return sorted[i].Object < sorted[j].Object
		}
		return sorted[i].Property < sorted[j].Property
	})

	out := sorted[:0]
	for _, it := range sorted {
		n := len(out)
		if n > 0 && out[n-1].Object == it.Object && out[n-1].Property == it.Property {
			out[n-1] = it
			continue
		}
		out = append(out, it)
	}
	return out
}

// Commit submits the request in a single ATOMIC ioctl. userData comes
// back in the completion event when PageFlipEvent is set.
func (r *AtomicRequest) Commit(file *os.File, flags uint32, userData uint64) error {
	items := r.Items()

	var (
		objs, counts, props []uint32
		values              []uint64
	)
	for _, it := range items {
		n := len(objs)
		if n == 0 || objs[n-1] != it.Object {
			objs = append(objs, it.Object)
			counts = append(counts, 0)
			n++
		}
		counts[n-1]++
		props = append(props, it.Property)
		values = append(values, it.Value)
	}

	req := &sysAtomic{
		flags:     flags,
		countObjs: uint32(len(objs)),
		userData:  userData,
	}
	if len(objs) > 0 {
		req.objsPtr = uintptr(unsafe.Pointer(&objs[0]))
		req.countPropsPtr = uintptr(unsafe.Pointer(&counts[0]))
		req.propsPtr = uintptr(unsafe.Pointer(&props[0]))
		req.propValuesPtr = uintptr(unsafe.Pointer(&values[0]))
	}

	err := ioctl.Do(file.Fd(), uintptr(IOCTLModeAtomic), uintptr(unsafe.Pointer(req)))
	if err != nil {
		return fmt.Errorf("MODE_ATOMIC flags 0x%x: %w", flags, err)
	}
	return nil
}
