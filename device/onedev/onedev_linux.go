// Package onedev implements device.Device on top of the One character
// device using ioctl(2).
package onedev

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/device"
)

// DefaultPath is where the driver registers its character device.
const DefaultPath = "/dev/one0"

// Device is an open handle to the One character device.
type Device struct {
	fd   int
	path string
}

var _ device.Device = (*Device)(nil)

// Opener returns a device.Opener for the character device at path. An
// empty path selects DefaultPath.
func Opener(path string) device.Opener {
	if path == "" {
		path = DefaultPath
	}
	return device.OpenerFunc(func() (device.Device, error) {
		return Open(path)
	})
}

// Open opens the character device at path.
func Open(path string) (*Device, error) {
	var fd int
	var err error
	for {
		fd, err = unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Device{fd: fd, path: path}, nil
}

// Path returns the path the device was opened from.
func (d *Device) Path() string {
	return d.path
}

func (d *Device) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (d *Device) Create(flags device.QueueFlags, requested one.QID) (one.QID, error) {
	req := abiQueueNew{Flags: uint32(flags), QID: uint32(requested)}
	if err := d.ioctl(iocQueueNew, unsafe.Pointer(&req)); err != nil {
		return one.QIDNone, err
	}
	return one.QID(req.QID), nil
}

func (d *Device) Destroy(qid one.QID) error {
	req := abiQueueDestroy{QID: uint32(qid)}
	return d.ioctl(iocQueueDestroy, unsafe.Pointer(&req))
}

func (d *Device) Attach(qid, target one.QID) error {
	req := abiQueueAttach{QID: uint32(qid), Target: uint32(target)}
	return d.ioctl(iocQueueAttach, unsafe.Pointer(&req))
}

func (d *Device) Detach(qid, target one.QID) error {
	req := abiQueueAttach{QID: uint32(qid), Target: uint32(target)}
	return d.ioctl(iocQueueDetach, unsafe.Pointer(&req))
}

func (d *Device) Dispatch(hdr one.Header, iov [][]byte) error {
	var pin runtime.Pinner
	defer pin.Unpin()

	req := abiDispatch{Header: toABIHeader(hdr)}
	req.IOV, req.IOVCount = describe(&pin, iov)
	return d.ioctl(iocQueueDispatch, unsafe.Pointer(&req))
}

func (d *Device) Receive(qids []one.QID, iov [][]byte, timeoutMs uint32) (int, error) {
	var pin runtime.Pinner
	defer pin.Unpin()

	req := abiReceive{TimeoutMs: timeoutMs}
	req.QIDs, req.QIDCount = describeQIDs(&pin, qids)
	req.IOV, req.IOVCount = describe(&pin, iov)
	if err := d.ioctl(iocQueueReceive, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return int(req.Received), nil
}

func (d *Device) DispatchReceive(hdr one.Header, send [][]byte, qids []one.QID, recv [][]byte, timeoutMs uint32) (int, error) {
	var pin runtime.Pinner
	defer pin.Unpin()

	var req abiDispatchReceive
	req.Dispatch.Header = toABIHeader(hdr)
	req.Dispatch.IOV, req.Dispatch.IOVCount = describe(&pin, send)
	req.Receive.TimeoutMs = timeoutMs
	req.Receive.QIDs, req.Receive.QIDCount = describeQIDs(&pin, qids)
	req.Receive.IOV, req.Receive.IOVCount = describe(&pin, recv)
	if err := d.ioctl(iocQueueDispatchReceive, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return int(req.Receive.Received), nil
}

func (d *Device) WakeUp(qids []one.QID) error {
	var pin runtime.Pinner
	defer pin.Unpin()

	var req abiWakeUp
	req.QIDs, req.QIDCount = describeQIDs(&pin, qids)
	return d.ioctl(iocQueueWakeUp, unsafe.Pointer(&req))
}

func (d *Device) SetName(kind device.EntryKind, id uint32, name string) error {
	if len(name) >= device.MaxNameLen {
		return unix.ENAMETOOLONG
	}
	req := abiEntryInfo{Kind: uint32(kind), ID: id}
	copy(req.Name[:], name)
	return d.ioctl(iocEntrySetInfo, unsafe.Pointer(&req))
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

func toABIHeader(h one.Header) abiHeader {
	return abiHeader{
		QID:          uint32(h.QID),
		Flags:        uint32(h.Flags),
		Size:         h.Size,
		Uncompressed: h.Uncompressed,
	}
}

// describe builds the device's view of a scatter vector. Every buffer
// and the vector itself stay pinned until the caller unpins.
func describe(pin *runtime.Pinner, iov [][]byte) (uintptr, uint32) {
	vec := iovecs(pin, iov)
	if len(vec) == 0 {
		return 0, 0
	}
	return uintptr(unsafe.Pointer(&vec[0])), uint32(len(vec))
}

// iovecs pins each non-empty buffer of iov and the returned vector.
// Empty buffers keep their slot with a zero length.
func iovecs(pin *runtime.Pinner, iov [][]byte) []abiIOVec {
	if len(iov) == 0 {
		return nil
	}
	vec := make([]abiIOVec, len(iov))
	for i, b := range iov {
		if len(b) == 0 {
			continue
		}
		pin.Pin(&b[0])
		vec[i] = abiIOVec{Base: uintptr(unsafe.Pointer(&b[0])), Len: uintptr(len(b))}
	}
	pin.Pin(&vec[0])
	return vec
}

func describeQIDs(pin *runtime.Pinner, qids []one.QID) (uintptr, uint32) {
	if len(qids) == 0 {
		return 0, 0
	}
	pin.Pin(&qids[0])
	return uintptr(unsafe.Pointer(&qids[0])), uint32(len(qids))
}
