package onedev

import "unsafe"

// Request structures passed by reference to the device. Layouts match
// the driver's uapi header on 64-bit and 32-bit targets: pointers are
// native width, explicit padding keeps 8-byte alignment where the
// driver expects it.

type abiQueueNew struct {
	Flags uint32
	QID   uint32 // in: requested, out: assigned
}

type abiQueueDestroy struct {
	QID uint32
}

type abiQueueAttach struct {
	QID    uint32
	Target uint32
}

type abiIOVec struct {
	Base uintptr
	Len  uintptr
}

type abiHeader struct {
	QID          uint32
	Flags        uint32
	Size         uint32
	Uncompressed uint32
}

type abiDispatch struct {
	Header   abiHeader
	IOV      uintptr
	IOVCount uint32
	_        uint32
}

type abiReceive struct {
	QIDs      uintptr
	QIDCount  uint32
	_         uint32
	IOV       uintptr
	IOVCount  uint32
	TimeoutMs uint32
	Received  uint32
	_         uint32
}

type abiDispatchReceive struct {
	Dispatch abiDispatch
	Receive  abiReceive
}

type abiWakeUp struct {
	QIDs     uintptr
	QIDCount uint32
	_        uint32
}

type abiEntryInfo struct {
	Kind uint32
	ID   uint32
	Name [96]byte
}

const (
	iocWrite = 1
	iocRead  = 2

	iocMagic = 'o'
)

func ioc(dir, nr, size uintptr) uintptr {
	return dir<<30 | size<<16 | iocMagic<<8 | nr
}

var (
	iocQueueNew             = ioc(iocWrite|iocRead, 0x00, unsafe.Sizeof(abiQueueNew{}))
	iocQueueDestroy         = ioc(iocWrite, 0x01, unsafe.Sizeof(abiQueueDestroy{}))
	iocQueueAttach          = ioc(iocWrite, 0x02, unsafe.Sizeof(abiQueueAttach{}))
	iocQueueDetach          = ioc(iocWrite, 0x03, unsafe.Sizeof(abiQueueAttach{}))
	iocQueueDispatch        = ioc(iocWrite, 0x04, unsafe.Sizeof(abiDispatch{}))
	iocQueueReceive         = ioc(iocWrite|iocRead, 0x05, unsafe.Sizeof(abiReceive{}))
	iocQueueDispatchReceive = ioc(iocWrite|iocRead, 0x06, unsafe.Sizeof(abiDispatchReceive{}))
	iocQueueWakeUp          = ioc(iocWrite, 0x07, unsafe.Sizeof(abiWakeUp{}))
	iocEntrySetInfo         = ioc(iocWrite, 0x08, unsafe.Sizeof(abiEntryInfo{}))
)
