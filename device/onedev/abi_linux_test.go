package onedev

import (
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	one "github.com/frobware/go-one"
)

func TestABISizes(t *testing.T) {
	if unsafe.Sizeof(uintptr(0)) != 8 {
		t.Skip("layout checked on 64-bit targets")
	}
	assert.EqualValues(t, 8, unsafe.Sizeof(abiQueueNew{}))
	assert.EqualValues(t, 16, unsafe.Sizeof(abiIOVec{}))
	assert.EqualValues(t, one.HeaderSize, unsafe.Sizeof(abiHeader{}))
	assert.EqualValues(t, 32, unsafe.Sizeof(abiDispatch{}))
	assert.EqualValues(t, 40, unsafe.Sizeof(abiReceive{}))
	assert.EqualValues(t, 72, unsafe.Sizeof(abiDispatchReceive{}))
	assert.EqualValues(t, 16, unsafe.Sizeof(abiWakeUp{}))
	assert.EqualValues(t, 104, unsafe.Sizeof(abiEntryInfo{}))
}

func TestIoctlNumbers(t *testing.T) {
	// _IOW('o', 1, 4)
	assert.Equal(t, uintptr(0x40046f01), iocQueueDestroy)
	// _IOWR('o', 0, 8)
	assert.Equal(t, uintptr(0xc0086f00), iocQueueNew)
}

func TestDescribe_PinsAndSkipsEmpty(t *testing.T) {
	var pin runtime.Pinner
	defer pin.Unpin()

	a, b := []byte("abc"), []byte("de")
	vec := iovecs(&pin, [][]byte{a, nil, b})
	require.Len(t, vec, 3)
	assert.Equal(t, uintptr(unsafe.Pointer(&a[0])), vec[0].Base)
	assert.EqualValues(t, 3, vec[0].Len)
	assert.Zero(t, vec[1].Len)
	assert.EqualValues(t, 2, vec[2].Len)
}

func TestDescribe_Empty(t *testing.T) {
	var pin runtime.Pinner
	defer pin.Unpin()

	ptr, n := describe(&pin, nil)
	assert.Zero(t, ptr)
	assert.Zero(t, n)
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "one0"))
	assert.ErrorIs(t, err, unix.ENOENT)
}
