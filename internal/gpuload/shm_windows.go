//go:build windows

package gpuload

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

type windowsMapping struct {
	handle windows.Handle
	view   uintptr
	size   int
}

func openSharedMemory() (shmMapping, error) {
	var firstErr error
	for _, name := range shmNames {
		namep, err := windows.UTF16PtrFromString(name)
		if err != nil {
			continue
		}
		h, err := windows.OpenFileMapping(windows.FILE_MAP_READ, 0, namep)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		view, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, uintptr(shmMinSize))
		if err != nil {
			windows.CloseHandle(h)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return &windowsMapping{handle: h, view: view, size: shmMinSize}, nil
	}
	if firstErr == nil {
		firstErr = fmt.Errorf("no gpu shared memory mapping found")
	}
	return nil, firstErr
}

func (m *windowsMapping) Bytes() ([]byte, error) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(m.view)), m.size)
	buf := make([]byte, m.size)
	copy(buf, src)
	return buf, nil
}

func (m *windowsMapping) Close() error {
	windows.UnmapViewOfFile(m.view)
	return windows.CloseHandle(m.handle)
}
