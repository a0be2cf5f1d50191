package efi

import "unsafe"

// GetMemoryMap wraps BootServices.GetMemoryMap. buf must be large enough to
// hold the current map; callers typically probe once with a zero-length buf
// to read the required mapSize back out of the error path's byte count
// convention, then retry with a correctly sized buffer — the loader instead
// over-allocates a generous buffer up front to avoid the two-call dance.
func (bs *BootServices) GetMemoryMap(mapSize *uintptr, buf []byte, mapKey *uintptr, descSize *uintptr, descVersion *uint32) Status {
	var bufPtr uintptr
	if len(buf) > 0 {
		bufPtr = uintptr(unsafe.Pointer(&buf[0]))
	}
	return call5(bs.getMemoryMap,
		uintptr(unsafe.Pointer(mapSize)),
		bufPtr,
		uintptr(unsafe.Pointer(mapKey)),
		uintptr(unsafe.Pointer(descSize)),
		uintptr(unsafe.Pointer(descVersion)),
	)
}

// AllocatePages wraps BootServices.AllocatePages, requesting pages count
// 4 KiB pages of memType starting at (or near, depending on allocType)
// *memAddr.
func (bs *BootServices) AllocatePages(allocType AllocateType, memType MemoryType, pages uintptr, memAddr *uintptr) Status {
	return call4(bs.allocatePages,
		uintptr(allocType),
		uintptr(memType),
		pages,
		uintptr(unsafe.Pointer(memAddr)),
	)
}

// ExitBootServices wraps BootServices.ExitBootServices. mapKey must match
// the key returned by the GetMemoryMap call that produced the memory map
// the caller is about to rely on; a stale key fails the call, signaling
// that the map must be re-read and the call retried.
func (bs *BootServices) ExitBootServices(imageHandle uintptr, mapKey uintptr) Status {
	return call2(bs.exitBootServices, imageHandle, mapKey)
}

// LocateProtocol wraps BootServices.LocateProtocol, returning the first
// installed interface for the given protocol GUID.
func (bs *BootServices) LocateProtocol(guid *Guid, out *unsafe.Pointer) Status {
	return call3(bs.locateProtocol,
		uintptr(unsafe.Pointer(guid)),
		0,
		uintptr(unsafe.Pointer(out)),
	)
}

// HandleProtocol wraps BootServices.HandleProtocol.
func (bs *BootServices) HandleProtocol(handle uintptr, guid *Guid, out *unsafe.Pointer) Status {
	return call3(bs.handleProtocol, handle, uintptr(unsafe.Pointer(guid)), uintptr(unsafe.Pointer(out)))
}

// OutputString wraps SimpleTextOutputProtocol.OutputString with a UTF-16
// string already prepared by the caller (UEFI console strings are
// null-terminated UTF-16, not UTF-8).
func (out *SimpleTextOutputProtocol) OutputString(s *uint16) Status {
	return call2(out.outputString, uintptr(unsafe.Pointer(out)), uintptr(unsafe.Pointer(s)))
}

// OpenVolume wraps SimpleFileSystemProtocol.OpenVolume, returning the root
// directory of the boot volume as a FileProtocol.
func (fs *SimpleFileSystemProtocol) OpenVolume(root **FileProtocol) Status {
	return call2(fs.openVolume, uintptr(unsafe.Pointer(fs)), uintptr(unsafe.Pointer(root)))
}

// Open wraps FileProtocol.Open.
func (f *FileProtocol) Open(newHandle **FileProtocol, fileName *uint16, openMode, attributes uint64) Status {
	return call5(f.open,
		uintptr(unsafe.Pointer(f)),
		uintptr(unsafe.Pointer(newHandle)),
		uintptr(unsafe.Pointer(fileName)),
		uintptr(openMode),
		uintptr(attributes),
	)
}

// Read wraps FileProtocol.Read, reading up to len(buf) bytes and updating
// *size with the number of bytes actually transferred.
func (f *FileProtocol) Read(size *uintptr, buf []byte) Status {
	var bufPtr uintptr
	if len(buf) > 0 {
		bufPtr = uintptr(unsafe.Pointer(&buf[0]))
	}
	return call3(f.read, uintptr(unsafe.Pointer(f)), uintptr(unsafe.Pointer(size)), bufPtr)
}

// Close wraps FileProtocol.Close.
func (f *FileProtocol) Close() Status {
	return call1(f.close, uintptr(unsafe.Pointer(f)))
}

// GetInfo wraps FileProtocol.GetInfo, using the well-known FileInfo GUID.
func (f *FileProtocol) GetInfo(guid *Guid, size *uintptr, buf []byte) Status {
	var bufPtr uintptr
	if len(buf) > 0 {
		bufPtr = uintptr(unsafe.Pointer(&buf[0]))
	}
	return call4(f.getInfo, uintptr(unsafe.Pointer(f)), uintptr(unsafe.Pointer(guid)), uintptr(unsafe.Pointer(size)), bufPtr)
}

// FileInfoGUID identifies the FileInfo structure for FileProtocol.GetInfo.
// {09576E92-6D3F-11D2-8E39-00A0C969723B}
var FileInfoGUID = Guid{
	Data1: 0x09576e92,
	Data2: 0x6d3f,
	Data3: 0x11d2,
	Data4: [8]uint8{0x8e, 0x39, 0x00, 0xa0, 0xc9, 0x69, 0x72, 0x3b},
}
