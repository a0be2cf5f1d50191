// Package loader implements the UEFI boot stage: it runs with firmware
// services still available, locates and reads the kernel image, exits
// boot services, builds a fresh 4-level page table hierarchy for the
// kernel's high-half + direct-map layout, and performs the register-level
// jump into the kernel entry point. Nothing in this package returns to its
// caller on the success path — Boot either hands off to the kernel or
// panics.
package loader

import (
	"orrery/kernel"
	"orrery/kernel/bootinfo"
	"orrery/kernel/kfmt"
	"orrery/kernel/mm"
	"orrery/kernel/mm/pagetable"
	"orrery/loader/efi"
	"orrery/loader/loadelf"
	"unsafe"
)

// expectedKernelFileSize is the minimum buffer this loader reserves for
// the kernel image; GetInfo's reported size grows it further if needed.
const expectedKernelFileSize = 400 * 1024

// loaderStackPages sizes the stack the loader runs on after the context
// switch, since the firmware's own stack is not guaranteed to stay mapped
// once the freshly built page tables take over from the firmware's.
const loaderStackPages = 4

// loaderHeapPages sizes the heap region the loader reserves from the
// firmware alongside its stack. The range is identity-mapped and carved out
// as in-use in the handoff map, so the kernel's allocator never hands out
// its frames; nothing in the loader allocates from it.
const loaderHeapPages = 256

var (
	errNoGraphics = &kernel.Error{Module: "loader", Message: "firmware does not expose a Graphics Output Protocol"}
	errNoFS       = &kernel.Error{Module: "loader", Message: "firmware does not expose a Simple File System Protocol"}
	errOpenKernel = &kernel.Error{Module: "loader", Message: "failed to open kernel file on boot volume"}
	errReadKernel = &kernel.Error{Module: "loader", Message: "failed to read kernel file"}
	errAllocPages = &kernel.Error{Module: "loader", Message: "firmware page allocation failed"}
	errExitBoot   = &kernel.Error{Module: "loader", Message: "ExitBootServices failed"}
	errNoRSDP     = &kernel.Error{Module: "loader", Message: "ACPI RSDP not present in firmware configuration table"}
)

// kernelFileName is "kernel" encoded as a null-terminated UTF-16 string,
// the form FileProtocol.Open expects.
var kernelFileName = utf16z("kernel")

func utf16z(s string) []uint16 {
	out := make([]uint16, 0, len(s)+1)
	for _, r := range s {
		out = append(out, uint16(r))
	}
	return append(out, 0)
}

// Boot is the loader's entry point, invoked by cmd/loader's main()
// trampoline with the firmware-provided image handle and system table. It
// never returns.
func Boot(imageHandle uintptr, st *efi.SystemTable) {
	bs := st.BootServices

	kfmt.Printf("loader: probing graphics output protocol\n")
	fb, err := readFramebuffer(bs)
	if err != nil {
		panic(err)
	}

	kfmt.Printf("loader: reading kernel image from boot volume\n")
	kernelBuf, kernelPhys, err := readKernelFile(bs)
	if err != nil {
		panic(err)
	}

	image, err := loadelf.Parse(kernelBuf)
	if err != nil {
		panic(err)
	}

	stackPhys, err := allocatePages(bs, loaderStackPages)
	if err != nil {
		panic(err)
	}

	heapPhys, err := allocatePages(bs, loaderHeapPages)
	if err != nil {
		panic(err)
	}

	rsdp := findRSDP(st)
	if rsdp == 0 {
		panic(errNoRSDP)
	}

	kfmt.Printf("loader: exiting boot services\n")
	fwMap, mapKey, err := readMemoryMap(bs)
	if err != nil {
		panic(err)
	}
	if bs.ExitBootServices(imageHandle, mapKey) != efi.StatusSuccess {
		// The map key goes stale if any firmware call made after the
		// snapshot triggered a pool allocation; re-read once and retry,
		// as the UEFI spec advises.
		fwMap, mapKey, err = readMemoryMap(bs)
		if err != nil {
			panic(err)
		}
		if bs.ExitBootServices(imageHandle, mapKey) != efi.StatusSuccess {
			panic(errExitBoot)
		}
	}

	// No firmware calls are legal past this point.
	regions := convertMemoryMap(fwMap)

	// The kernel image buffer and the loader's stack and heap stay live
	// across the handoff; pull them out of the free pool so neither the
	// loader's own allocator below nor the kernel's ever recycles them.
	regions = markRangeInUse(regions, uint64(kernelPhys), uint64(len(kernelBuf)))
	regions = markRangeInUse(regions, uint64(stackPhys), uint64(loaderStackPages)*uint64(mm.PageSize))
	regions = markRangeInUse(regions, uint64(heapPhys), uint64(loaderHeapPages)*uint64(mm.PageSize))

	alloc := NewFrameAllocator(regions, 0)

	l4, l4Phys, err := alloc.AllocPageTable()
	if err != nil {
		panic(err)
	}

	if err := installDirectMap(l4, regions, alloc); err != nil {
		panic(err)
	}

	segments, err := mapKernelImage(l4, image, kernelPhys, alloc)
	if err != nil {
		panic(err)
	}

	if err := mapFramebuffer(l4, &fb, alloc); err != nil {
		panic(err)
	}

	stackSize := uintptr(loaderStackPages) * mm.PageSize
	stackTop := uint64(stackPhys) + uint64(stackSize)
	if err := identityMapRange(l4, stackPhys, stackSize, pagetable.FlagWritable|pagetable.FlagNoExecute, alloc); err != nil {
		panic(err)
	}

	if err := identityMapRange(l4, heapPhys, uintptr(loaderHeapPages)*mm.PageSize, pagetable.FlagWritable|pagetable.FlagNoExecute, alloc); err != nil {
		panic(err)
	}

	if err := identityMapRoutine(l4, jumpRoutineAddr(), alloc); err != nil {
		panic(err)
	}

	kernelEnd := uint64(kernelPhys) + uint64(len(kernelBuf))
	bi := buildBootInfo(regions, &fb, rsdp, segments, uint64(kernelPhys), kernelEnd)
	biPhys, err := alloc.AllocFrame()
	if err != nil {
		panic(err)
	}
	biPtr := (*bootinfo.BootInfo)(unsafe.Pointer(biPhys.Uintptr()))
	*biPtr = bi

	if err := identityMapRange(l4, biPhys, mm.PageSize, pagetable.FlagWritable|pagetable.FlagNoExecute, alloc); err != nil {
		panic(err)
	}

	// Stamped last: every frame the loader will ever take has been taken
	// by now, so the kernel's allocator can resume exactly past them.
	biPtr.NextFreeFrame = alloc.NextFreeFrame()

	kfmt.Printf("loader: jumping to kernel entry\n")
	contextSwitch(l4Phys.Uintptr(), uintptr(stackTop), uintptr(unsafe.Pointer(biPtr)), uintptr(image.Entry))

	// contextSwitch never returns; this exists only so the function has a
	// terminating statement the compiler can see.
	for {
	}
}

func readFramebuffer(bs *efi.BootServices) (bootinfo.FramebufferInfo, *kernel.Error) {
	var gop *efi.GraphicsOutputProtocol
	if bs.LocateProtocol(&efi.GraphicsOutputProtocolGUID, (*unsafe.Pointer)(unsafe.Pointer(&gop))) != efi.StatusSuccess {
		return bootinfo.FramebufferInfo{}, errNoGraphics
	}

	mode := gop.Mode
	info := mode.Info

	fb := bootinfo.FramebufferInfo{
		PhysAddr: uint64(mode.FrameBufferBase),
		Pitch:    info.PixelsPerScanLine * 4,
		Width:    info.HorizontalResolution,
		Height:   info.VerticalResolution,
		Bpp:      32,
		Type:     bootinfo.FramebufferTypeRGB,
	}

	switch info.PixelFormat {
	case efi.PixelRedGreenBlueReserved8BitPerColor:
		fb.ColorInfo = bootinfo.FramebufferRGBColorInfo{RedPosition: 0, RedMaskSize: 8, GreenPosition: 8, GreenMaskSize: 8, BluePosition: 16, BlueMaskSize: 8}
	case efi.PixelBlueGreenRedReserved8BitPerColor:
		fb.ColorInfo = bootinfo.FramebufferRGBColorInfo{BluePosition: 0, BlueMaskSize: 8, GreenPosition: 8, GreenMaskSize: 8, RedPosition: 16, RedMaskSize: 8}
	}

	return fb, nil
}

// readKernelFile reads the kernel image off the boot volume into a
// firmware-allocated, page-aligned contiguous buffer and returns the buffer
// together with its physical base address. The buffer's frames later back
// the kernel's own text and data mappings, so it must survive the handoff —
// Boot carves the range out of the free pool for that reason.
func readKernelFile(bs *efi.BootServices) ([]byte, mm.PhysAddr, *kernel.Error) {
	var fsProto *efi.SimpleFileSystemProtocol
	if bs.LocateProtocol(&efi.SimpleFileSystemProtocolGUID, (*unsafe.Pointer)(unsafe.Pointer(&fsProto))) != efi.StatusSuccess {
		return nil, 0, errNoFS
	}

	var root *efi.FileProtocol
	if fsProto.OpenVolume(&root) != efi.StatusSuccess {
		return nil, 0, errNoFS
	}

	var file *efi.FileProtocol
	const fileModeRead = 0x1
	if root.Open(&file, &kernelFileName[0], fileModeRead, 0) != efi.StatusSuccess {
		return nil, 0, errOpenKernel
	}
	defer file.Close()

	infoBuf := make([]byte, 512)
	infoSize := uintptr(len(infoBuf))
	if file.GetInfo(&efi.FileInfoGUID, &infoSize, infoBuf) != efi.StatusSuccess {
		return nil, 0, errOpenKernel
	}
	info := (*efi.FileInfo)(unsafe.Pointer(&infoBuf[0]))

	bufSize := info.FileSize
	if bufSize < expectedKernelFileSize {
		bufSize = expectedKernelFileSize
	}

	bufPages := (uintptr(bufSize) + mm.PageSize - 1) / mm.PageSize
	bufPhys, err := allocatePages(bs, bufPages)
	if err != nil {
		return nil, 0, err
	}

	buf := unsafe.Slice((*byte)(unsafe.Pointer(bufPhys.Uintptr())), bufSize)
	readSize := uintptr(info.FileSize)
	if file.Read(&readSize, buf[:info.FileSize]) != efi.StatusSuccess {
		return nil, 0, errReadKernel
	}

	return buf[:readSize], bufPhys, nil
}

func allocatePages(bs *efi.BootServices, pages uintptr) (mm.PhysAddr, *kernel.Error) {
	var addr uintptr
	if bs.AllocatePages(efi.AllocateAnyPages, efi.MemoryTypeLoaderData, pages, &addr) != efi.StatusSuccess {
		return 0, errAllocPages
	}
	return mm.PhysAddr(addr), nil
}

func readMemoryMap(bs *efi.BootServices) ([]efi.MemoryDescriptor, uintptr, *kernel.Error) {
	// Over-allocate generously; growing the firmware's memory map between
	// two successive GetMemoryMap calls is the classic source of a stale
	// map key, so the probe-then-retry dance is skipped entirely.
	const maxEntries = 512
	var (
		mapSize     = uintptr(maxEntries) * unsafe.Sizeof(efi.MemoryDescriptor{})
		mapKey      uintptr
		descSize    uintptr
		descVersion uint32
	)

	buf := make([]byte, mapSize)
	if bs.GetMemoryMap(&mapSize, buf, &mapKey, &descSize, &descVersion) != efi.StatusSuccess {
		return nil, 0, errAllocPages
	}

	count := int(mapSize / descSize)
	out := make([]efi.MemoryDescriptor, count)
	for i := 0; i < count; i++ {
		out[i] = *(*efi.MemoryDescriptor)(unsafe.Pointer(&buf[uintptr(i)*descSize]))
	}

	return out, mapKey, nil
}

// convertMemoryType classifies a firmware memory type the way BootInfo
// distinguishes them: MMIO/reserved/unusable ranges are never handed out
// as RAM, persistent and loader/boot-services ranges are free once boot
// services have exited, ACPI ranges keep their reclaim semantics and
// runtime-services ranges keep their must-stay-intact semantics.
func convertMemoryType(t efi.MemoryType) bootinfo.MemoryEntryType {
	switch t {
	case efi.MemoryTypeMemoryMappedIO, efi.MemoryTypeMemoryMappedIOPortSpace, efi.MemoryTypeReservedMemoryType, efi.MemoryTypeUnusableMemory:
		return bootinfo.MemReserved
	case efi.MemoryTypePersistentMemory, efi.MemoryTypeConventionalMemory,
		efi.MemoryTypeLoaderCode, efi.MemoryTypeLoaderData,
		efi.MemoryTypeBootServicesCode, efi.MemoryTypeBootServicesData:
		return bootinfo.MemAvailable
	case efi.MemoryTypeACPIReclaimMemory:
		return bootinfo.MemAcpiReclaimable
	case efi.MemoryTypeACPIMemoryNVS:
		return bootinfo.MemNvs
	case efi.MemoryTypeRuntimeServicesCode, efi.MemoryTypeRuntimeServicesData:
		return bootinfo.MemRuntimeServices
	default:
		// PalCode and any firmware-specific type this loader doesn't
		// recognize must not be handed out as scratch memory.
		return bootinfo.MemReserved
	}
}

// convertMemoryMap converts the firmware's memory map into the core's
// MemoryMapEntry representation, merging adjacent same-kind descriptors
// and forcing physical frame 0 to Reserved regardless of what the
// firmware reported it as (the null page must never be handed out).
func convertMemoryMap(fwMap []efi.MemoryDescriptor) []bootinfo.MemoryMapEntry {
	out := make([]bootinfo.MemoryMapEntry, 0, len(fwMap))

	for _, d := range fwMap {
		kind := convertMemoryType(d.Type)
		pages := d.NumberOfPages
		phys := d.PhysicalStart

		if phys == 0 && pages > 0 {
			out = append(out, bootinfo.MemoryMapEntry{PhysAddress: 0, PageCount: 1, Type: bootinfo.MemReserved})
			phys += uint64(mm.PageSize)
			pages--
			if pages == 0 {
				continue
			}
		}

		if n := len(out); n > 0 && out[n-1].Type == kind && out[n-1].PhysAddress+out[n-1].Length() == phys {
			out[n-1].PageCount += pages
			continue
		}

		out = append(out, bootinfo.MemoryMapEntry{PhysAddress: phys, PageCount: pages, Type: kind})
	}

	return out
}

// markRangeInUse reclassifies the pages covering [phys, phys+size) as
// MemInUse, splitting whatever entries the range lands in. The loader calls
// this for the handful of firmware-allocated ranges that must survive the
// handoff even though the conversion above files their memory type under
// MemAvailable.
func markRangeInUse(regions []bootinfo.MemoryMapEntry, phys, size uint64) []bootinfo.MemoryMapEntry {
	pageSize := uint64(mm.PageSize)
	start := phys &^ (pageSize - 1)
	end := (phys + size + pageSize - 1) &^ (pageSize - 1)

	out := make([]bootinfo.MemoryMapEntry, 0, len(regions)+2)
	for _, r := range regions {
		rStart := r.PhysAddress
		rEnd := r.PhysAddress + r.Length()

		if r.Type != bootinfo.MemAvailable || rEnd <= start || rStart >= end {
			out = append(out, r)
			continue
		}

		if rStart < start {
			out = append(out, bootinfo.MemoryMapEntry{Type: r.Type, PhysAddress: rStart, PageCount: (start - rStart) / pageSize})
		}

		overlapStart, overlapEnd := rStart, rEnd
		if overlapStart < start {
			overlapStart = start
		}
		if overlapEnd > end {
			overlapEnd = end
		}
		out = append(out, bootinfo.MemoryMapEntry{Type: bootinfo.MemInUse, PhysAddress: overlapStart, PageCount: (overlapEnd - overlapStart) / pageSize})

		if rEnd > end {
			out = append(out, bootinfo.MemoryMapEntry{Type: r.Type, PhysAddress: end, PageCount: (rEnd - end) / pageSize})
		}
	}

	return out
}

func findRSDP(st *efi.SystemTable) uint64 {
	entries := unsafe.Slice(st.ConfigurationTable, int(st.NumberOfTableEntries))

	for _, guid := range [...]efi.Guid{efi.ACPI2TableGUID, efi.ACPITableGUID} {
		for i := range entries {
			if entries[i].VendorGUID == guid {
				return uint64(uintptr(entries[i].VendorTable))
			}
		}
	}
	return 0
}
