// Package loadelf decodes the kernel binary the loader reads off disk. It
// wraps the standard library's debug/elf — already vetted, already the
// idiomatic way a hosted Go tool reads an ELF object — for program header
// parsing. The Off/Filesz/Memsz/Vaddr values the loader's .bss-expansion
// algorithm needs are copied unchanged from debug/elf's ProgHeader.
package loadelf

import (
	"bytes"
	"debug/elf"
	"orrery/kernel"
)

var (
	errNotELF    = &kernel.Error{Module: "loadelf", Message: "kernel file is not a valid ELF64 executable"}
	errTLS       = &kernel.Error{Module: "loadelf", Message: "kernel file has a TLS program header, which is not supported"}
	errReadImage = &kernel.Error{Module: "loadelf", Message: "ELF program header extends past end of file"}
)

// Program describes one loadable (PT_LOAD) program header of the kernel
// image.
type Program struct {
	// VirtAddr, Offset, FileSize and MemSize are copied byte-for-byte
	// from the program header (ProgHeader.Vaddr/Off/Filesz/Memsz): the
	// loader's mapping algorithm operates on these raw quantities
	// directly, locating the segment's bytes inside the file buffer via
	// Offset rather than through a decoded copy.
	VirtAddr uint64
	Offset   uint64
	FileSize uint64
	MemSize  uint64

	Executable bool
	Writable   bool
}

// Image is a parsed kernel ELF executable.
type Image struct {
	// Entry is the virtual address of the first instruction to execute.
	Entry uint64

	// Programs lists every PT_LOAD header, in file order.
	Programs []Program
}

// Parse decodes buf (the kernel file contents, already read into memory by
// the loader) as a static-position ELF64 executable. It fails if buf is
// not a valid ELF file or if the image declares a PT_TLS segment, which
// this core does not implement.
func Parse(buf []byte) (*Image, *kernel.Error) {
	f, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, errNotELF
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_X86_64 {
		return nil, errNotELF
	}

	img := &Image{Entry: f.Entry}

	for _, prog := range f.Progs {
		switch prog.Type {
		case elf.PT_TLS:
			return nil, errTLS
		case elf.PT_LOAD:
			if prog.Off+prog.Filesz > uint64(len(buf)) {
				return nil, errReadImage
			}

			img.Programs = append(img.Programs, Program{
				VirtAddr:   prog.Vaddr,
				Offset:     prog.Off,
				FileSize:   prog.Filesz,
				MemSize:    prog.Memsz,
				Executable: prog.Flags&elf.PF_X != 0,
				Writable:   prog.Flags&elf.PF_W != 0,
			})
		}
	}

	return img, nil
}
