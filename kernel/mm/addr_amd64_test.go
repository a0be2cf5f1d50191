package mm

import "testing"

func TestVirtAddrNewSignExtension(t *testing.T) {
	specs := []struct {
		in, exp uint64
	}{
		{0xf000_0000_0000_0023, 0x0000_0000_0000_0023},
		{0xffff_800f_0000_0023, 0xffff_800f_0000_0023},
		{0x0000_8000_0000_0000, 0xffff_8000_0000_0000},
	}

	for _, spec := range specs {
		if got := VirtAddrNew(spec.in).Uint64(); got != spec.exp {
			t.Errorf("VirtAddrNew(%#x): expected %#x; got %#x", spec.in, spec.exp, got)
		}
	}
}

func TestVirtAddrChecked(t *testing.T) {
	specs := []struct {
		in      uint64
		exp     uint64
		wantErr bool
	}{
		{0x0222, 0x0222, false},
		{0xffff_800f_0000_0023, 0xffff_800f_0000_0023, false},
		{0x0000_8000_0700_0000, 0xffff_8000_0700_0000, false},
		{0x1020_0000_0000_0002, 0, true},
	}

	for _, spec := range specs {
		got, err := VirtAddrChecked(spec.in)
		switch {
		case spec.wantErr && err == nil:
			t.Errorf("VirtAddrChecked(%#x): expected an error; got none", spec.in)
		case !spec.wantErr && err != nil:
			t.Errorf("VirtAddrChecked(%#x): unexpected error: %v", spec.in, err)
		case !spec.wantErr && got.Uint64() != spec.exp:
			t.Errorf("VirtAddrChecked(%#x): expected %#x; got %#x", spec.in, spec.exp, got.Uint64())
		}
	}
}

func TestVirtAddrOffsetRecanonicalizes(t *testing.T) {
	base := VirtAddrNew(0x0000_7fff_ffff_f000)
	got := base.Offset(0x2000)
	if exp := VirtAddrNew(0x0000_8000_0000_1000); got != exp {
		t.Errorf("expected offset result %#x; got %#x", exp.Uint64(), got.Uint64())
	}
}
