package vmm

import (
	"bytes"
	"fmt"
	"orrery/kernel/cpu"
	"orrery/kernel/gate"
	"orrery/kernel/kfmt"
	"strings"
	"testing"
)

// TestPageFaultHandler verifies that every page fault reaches
// nonRecoverablePageFault; there is no recovery path.
func TestPageFaultHandler(t *testing.T) {
	defer func() {
		kfmt.SetOutputSink(nil)
		readCR2Fn = cpu.ReadCR2
		dumpStackFn = dumpStack
	}()
	dumpStackFn = func(uint64) {}

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	readCR2Fn = func() uint64 { return 0xbadf00d000 }

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
		}
	}()

	var regs gate.Registers
	regs.Info = 2
	pageFaultHandler(&regs)
}

func TestNonRecoverablePageFault(t *testing.T) {
	defer func() {
		kfmt.SetOutputSink(nil)
		dumpStackFn = dumpStack
	}()
	dumpStackFn = func(uint64) {}

	specs := []struct {
		errCode   uint64
		expReason string
	}{
		{
			0,
			"read from non-present page",
		},
		{
			1,
			"page protection violation (read)",
		},
		{
			2,
			"write to non-present page",
		},
		{
			3,
			"page protection violation (write)",
		},
		{
			4,
			"page-fault in user-mode",
		},
		{
			8,
			"page table has reserved bit set",
		},
		{
			16,
			"instruction fetch",
		},
		{
			0xf00,
			"unknown",
		},
	}

	var (
		regs gate.Registers
		buf  bytes.Buffer
	)

	kfmt.SetOutputSink(&buf)
	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			buf.Reset()
			defer func() {
				if err := recover(); err != errUnrecoverableFault {
					t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
				}
			}()

			regs.Info = spec.errCode
			nonRecoverablePageFault(0xbadf00d000, &regs, errUnrecoverableFault)
			if got := buf.String(); !strings.Contains(got, spec.expReason) {
				t.Errorf("expected reason %q; got output:\n%q", spec.expReason, got)
			}
		})
	}
}

func TestGPFHandler(t *testing.T) {
	defer func() {
		readCR2Fn = cpu.ReadCR2
	}()

	var regs gate.Registers

	readCR2Fn = func() uint64 {
		return 0xbadf00d000
	}

	defer func() {
		if err := recover(); err != errUnrecoverableFault {
			t.Errorf("expected a panic with errUnrecoverableFault; got %v", err)
		}
	}()

	generalProtectionFaultHandler(&regs)
}
