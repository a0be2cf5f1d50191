package console

import "orrery/kernel/bootinfo"

var (
	getFramebufferInfoFn = bootinfo.GetFramebufferInfo
)
