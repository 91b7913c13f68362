package updisession

// ASI/CS register bit positions, selected within the registers named in
// updiphy's CS* constants.
const (
	asiKeyStatusChiperaseBit = 3
	asiKeyStatusNvmprogBit   = 4

	asiSysStatusLockstatusBit = 0
	asiSysStatusNvmprogBit    = 3
	asiSysStatusRstsysBit     = 5
)

const resetReqValue byte = 0x59

// NVMCTRL register offsets, relative to the device profile's NvmctrlBase.
const (
	nvmctrlCtrlA  byte = 0x00
	nvmctrlCtrlB  byte = 0x01
	nvmctrlStatus byte = 0x02
	nvmctrlDataL  byte = 0x06
	nvmctrlDataH  byte = 0x07
	nvmctrlAddrL  byte = 0x08
	nvmctrlAddrH  byte = 0x09
)

const (
	nvmStatusFlashBusyBit  = 0
	nvmStatusEepromBusyBit = 1
	nvmStatusWriteErrorBit = 2
)

// NVMCTRL v0 CTRLA commands.
const (
	nvmCmdWritePage     byte = 0x01
	nvmCmdPageBufferClr byte = 0x04
	nvmCmdChipErase     byte = 0x05
	nvmCmdWriteFuse     byte = 0x07
)

const (
	keyNvmProg   = "NVMProg "
	keyChipErase = "NVMErase"
)

// maxRepeatBytes mirrors updiphy's REPEAT counter ceiling.
const maxRepeatBytes = 256
