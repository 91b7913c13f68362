// Package updisession composes UpdiPhy instructions into the UPDI
// application protocol: key handshakes, reset toggles, NVM controller
// polling, page programming, and fuse access.
package updisession

import (
	"fmt"
	"time"

	"github.com/avrupdi/updi-flash/deviceprofile"
	"github.com/avrupdi/updi-flash/updiphy"
)

// Phy is the subset of *updiphy.Phy a Session drives.
type Phy interface {
	Ldcs(reg byte) (byte, error)
	Stcs(reg, value byte) error
	Ld(addr uint32) (byte, error)
	Ld16(addr uint32) (uint16, error)
	St(addr uint32, value byte) error
	St16(addr uint32, value uint16) error
	StPtr(addr uint32) error
	LdPtrInc(n int) ([]byte, error)
	LdPtrInc16(n int) ([]uint16, error)
	StPtrInc(data []byte) error
	StPtrInc16(data []byte) error
	Repeat(n int) error
	ReadSIB() (string, error)
	Key(key string) error
	Ready() (bool, error)
	SetUse24BitAddr(v bool)
}

// Session drives the UPDI application protocol against one device profile
// and one phy. It exclusively owns the phy for its lifetime.
type Session struct {
	phy     Phy
	Profile deviceprofile.Profile
	pdiV2   bool
}

// New constructs a Session over an already-initialised phy.
func New(phy Phy, profile deviceprofile.Profile) *Session {
	return &Session{phy: phy, Profile: profile}
}

// PdiV2 reports whether the attached SIB identified a PDI v2 part.
func (s *Session) PdiV2() bool {
	return s.pdiV2
}

// InitNvmOperation confirms the phy is synchronised, reads the SIB, and
// switches to 24-bit addressing if the part reports PDI v2.
func (s *Session) InitNvmOperation() (string, error) {
	ready, err := s.phy.Ready()
	if err != nil {
		return "", err
	}
	if !ready {
		return "", sessionErr("init_nvm_operation", fmt.Errorf("updi interface is not ready"))
	}

	sib, err := s.phy.ReadSIB()
	if err != nil {
		return "", err
	}
	if len(sib) < 16 {
		return "", sessionErr("init_nvm_operation", fmt.Errorf("short SIB: %q", sib))
	}

	if sib[8:11] == "P:2" {
		s.pdiV2 = true
		s.phy.SetUse24BitAddr(true)
	}

	return sib, nil
}

func (s *Session) inProgMode() (bool, error) {
	status, err := s.phy.Ldcs(updiphy.CSASISysStatus)
	if err != nil {
		return false, err
	}
	return status&(1<<asiSysStatusNvmprogBit) != 0, nil
}

// writeProgmodeKey sends the NVMProg key; a no-op if already in prog mode.
func (s *Session) writeProgmodeKey() error {
	inProg, err := s.inProgMode()
	if err != nil {
		return err
	}
	if inProg {
		return nil
	}

	if err := s.phy.Key(keyNvmProg); err != nil {
		return err
	}
	status, err := s.phy.Ldcs(updiphy.CSASIKeyStatus)
	if err != nil {
		return err
	}
	if status&(1<<asiKeyStatusNvmprogBit) == 0 {
		return sessionErr("write_progmode_key", ErrKeyRejected)
	}
	return nil
}

// applyReset asserts or releases the ASI system reset, blocking on the
// RSTSYS status bit in each direction.
func (s *Session) applyReset(assert bool) error {
	if assert {
		if err := s.phy.Stcs(updiphy.CSASIResetReq, resetReqValue); err != nil {
			return err
		}
		status, err := s.phy.Ldcs(updiphy.CSASISysStatus)
		if err != nil {
			return err
		}
		if status&(1<<asiSysStatusRstsysBit) == 0 {
			return sessionErr("apply_reset", fmt.Errorf("reset did not take effect"))
		}
		return nil
	}

	if err := s.phy.Stcs(updiphy.CSASIResetReq, 0); err != nil {
		return err
	}
	return s.pollStatus("release_reset", updiphy.CSASISysStatus, 1<<asiSysStatusRstsysBit, false, 500*time.Millisecond, 10*time.Millisecond)
}

// pollStatus polls an LDCS register until the masked bit matches want,
// sleeping interval between reads, failing with ErrTimeout after timeout.
func (s *Session) pollStatus(op string, reg byte, mask byte, want bool, timeout, interval time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		status, err := s.phy.Ldcs(reg)
		if err != nil {
			return err
		}
		set := status&mask != 0
		if set == want {
			return nil
		}
		if time.Now().After(deadline) {
			return sessionErr(op, ErrTimeout)
		}
		time.Sleep(interval)
	}
}

// EnterProgMode writes the NVMProg key, toggles reset, and waits for the
// target to confirm programming mode. Idempotent: a no-op success if
// already in prog mode.
func (s *Session) EnterProgMode() error {
	if err := s.writeProgmodeKey(); err != nil {
		return err
	}

	if err := s.applyReset(true); err != nil {
		return err
	}
	if err := s.applyReset(false); err != nil {
		return err
	}

	// Poll ASI_KEY_STATUS.NVMPROG for up to 1s; a late bit is tolerated as
	// long as ASI_SYS_STATUS.NVMPROG is set by the time the loop exits.
	_ = s.pollStatus("enter_progmode", updiphy.CSASIKeyStatus, 1<<asiKeyStatusNvmprogBit, true, time.Second, 10*time.Millisecond)

	inProg, err := s.inProgMode()
	if err != nil {
		return err
	}
	if !inProg {
		return sessionErr("enter_progmode", ErrTimeout)
	}
	return nil
}

// UnlockDevice issues the chip-erase key to recover a locked device, also
// writes the NVMProg key (without it a CRC-enabled part would not come
// back up in programming mode after the erase), toggles reset, and waits
// for ASI_SYS_STATUS.LOCKSTATUS to clear.
func (s *Session) UnlockDevice() error {
	if err := s.phy.Key(keyChipErase); err != nil {
		return err
	}
	status, err := s.phy.Ldcs(updiphy.CSASIKeyStatus)
	if err != nil {
		return err
	}
	if status&(1<<asiKeyStatusChiperaseBit) == 0 {
		return sessionErr("unlock_device", ErrKeyRejected)
	}

	if err := s.writeProgmodeKey(); err != nil {
		return err
	}

	if err := s.applyReset(true); err != nil {
		return err
	}
	if err := s.applyReset(false); err != nil {
		return err
	}

	return s.pollStatus("unlock_device", updiphy.CSASISysStatus, 1<<asiSysStatusLockstatusBit, false, 100*time.Millisecond, 5*time.Millisecond)
}

// LeaveProgMode toggles reset and disables the UPDI interface.
func (s *Session) LeaveProgMode() error {
	if err := s.applyReset(true); err != nil {
		return err
	}
	if err := s.applyReset(false); err != nil {
		return err
	}
	return s.phy.Stcs(updiphy.CSCtrlB, 1<<updiphy.CtrlBUPDIDISBit|1<<updiphy.CtrlBCCDETDISBit)
}

func (s *Session) nvmctrlAddr(offset byte) uint32 {
	return s.Profile.NvmctrlBase + uint32(offset)
}

// waitFlashReady polls NVMCTRL.STATUS until neither FLASH_BUSY nor
// EEPROM_BUSY is set, failing fast on WRITE_ERROR.
func (s *Session) waitFlashReady() error {
	deadline := time.Now().Add(10 * time.Second)
	for {
		status, err := s.phy.Ld(s.nvmctrlAddr(nvmctrlStatus))
		if err != nil {
			return err
		}
		if status&(1<<nvmStatusWriteErrorBit) != 0 {
			return sessionErr("wait_flash_ready", ErrNvmBusy)
		}
		if status&(1<<nvmStatusFlashBusyBit|1<<nvmStatusEepromBusyBit) == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return sessionErr("wait_flash_ready", ErrTimeout)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (s *Session) executeNvmCommand(cmd byte) error {
	return s.phy.St(s.nvmctrlAddr(nvmctrlCtrlA), cmd)
}

// ChipErase wipes all flash; the target must already be in programming
// mode and not PDI v2.
func (s *Session) ChipErase() error {
	if s.pdiV2 {
		return sessionErr("chip_erase", ErrUnsupported)
	}
	if err := s.waitFlashReady(); err != nil {
		return err
	}
	if err := s.executeNvmCommand(nvmCmdChipErase); err != nil {
		return err
	}
	return s.waitFlashReady()
}

// ProgramPage clears the page buffer, fills it with data via the
// repeat+st_ptr_inc16 fast path, then commits it with WRITE_PAGE.
func (s *Session) ProgramPage(addr uint32, data []byte) error {
	if s.pdiV2 {
		return sessionErr("program_page", ErrUnsupported)
	}
	if err := s.waitFlashReady(); err != nil {
		return err
	}

	if err := s.executeNvmCommand(nvmCmdPageBufferClr); err != nil {
		return err
	}
	if err := s.waitFlashReady(); err != nil {
		return err
	}

	if err := s.WriteDataWords(addr, data); err != nil {
		return err
	}

	if err := s.executeNvmCommand(nvmCmdWritePage); err != nil {
		return err
	}
	return s.waitFlashReady()
}

// WriteData writes up to 256 bytes via the 8-bit instruction path.
func (s *Session) WriteData(addr uint32, data []byte) error {
	switch {
	case len(data) == 1:
		return s.phy.St(addr, data[0])
	case len(data) == 2:
		if err := s.phy.St(addr, data[0]); err != nil {
			return err
		}
		return s.phy.St(addr+1, data[1])
	case len(data) > maxRepeatBytes:
		return sessionErr("write_data", fmt.Errorf("data size %d exceeds limit %d", len(data), maxRepeatBytes))
	}

	if err := s.phy.StPtr(addr); err != nil {
		return err
	}
	if err := s.phy.Repeat(len(data)); err != nil {
		return err
	}
	return s.phy.StPtrInc(data)
}

// WriteDataWords writes an even-length byte slice via the 16-bit
// instruction path, up to 512 bytes.
func (s *Session) WriteDataWords(addr uint32, data []byte) error {
	if len(data) == 2 {
		value := uint16(data[0]) | uint16(data[1])<<8
		return s.phy.St16(addr, value)
	}
	if len(data)%2 != 0 {
		return sessionErr("write_data_words", fmt.Errorf("data size %d is not word-aligned", len(data)))
	}
	if len(data) > maxRepeatBytes*2 {
		return sessionErr("write_data_words", fmt.Errorf("data size %d exceeds limit %d", len(data), maxRepeatBytes*2))
	}

	if err := s.phy.StPtr(addr); err != nil {
		return err
	}
	if err := s.phy.Repeat(len(data) / 2); err != nil {
		return err
	}
	return s.phy.StPtrInc16(data)
}

// ReadData reads up to 256 bytes via the 8-bit instruction path.
func (s *Session) ReadData(addr uint32, n int) ([]byte, error) {
	if n > maxRepeatBytes {
		return nil, sessionErr("read_data", fmt.Errorf("read size %d exceeds limit %d", n, maxRepeatBytes))
	}
	if n == 1 {
		b, err := s.phy.Ld(addr)
		if err != nil {
			return nil, err
		}
		return []byte{b}, nil
	}

	if err := s.phy.StPtr(addr); err != nil {
		return nil, err
	}
	if err := s.phy.Repeat(n); err != nil {
		return nil, err
	}
	return s.phy.LdPtrInc(n)
}

// ReadDataWords reads up to 256 words (512 bytes) via the 16-bit
// instruction path.
func (s *Session) ReadDataWords(addr uint32, n int) ([]uint16, error) {
	if n > maxRepeatBytes {
		return nil, sessionErr("read_data_words", fmt.Errorf("read size %d exceeds limit %d", n, maxRepeatBytes))
	}
	if n == 1 {
		w, err := s.phy.Ld16(addr)
		if err != nil {
			return nil, err
		}
		return []uint16{w}, nil
	}

	if err := s.phy.StPtr(addr); err != nil {
		return nil, err
	}
	if err := s.phy.Repeat(n); err != nil {
		return nil, err
	}
	return s.phy.LdPtrInc16(n)
}

// WriteFuse writes one fuse byte through NVMCTRL's address/data
// registers. Requires programming mode.
func (s *Session) WriteFuse(index int, value byte) error {
	if s.pdiV2 {
		return sessionErr("write_fuse", ErrUnsupported)
	}
	fuseAddr := s.Profile.FusesBase + uint32(index)

	if err := s.WriteData(s.nvmctrlAddr(nvmctrlAddrL), []byte{byte(fuseAddr)}); err != nil {
		return err
	}
	if err := s.WriteData(s.nvmctrlAddr(nvmctrlAddrH), []byte{byte(fuseAddr >> 8)}); err != nil {
		return err
	}
	if err := s.WriteData(s.nvmctrlAddr(nvmctrlDataL), []byte{value}); err != nil {
		return err
	}
	return s.executeNvmCommand(nvmCmdWriteFuse)
}

// ReadFuse reads one fuse byte by direct address.
func (s *Session) ReadFuse(index int) (byte, error) {
	data, err := s.ReadData(s.Profile.FusesBase+uint32(index), 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}
