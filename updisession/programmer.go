package updisession

import "fmt"

// Programmer is a thin orchestrator enforcing the single "must be in
// programming mode" gate around Session's NVM-mutating operations.
type Programmer struct {
	session     *Session
	programming bool
}

// NewProgrammer wraps a Session; the caller must still call EnterProgMode
// or UnlockDevice before any gated operation.
func NewProgrammer(session *Session) *Programmer {
	return &Programmer{session: session}
}

// DeviceInfo reads the SIB via the underlying session.
func (p *Programmer) DeviceInfo() (string, error) {
	return p.session.InitNvmOperation()
}

// EnterProgMode enters programming mode and sets the gate.
func (p *Programmer) EnterProgMode() error {
	if err := p.session.EnterProgMode(); err != nil {
		return err
	}
	p.programming = true
	return nil
}

// UnlockDevice recovers a locked device via chip-erase key; a no-op if
// already unlocked.
func (p *Programmer) UnlockDevice() error {
	if p.programming {
		return nil
	}
	if err := p.session.UnlockDevice(); err != nil {
		return err
	}
	p.programming = true
	return nil
}

// LeaveProgMode clears the gate regardless of the underlying call's
// outcome, since a failed reset toggle leaves the device in an
// implementation-defined state the caller must recover from externally.
func (p *Programmer) LeaveProgMode() error {
	err := p.session.LeaveProgMode()
	p.programming = false
	return err
}

func (p *Programmer) requireProgramming(op string) error {
	if !p.programming {
		return sessionErr(op, ErrNotInProgMode)
	}
	return nil
}

// ChipErase erases the whole device. Requires programming mode.
func (p *Programmer) ChipErase() error {
	if err := p.requireProgramming("chip_erase"); err != nil {
		return err
	}
	return p.session.ChipErase()
}

// Page is one page-sized write request, addressed relative to flash.
type Page struct {
	Offset uint32
	Data   []byte
}

// WriteFlash programs pages in ascending order, remapping any offset
// below flash_base into the device's logical address space (HEX files
// are flash-relative; hardware addressing is absolute).
func (p *Programmer) WriteFlash(address uint32, pages []Page) error {
	if err := p.requireProgramming("write_flash"); err != nil {
		return err
	}

	pageAddr := address
	if pageAddr < p.session.Profile.FlashBase {
		pageAddr += p.session.Profile.FlashBase
	}

	for _, page := range pages {
		if err := p.session.ProgramPage(pageAddr, page.Data); err != nil {
			return fmt.Errorf("write_flash: page at 0x%X: %w", pageAddr, err)
		}
		pageAddr += uint32(len(page.Data))
	}
	return nil
}

// ReadFlash reads size bytes starting at address, page by page, as
// 16-bit words. size must be a multiple of the device's page size.
func (p *Programmer) ReadFlash(address, size uint32) ([]byte, error) {
	if err := p.requireProgramming("read_flash"); err != nil {
		return nil, err
	}

	pageSize := p.session.Profile.PageSize
	if size%pageSize != 0 {
		return nil, sessionErr("read_flash", fmt.Errorf("size %d is not a multiple of page size %d", size, pageSize))
	}

	var out []byte
	pageAddr := address
	pageCount := size / pageSize
	for i := uint32(0); i < pageCount; i++ {
		words, err := p.session.ReadDataWords(pageAddr, int(pageSize/2))
		if err != nil {
			return nil, err
		}
		for _, w := range words {
			out = append(out, byte(w), byte(w>>8))
		}
		pageAddr += pageSize
	}
	return out, nil
}

// ReadFuse reads one fuse byte. Requires programming mode.
func (p *Programmer) ReadFuse(index int) (byte, error) {
	if err := p.requireProgramming("read_fuse"); err != nil {
		return 0, err
	}
	return p.session.ReadFuse(index)
}

// WriteFuse writes one fuse byte. Requires programming mode.
func (p *Programmer) WriteFuse(index int, value byte) error {
	if err := p.requireProgramming("write_fuse"); err != nil {
		return err
	}
	return p.session.WriteFuse(index, value)
}
