// Package updiphy implements the UPDI instruction codec: building and
// parsing SYNC-prefixed frames for the LDS/STS/LD/ST/LDCS/STCS/REPEAT/KEY
// opcode set on top of an echo-cancelling serial link.
package updiphy

import (
	"fmt"
)

// Link is the subset of serial.SerialLink that Phy needs. Accepting an
// interface rather than the concrete type keeps Phy testable against a
// link double that isn't a full SerialLink.
type Link interface {
	Send(data []byte) error
	Receive(n int) ([]byte, error)
	DoubleBreak() error
}

// Phy drives the UPDI instruction codec over a Link. It tracks whether
// 16-bit or 24-bit pointer addressing is currently in effect; all other
// state is per-call.
type Phy struct {
	link         Link
	use24BitAddr bool
}

// New constructs a Phy and runs init(): disable collision detection
// (CTRLB.CCDETDIS) and enable the inter-byte delay (CTRLA.IBDLY).
func New(link Link) (*Phy, error) {
	p := &Phy{link: link}
	if err := p.Init(); err != nil {
		return nil, err
	}
	return p, nil
}

// SetUse24BitAddr switches ld/ld16/st/st16/st_ptr between 2-byte/16-bit
// and 3-byte/24-bit addressing, as required once a PDI v2 part is
// detected from its SIB.
func (p *Phy) SetUse24BitAddr(v bool) {
	p.use24BitAddr = v
}

// Use24BitAddr reports the current addressing width.
func (p *Phy) Use24BitAddr() bool {
	return p.use24BitAddr
}

// Init disables collision detection and sets the inter-byte delay. Called
// by New and again after a double-BREAK recovery.
func (p *Phy) Init() error {
	if err := p.Stcs(CSCtrlB, 1<<CtrlBCCDETDISBit); err != nil {
		return fmt.Errorf("init ctrlb: %w", err)
	}
	if err := p.Stcs(CSCtrlA, 1<<CtrlAIBDLYBit); err != nil {
		return fmt.Errorf("init ctrla: %w", err)
	}
	return nil
}

// Ready reports whether the PHY has synchronised: STATUSA is non-zero.
func (p *Phy) Ready() (bool, error) {
	status, err := p.Ldcs(CSStatusA)
	if err != nil {
		return false, err
	}
	return status != 0, nil
}

// DoubleBreak forces the link to resync at 300 baud, then re-runs Init
// (the target's CTRLA/CTRLB state is lost across the BREAK).
func (p *Phy) DoubleBreak() error {
	if err := p.link.DoubleBreak(); err != nil {
		return err
	}
	return p.Init()
}

func (p *Phy) addressWidthMod() byte {
	if p.use24BitAddr {
		return address24
	}
	return address16
}

func (p *Phy) encodeAddress(addr uint32) []byte {
	if p.use24BitAddr {
		return []byte{byte(addr), byte(addr >> 8), byte(addr >> 16)}
	}
	return []byte{byte(addr), byte(addr >> 8)}
}

func (p *Phy) expectAck(op string) error {
	resp, err := p.link.Receive(1)
	if err != nil {
		return protoErr(op, err)
	}
	if resp[0] != Ack {
		return protoErr(op, fmt.Errorf("expected ACK (0x40), got 0x%02X", resp[0]))
	}
	return nil
}

// Ldcs reads one CS register and returns its value.
func (p *Phy) Ldcs(reg byte) (byte, error) {
	if err := p.link.Send([]byte{Sync, opLDCS | (reg & 0x0F)}); err != nil {
		return 0, err
	}
	resp, err := p.link.Receive(1)
	if err != nil {
		return 0, protoErr("ldcs", err)
	}
	return resp[0], nil
}

// Stcs writes one CS register. No response is expected.
func (p *Phy) Stcs(reg, value byte) error {
	return p.link.Send([]byte{Sync, opSTCS | (reg & 0x0F), value})
}

// Ld reads a single byte from a direct address.
func (p *Phy) Ld(addr uint32) (byte, error) {
	frame := append([]byte{Sync, opLDS | p.addressWidthMod() | data8}, p.encodeAddress(addr)...)
	if err := p.link.Send(frame); err != nil {
		return 0, err
	}
	resp, err := p.link.Receive(1)
	if err != nil {
		return 0, protoErr("ld", err)
	}
	return resp[0], nil
}

// Ld16 reads a little-endian word from a direct address.
func (p *Phy) Ld16(addr uint32) (uint16, error) {
	frame := append([]byte{Sync, opLDS | p.addressWidthMod() | data16}, p.encodeAddress(addr)...)
	if err := p.link.Send(frame); err != nil {
		return 0, err
	}
	resp, err := p.link.Receive(2)
	if err != nil {
		return 0, protoErr("ld16", err)
	}
	return uint16(resp[0]) | uint16(resp[1])<<8, nil
}

// St writes a single byte to a direct address: one ACK after the address
// phase, one after the data phase.
func (p *Phy) St(addr uint32, value byte) error {
	frame := append([]byte{Sync, opSTS | p.addressWidthMod() | data8}, p.encodeAddress(addr)...)
	if err := p.link.Send(frame); err != nil {
		return err
	}
	if err := p.expectAck("st(address phase)"); err != nil {
		return err
	}
	if err := p.link.Send([]byte{value}); err != nil {
		return err
	}
	return p.expectAck("st(data phase)")
}

// St16 writes a little-endian word to a direct address.
func (p *Phy) St16(addr uint32, value uint16) error {
	frame := append([]byte{Sync, opSTS | p.addressWidthMod() | data16}, p.encodeAddress(addr)...)
	if err := p.link.Send(frame); err != nil {
		return err
	}
	if err := p.expectAck("st16(address phase)"); err != nil {
		return err
	}
	if err := p.link.Send([]byte{byte(value), byte(value >> 8)}); err != nil {
		return err
	}
	return p.expectAck("st16(data phase)")
}

func (p *Phy) ptrSizeMod() byte {
	if p.use24BitAddr {
		return data24
	}
	return data16
}

// StPtr sets the pointer register to addr; expects one ACK.
//
// Unlike LDS/STS, the ST pointer-set instruction encodes its address size
// in the data-width field, not the address-width field.
func (p *Phy) StPtr(addr uint32) error {
	frame := append([]byte{Sync, opST | ptrSetAdr | p.ptrSizeMod()}, p.encodeAddress(addr)...)
	if err := p.link.Send(frame); err != nil {
		return err
	}
	return p.expectAck("st_ptr")
}

// LdPtrInc reads n bytes via the pointer register, post-incrementing
// after each.
func (p *Phy) LdPtrInc(n int) ([]byte, error) {
	if err := p.link.Send([]byte{Sync, opLD | ptrInc | data8}); err != nil {
		return nil, err
	}
	resp, err := p.link.Receive(n)
	if err != nil {
		return nil, protoErr("ld_ptr_inc", err)
	}
	return resp, nil
}

// LdPtrInc16 reads n little-endian words via the pointer register,
// post-incrementing by 2 after each.
func (p *Phy) LdPtrInc16(n int) ([]uint16, error) {
	if err := p.link.Send([]byte{Sync, opLD | ptrInc | data16}); err != nil {
		return nil, err
	}
	raw, err := p.link.Receive(2 * n)
	if err != nil {
		return nil, protoErr("ld_ptr_inc16", err)
	}
	words := make([]uint16, n)
	for i := 0; i < n; i++ {
		words[i] = uint16(raw[2*i]) | uint16(raw[2*i+1])<<8
	}
	return words, nil
}

// StPtrInc writes data one byte at a time via the pointer register,
// post-incrementing and reading an individual ACK after each byte.
//
// The reference implementation this is ported from builds a correctly
// framed local buffer for the first byte but then transmits the caller's
// raw data instead, breaking the first-byte ACK handshake; this
// implementation always transmits the framed SYNC+opcode+byte it builds.
func (p *Phy) StPtrInc(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if err := p.link.Send([]byte{Sync, opST | ptrInc | data8, data[0]}); err != nil {
		return err
	}
	if err := p.expectAck("st_ptr_inc[0]"); err != nil {
		return err
	}

	for i := 1; i < len(data); i++ {
		if err := p.link.Send([]byte{data[i]}); err != nil {
			return err
		}
		if err := p.expectAck(fmt.Sprintf("st_ptr_inc[%d]", i)); err != nil {
			return err
		}
	}

	return nil
}

// StPtrInc16 writes a 16-bit-word payload via the pointer register with
// ACKs disabled for throughput. It sets CS.CTRLA's RSD bit (alongside
// IBDLY) before the transfer and clears it again afterward on every exit
// path, since a stuck RSD bit would deadlock every subsequent
// ACK-expecting instruction.
func (p *Phy) StPtrInc16(data []byte) error {
	if len(data)%2 != 0 {
		return protoErr("st_ptr_inc16", fmt.Errorf("odd-length data: %d bytes", len(data)))
	}

	if err := p.Stcs(CSCtrlA, 1<<CtrlAIBDLYBit|1<<CtrlARSDBit); err != nil {
		return fmt.Errorf("st_ptr_inc16 enable RSD: %w", err)
	}
	defer p.Stcs(CSCtrlA, 1<<CtrlAIBDLYBit)

	frame := append([]byte{Sync, opST | ptrInc | data16}, data...)
	return p.link.Send(frame)
}

// Repeat issues REPEAT with count n (1..256); the following memory
// instruction then executes n times without re-synchronising.
func (p *Phy) Repeat(n int) error {
	if n < 1 || n > maxRepeat {
		return protoErr("repeat", fmt.Errorf("count %d out of range [1,%d]", n, maxRepeat))
	}
	return p.link.Send([]byte{Sync, opREPEAT, byte(n - 1)})
}

// ReadSIB reads the 16-byte ASCII System Information Block via KEY+SIB.
func (p *Phy) ReadSIB() (string, error) {
	if err := p.link.Send([]byte{Sync, opKEY | keySelSIB | key128}); err != nil {
		return "", err
	}
	resp, err := p.link.Receive(16)
	if err != nil {
		return "", protoErr("read_sib", err)
	}
	return string(resp), nil
}

// Key emits KEY with the 64-bit selector, then transmits the 8-byte key
// string with its characters in reverse order (the target expects
// LSB-first key bytes).
func (p *Phy) Key(key string) error {
	if len(key) != 8 {
		return protoErr("key", fmt.Errorf("key must be 8 bytes, got %d", len(key)))
	}

	reversed := make([]byte, 8)
	for i := 0; i < 8; i++ {
		reversed[i] = key[7-i]
	}

	frame := append([]byte{Sync, opKEY | keySelKey | key64}, reversed...)
	return p.link.Send(frame)
}
