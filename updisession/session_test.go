package updisession

import (
	"bytes"
	"errors"
	"testing"

	"github.com/avrupdi/updi-flash/deviceprofile"
	"github.com/avrupdi/updi-flash/updiphy"
)

// fakePhy is a tiny register-level simulator: enough state to drive the
// session's key/reset/status handshakes and a flat memory for st/ld and
// pointer-based instructions.
type fakePhy struct {
	sib       string
	readyVal  bool
	sysStatus byte
	keyStatus byte
	mem       map[uint32]byte
	ptr       uint32
	sentKeys  []string

	suppressProgReady bool // if true, reset-release never sets sysStatus.NVMPROG

	nvmctrlBase uint32 // 0 disables the WRITE_FUSE register emulation below
}

func newFakePhy() *fakePhy {
	return &fakePhy{readyVal: true, mem: map[uint32]byte{}}
}

func (f *fakePhy) Ready() (bool, error)     { return f.readyVal, nil }
func (f *fakePhy) ReadSIB() (string, error) { return f.sib, nil }

func (f *fakePhy) Ldcs(reg byte) (byte, error) {
	switch reg {
	case updiphy.CSASISysStatus:
		return f.sysStatus, nil
	case updiphy.CSASIKeyStatus:
		return f.keyStatus, nil
	}
	return 0, nil
}

func (f *fakePhy) Stcs(reg, val byte) error {
	if reg == updiphy.CSASIResetReq {
		if val != 0 {
			f.sysStatus |= 1 << asiSysStatusRstsysBit
		} else {
			f.sysStatus &^= 1 << asiSysStatusRstsysBit
			if !f.suppressProgReady && f.keyStatus&(1<<asiKeyStatusNvmprogBit) != 0 {
				f.sysStatus |= 1 << asiSysStatusNvmprogBit
			}
		}
	}
	return nil
}

func (f *fakePhy) Key(key string) error {
	f.sentKeys = append(f.sentKeys, key)
	switch key {
	case keyNvmProg:
		f.keyStatus |= 1 << asiKeyStatusNvmprogBit
	case keyChipErase:
		f.keyStatus |= 1 << asiKeyStatusChiperaseBit
	}
	return nil
}

func (f *fakePhy) SetUse24BitAddr(bool) {}

// St emulates WRITE_FUSE's side effect (besides the flat memory write
// every other St performs): writing nvmCmdWriteFuse to NVMCTRL.CTRLA
// copies NVMCTRL.DATAL into the fuse address latched in ADDRL/ADDRH.
func (f *fakePhy) St(addr uint32, v byte) error {
	f.mem[addr] = v
	if f.nvmctrlBase != 0 && addr == f.nvmctrlBase+uint32(nvmctrlCtrlA) && v == nvmCmdWriteFuse {
		fuseAddr := uint32(f.mem[f.nvmctrlBase+uint32(nvmctrlAddrL)]) | uint32(f.mem[f.nvmctrlBase+uint32(nvmctrlAddrH)])<<8
		f.mem[fuseAddr] = f.mem[f.nvmctrlBase+uint32(nvmctrlDataL)]
	}
	return nil
}
func (f *fakePhy) Ld(addr uint32) (byte, error) { return f.mem[addr], nil }
func (f *fakePhy) St16(addr uint32, v uint16) error {
	f.mem[addr] = byte(v)
	f.mem[addr+1] = byte(v >> 8)
	return nil
}
func (f *fakePhy) Ld16(addr uint32) (uint16, error) {
	return uint16(f.mem[addr]) | uint16(f.mem[addr+1])<<8, nil
}
func (f *fakePhy) StPtr(addr uint32) error { f.ptr = addr; return nil }
func (f *fakePhy) Repeat(int) error        { return nil }

func (f *fakePhy) LdPtrInc(n int) ([]byte, error) {
	out := make([]byte, n)
	for i := range out {
		out[i] = f.mem[f.ptr]
		f.ptr++
	}
	return out, nil
}
func (f *fakePhy) LdPtrInc16(n int) ([]uint16, error) {
	out := make([]uint16, n)
	for i := range out {
		out[i] = uint16(f.mem[f.ptr]) | uint16(f.mem[f.ptr+1])<<8
		f.ptr += 2
	}
	return out, nil
}
func (f *fakePhy) StPtrInc(data []byte) error {
	for _, b := range data {
		f.mem[f.ptr] = b
		f.ptr++
	}
	return nil
}
func (f *fakePhy) StPtrInc16(data []byte) error {
	for i := 0; i < len(data); i += 2 {
		f.mem[f.ptr] = data[i]
		f.mem[f.ptr+1] = data[i+1]
		f.ptr += 2
	}
	return nil
}

func testProfile(t *testing.T) deviceprofile.Profile {
	p, err := deviceprofile.New("tiny416")
	if err != nil {
		t.Fatalf("deviceprofile.New failed: %v", err)
	}
	return p
}

func TestEnterProgMode_S6Success(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))

	if err := s.EnterProgMode(); err != nil {
		t.Fatalf("EnterProgMode failed: %v", err)
	}
	if len(phy.sentKeys) != 1 || phy.sentKeys[0] != keyNvmProg {
		t.Errorf("sent keys: got %v, want [%q]", phy.sentKeys, keyNvmProg)
	}
}

func TestEnterProgMode_Idempotent(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))

	if err := s.EnterProgMode(); err != nil {
		t.Fatalf("first EnterProgMode failed: %v", err)
	}
	if err := s.EnterProgMode(); err != nil {
		t.Fatalf("second EnterProgMode failed: %v", err)
	}
}

func TestEnterProgMode_S6Timeout(t *testing.T) {
	phy := newFakePhy()
	phy.suppressProgReady = true
	s := New(phy, testProfile(t))

	err := s.EnterProgMode()
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestUnlockDevice(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))

	if err := s.UnlockDevice(); err != nil {
		t.Fatalf("UnlockDevice failed: %v", err)
	}
	found := false
	for _, k := range phy.sentKeys {
		if k == keyChipErase {
			found = true
		}
	}
	if !found {
		t.Error("expected NVMErase key to be sent")
	}
}

func TestChipErase_RejectsPdiV2(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))
	s.pdiV2 = true

	if err := s.ChipErase(); !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

// Property 3: write_data_words then read_data_words round-trips.
func TestWriteDataWords_ReadDataWords_RoundTrip(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))

	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	if err := s.WriteDataWords(0x4000, data); err != nil {
		t.Fatalf("WriteDataWords failed: %v", err)
	}

	words, err := s.ReadDataWords(0x4000, len(data)/2)
	if err != nil {
		t.Fatalf("ReadDataWords failed: %v", err)
	}

	got := make([]byte, 0, len(data))
	for _, w := range words {
		got = append(got, byte(w), byte(w>>8))
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip: got %X, want %X", got, data)
	}
}

func TestWriteData_ReadData_RoundTrip(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))

	data := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	if err := s.WriteData(0x8000, data); err != nil {
		t.Fatalf("WriteData failed: %v", err)
	}
	got, err := s.ReadData(0x8000, len(data))
	if err != nil {
		t.Fatalf("ReadData failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round trip: got %X, want %X", got, data)
	}
}

func TestProgramPage_WritesThroughPageBuffer(t *testing.T) {
	phy := newFakePhy()
	s := New(phy, testProfile(t))

	profile := testProfile(t)
	data := bytes.Repeat([]byte{0x42}, int(profile.PageSize))

	if err := s.ProgramPage(profile.FlashBase, data); err != nil {
		t.Fatalf("ProgramPage failed: %v", err)
	}
	for i := uint32(0); i < profile.PageSize; i++ {
		if phy.mem[profile.FlashBase+i] != 0x42 {
			t.Fatalf("byte at offset %d not written", i)
		}
	}
}

func TestWriteFuse_ReadFuse_RoundTrip(t *testing.T) {
	phy := newFakePhy()
	profile := testProfile(t)
	phy.nvmctrlBase = profile.NvmctrlBase
	s := New(phy, profile)

	if err := s.WriteFuse(0x05, 0x77); err != nil {
		t.Fatalf("WriteFuse failed: %v", err)
	}
	got, err := s.ReadFuse(0x05)
	if err != nil {
		t.Fatalf("ReadFuse failed: %v", err)
	}
	if got != 0x77 {
		t.Errorf("fuse: got 0x%02X, want 0x77", got)
	}
}

func TestInitNvmOperation_DetectsPdiV2(t *testing.T) {
	phy := newFakePhy()
	phy.sib = "AVR     P:2D:1-3"
	s := New(phy, testProfile(t))

	if _, err := s.InitNvmOperation(); err != nil {
		t.Fatalf("InitNvmOperation failed: %v", err)
	}
	if !s.PdiV2() {
		t.Error("expected PdiV2 to be detected from SIB")
	}
}

func TestInitNvmOperation_FailsWhenNotReady(t *testing.T) {
	phy := newFakePhy()
	phy.readyVal = false
	s := New(phy, testProfile(t))

	if _, err := s.InitNvmOperation(); err == nil {
		t.Error("expected failure when phy is not ready")
	}
}
