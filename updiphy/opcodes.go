package updiphy

// Sync is the byte every UPDI instruction frame begins with.
const Sync byte = 0x55

// Ack is the single byte the target returns after each phase of a
// successful store.
const Ack byte = 0x40

// Break is the byte sent (twice, at 300 baud) to force a PHY resync.
const Break byte = 0x00

// Opcodes occupy the top bits of the instruction byte.
const (
	opLDS    byte = 0x00
	opSTS    byte = 0x40
	opLD     byte = 0x20
	opST     byte = 0x60
	opLDCS   byte = 0x80
	opSTCS   byte = 0xC0
	opREPEAT byte = 0xA0
	opKEY    byte = 0xE0
)

// Address width modifiers.
const (
	address8  byte = 0x00
	address16 byte = 0x04
	address24 byte = 0x08
)

// Data width modifiers.
const (
	data8  byte = 0x00
	data16 byte = 0x01
	data24 byte = 0x02
)

// Pointer mode modifiers.
const (
	ptr       byte = 0x00
	ptrInc    byte = 0x04
	ptrSetAdr byte = 0x08
)

// KEY instruction selectors: SIB vs an actual unlock key, and 64-bit vs
// 128-bit operand size.
const (
	keySelKey byte = 0x00
	keySelSIB byte = 0x04

	key64  byte = 0x00
	key128 byte = 0x01
)

// maxRepeat is the largest count representable by REPEAT's off-by-one
// single-byte counter (0xFF + 1).
const maxRepeat = 0xFF + 1

// CS (Control/Status) register indices, selected by the low 4 bits of an
// LDCS/STCS instruction.
const (
	CSStatusA      byte = 0x00
	CSStatusB      byte = 0x01
	CSCtrlA        byte = 0x02
	CSCtrlB        byte = 0x03
	CSASIKeyStatus byte = 0x07
	CSASIResetReq  byte = 0x08
	CSASICtrlA     byte = 0x09
	CSASISysCtrlA  byte = 0x0A
	CSASISysStatus byte = 0x0B
	CSASICRCStatus byte = 0x0C
)

// CTRLA/CTRLB bit positions.
const (
	CtrlAIBDLYBit    = 7
	CtrlARSDBit      = 3
	CtrlBCCDETDISBit = 3
	CtrlBUPDIDISBit  = 2
)
