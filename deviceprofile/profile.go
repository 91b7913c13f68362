// Package deviceprofile looks up the per-part NVM memory map (flash base
// and size, page size, and the base addresses of SYSCFG/NVMCTRL/SIGROW/
// FUSES/USERROW/LOCK) for a supported AVR UPDI part by name.
package deviceprofile

import (
	"fmt"
	"regexp"
)

// Profile is an immutable per-part memory map, constructed once per run
// and shared read-only between the session and its caller.
type Profile struct {
	Name string

	FlashBase uint32
	FlashSize uint32
	PageSize  uint32

	SyscfgBase  uint32
	NvmctrlBase uint32
	SigrowBase  uint32
	FusesBase   uint32
	UserrowBase uint32
	LockAddr    uint32 // 0 means "unset" (tiny/mega-0 parts have no separate lock register)
}

const (
	defaultSyscfgBase  = 0x0F00
	defaultNvmctrlBase = 0x1000
	defaultSigrowBase  = 0x1100
	defaultFusesBase   = 0x1280
	defaultUserrowBase = 0x1300
)

const (
	dxFusesBase   = 0x1050
	dxUserrowBase = 0x1080
	dxLockAddr    = 0x1040
)

const (
	tinyFlashBase = 0x8000
	megaFlashBase = 0x4000
	dxFlashBase   = 0x800000
)

var dxNamePattern = regexp.MustCompile(`^avr(\d+)d[a-z]\d+$`)

// megaFamily and tinyFamily enumerate the real part numbers Microchip
// shipped in each flash-size bucket; unlike the Dx series, these families
// don't encode their flash size in a scannable numeric prefix consistently
// enough to regex (a mega-0's "48" and a tiny's "4" are both just the
// leading digits of a bucket, not an unambiguous byte count), so the
// bucket tables are explicit, mirroring the reference implementation's
// per-family name lists.
//
// bucket holds the flash size and page size shared by every part in one
// family's flash-size bucket; mega-0 and tiny page sizes don't scale
// uniformly with flash size, so each bucket carries its own page size
// rather than deriving it from a single per-family constant.
type bucket struct {
	flashSize uint32
	pageSize  uint32
}

var megaFamily = map[string]bucket{
	"mega808": {8 * 1024, 64}, "mega809": {8 * 1024, 64},
	"mega1608": {16 * 1024, 64}, "mega1609": {16 * 1024, 64},
	"mega3208": {32 * 1024, 128}, "mega3209": {32 * 1024, 128},
	"mega4808": {48 * 1024, 128}, "mega4809": {48 * 1024, 128},
}

var tinyFamily = map[string]bucket{
	"tiny202": {2 * 1024, 64}, "tiny204": {2 * 1024, 64}, "tiny212": {2 * 1024, 64}, "tiny214": {2 * 1024, 64},
	"tiny402": {4 * 1024, 64}, "tiny404": {4 * 1024, 64}, "tiny406": {4 * 1024, 64}, "tiny412": {4 * 1024, 64}, "tiny414": {4 * 1024, 64}, "tiny416": {4 * 1024, 64}, "tiny417": {4 * 1024, 64},
	"tiny804": {8 * 1024, 64}, "tiny806": {8 * 1024, 64}, "tiny807": {8 * 1024, 64},
	"tiny814": {8 * 1024, 64}, "tiny816": {8 * 1024, 64}, "tiny817": {8 * 1024, 64},
	"tiny1604": {16 * 1024, 64}, "tiny1606": {16 * 1024, 64}, "tiny1607": {16 * 1024, 64},
	"tiny1614": {16 * 1024, 64}, "tiny1616": {16 * 1024, 64}, "tiny1617": {16 * 1024, 64},
	"tiny3216": {32 * 1024, 128}, "tiny3217": {32 * 1024, 128},
}

const dxPageSize = 256

// New looks up the memory map for a case-sensitive device name. Exactly
// one family table must match, or construction fails.
func New(name string) (Profile, error) {
	if m := dxNamePattern.FindStringSubmatch(name); m != nil {
		var flashKB uint32
		fmt.Sscanf(m[1], "%d", &flashKB)
		return Profile{
			Name:        name,
			FlashBase:   dxFlashBase,
			FlashSize:   flashKB * 1024,
			PageSize:    dxPageSize,
			SyscfgBase:  defaultSyscfgBase,
			NvmctrlBase: defaultNvmctrlBase,
			SigrowBase:  defaultSigrowBase,
			FusesBase:   dxFusesBase,
			UserrowBase: dxUserrowBase,
			LockAddr:    dxLockAddr,
		}, nil
	}

	if b, ok := megaFamily[name]; ok {
		return Profile{
			Name:        name,
			FlashBase:   megaFlashBase,
			FlashSize:   b.flashSize,
			PageSize:    b.pageSize,
			SyscfgBase:  defaultSyscfgBase,
			NvmctrlBase: defaultNvmctrlBase,
			SigrowBase:  defaultSigrowBase,
			FusesBase:   defaultFusesBase,
			UserrowBase: defaultUserrowBase,
			LockAddr:    0,
		}, nil
	}

	if b, ok := tinyFamily[name]; ok {
		return Profile{
			Name:        name,
			FlashBase:   tinyFlashBase,
			FlashSize:   b.flashSize,
			PageSize:    b.pageSize,
			SyscfgBase:  defaultSyscfgBase,
			NvmctrlBase: defaultNvmctrlBase,
			SigrowBase:  defaultSigrowBase,
			FusesBase:   defaultFusesBase,
			UserrowBase: defaultUserrowBase,
			LockAddr:    0,
		}, nil
	}

	return Profile{}, fmt.Errorf("unsupported device %q", name)
}

// SupportedDevices returns every mega-0 and tiny device name New will
// accept, for CLI help text and error messages. Dx names are not listed.
func SupportedDevices() []string {
	names := make([]string, 0, len(megaFamily)+len(tinyFamily))
	for name := range megaFamily {
		names = append(names, name)
	}
	for name := range tinyFamily {
		names = append(names, name)
	}
	// Dx names are a regex family, not an enumerable table; callers should
	// describe the avr<KiB>d<letter><pins> pattern separately.
	return names
}
