package deviceprofile

import "testing"

func TestNew_DxSizing(t *testing.T) {
	p, err := New("avr128db32")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.FlashBase != 0x800000 {
		t.Errorf("FlashBase: got 0x%X, want 0x800000", p.FlashBase)
	}
	if p.FlashSize != 131072 {
		t.Errorf("FlashSize: got %d, want 131072", p.FlashSize)
	}
	if p.PageSize != 256 {
		t.Errorf("PageSize: got %d, want 256", p.PageSize)
	}
	if p.FusesBase != 0x1050 {
		t.Errorf("FusesBase: got 0x%X, want 0x1050", p.FusesBase)
	}
	if p.LockAddr != 0x1040 {
		t.Errorf("LockAddr: got 0x%X, want 0x1040", p.LockAddr)
	}
}

func TestNew_TinySizing(t *testing.T) {
	p, err := New("tiny416")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.FlashBase != 0x8000 {
		t.Errorf("FlashBase: got 0x%X, want 0x8000", p.FlashBase)
	}
	if p.FlashSize != 4096 {
		t.Errorf("FlashSize: got %d, want 4096", p.FlashSize)
	}
	if p.PageSize != 64 {
		t.Errorf("PageSize: got %d, want 64", p.PageSize)
	}
	if p.FusesBase != 0x1280 {
		t.Errorf("FusesBase: got 0x%X, want 0x1280", p.FusesBase)
	}
	if p.LockAddr != 0 {
		t.Errorf("LockAddr: got 0x%X, want 0 (unset)", p.LockAddr)
	}
}

func TestNew_MegaSizing(t *testing.T) {
	p, err := New("mega4809")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if p.FlashBase != 0x4000 {
		t.Errorf("FlashBase: got 0x%X, want 0x4000", p.FlashBase)
	}
	if p.FlashSize != 48*1024 {
		t.Errorf("FlashSize: got %d, want %d", p.FlashSize, 48*1024)
	}
	if p.PageSize != 128 {
		t.Errorf("PageSize: got %d, want 128", p.PageSize)
	}
}

func TestNew_MegaSmallBucketsUse64ByteSinglePage(t *testing.T) {
	for _, name := range []string{"mega808", "mega1608"} {
		p, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if p.PageSize != 64 {
			t.Errorf("New(%q): PageSize: got %d, want 64", name, p.PageSize)
		}
	}
}

func TestNew_Tiny32kBucketUses128BytePage(t *testing.T) {
	for _, name := range []string{"tiny3216", "tiny3217"} {
		p, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		if p.PageSize != 128 {
			t.Errorf("New(%q): PageSize: got %d, want 128", name, p.PageSize)
		}
	}
}

func TestNew_UnknownDeviceFails(t *testing.T) {
	if _, err := New("nonexistent9999"); err == nil {
		t.Error("expected error for unknown device name")
	}
}

func TestNew_Invariants(t *testing.T) {
	for _, name := range append(SupportedDevices(), "avr128db32", "avr32da28") {
		p, err := New(name)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", name, err)
		}
		switch p.PageSize {
		case 64, 128, 256:
		default:
			t.Errorf("New(%q): page size %d not in {64,128,256}", name, p.PageSize)
		}
		if p.FlashSize%p.PageSize != 0 {
			t.Errorf("New(%q): flash_size %d not a multiple of page_size %d", name, p.FlashSize, p.PageSize)
		}
	}
}
