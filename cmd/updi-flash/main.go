// Command updi-flash programs, erases, and inspects AVR UPDI targets over
// a serial link.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/avrupdi/updi-flash/deviceprofile"
	"github.com/avrupdi/updi-flash/heximage"
	"github.com/avrupdi/updi-flash/serial"
	"github.com/avrupdi/updi-flash/updiphy"
	"github.com/avrupdi/updi-flash/updisession"
)

var log = logrus.New()

type flags struct {
	device    string
	comport   string
	baudrate  int
	flashFile string
	erase     bool
	reset     bool
	info      bool
	fuseValue int
	verbose   bool
}

func main() {
	f := &flags{}

	root := &cobra.Command{
		Use:   "updi-flash",
		Short: "Program AVR UPDI targets over a serial link",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f)
		},
	}

	root.Flags().StringVarP(&f.device, "device", "d", "", "AVR part name (e.g. avr128db32, tiny416)")
	root.Flags().StringVarP(&f.comport, "comport", "c", "", "serial device path")
	root.Flags().IntVarP(&f.baudrate, "baudrate", "b", 115200, "baud rate")
	root.Flags().StringVarP(&f.flashFile, "flash", "f", "", "Intel-HEX file to program (implies erase + verify)")
	root.Flags().BoolVarP(&f.erase, "erase", "e", false, "chip-erase only")
	root.Flags().BoolVarP(&f.reset, "reset", "r", false, "reset target and exit without touching NVM")
	root.Flags().BoolVarP(&f.info, "info", "i", false, "read and print the SIB")
	root.Flags().Int("writefuse", -1, "write fuse byte N (pairs with --fusebit)")
	root.Flags().Int("readfuse", -1, "read fuse byte N")
	root.Flags().IntVar(&f.fuseValue, "fusebit", -1, "fuse value for --writefuse")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "verbose logging")

	root.MarkFlagRequired("device")
	root.MarkFlagRequired("comport")
	root.MarkFlagRequired("baudrate")

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(cmd *cobra.Command, f *flags) error {
	if f.verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	profile, err := deviceprofile.New(f.device)
	if err != nil {
		return fmt.Errorf("unsupported device %q: %w", f.device, err)
	}

	log.Infof("opening %s at %d baud", f.comport, f.baudrate)
	link, err := serial.Open(f.comport, f.baudrate)
	if err != nil {
		return err
	}
	defer link.Close()

	phy, err := updiphy.New(link)
	if err != nil {
		return err
	}

	session := updisession.New(phy, profile)
	programmer := updisession.NewProgrammer(session)

	sib, err := programmer.DeviceInfo()
	if err != nil {
		return fmt.Errorf("reading device info: %w", err)
	}
	log.Infof("SIB: %s", sib)

	if f.info {
		fmt.Println(sib)
	}

	if f.reset {
		log.Info("reset requested, no NVM operations to perform")
		return nil
	}

	if !f.erase && f.flashFile == "" && !flagChanged(cmd, "writefuse") && !flagChanged(cmd, "readfuse") {
		return nil
	}

	if err := enterProgModeWithFallback(programmer); err != nil {
		return fmt.Errorf("entering programming mode: %w", err)
	}
	defer func() {
		if err := programmer.LeaveProgMode(); err != nil {
			log.Warnf("leave_progmode: %v", err)
		}
	}()

	if f.erase || f.flashFile != "" {
		log.Info("erasing chip")
		if err := programmer.ChipErase(); err != nil {
			return fmt.Errorf("chip erase: %w", err)
		}
	}

	if f.flashFile != "" {
		if err := flashAndVerify(programmer, profile, f.flashFile); err != nil {
			return err
		}
	}

	if flagChanged(cmd, "writefuse") {
		index, _ := cmd.Flags().GetInt("writefuse")
		if f.fuseValue < 0 {
			return errors.New("--writefuse requires --fusebit")
		}
		log.Infof("writing fuse %d = 0x%02X", index, f.fuseValue)
		if err := programmer.WriteFuse(index, byte(f.fuseValue)); err != nil {
			return fmt.Errorf("write fuse %d: %w", index, err)
		}
	}

	if flagChanged(cmd, "readfuse") {
		index, _ := cmd.Flags().GetInt("readfuse")
		value, err := programmer.ReadFuse(index)
		if err != nil {
			return fmt.Errorf("read fuse %d: %w", index, err)
		}
		fmt.Printf("fuse %d = 0x%02X\n", index, value)
	}

	return nil
}

func flagChanged(cmd *cobra.Command, name string) bool {
	return cmd.Flags().Changed(name)
}

// enterProgModeWithFallback attempts EnterProgMode and falls back to the
// chip-erase unlock sequence if the device rejected the key or never
// settled into programming mode.
func enterProgModeWithFallback(p *updisession.Programmer) error {
	err := p.EnterProgMode()
	if err == nil {
		return nil
	}
	if !errors.Is(err, updisession.ErrKeyRejected) && !errors.Is(err, updisession.ErrTimeout) {
		return err
	}

	log.Warnf("enter_progmode failed (%v), attempting unlock", err)
	return p.UnlockDevice()
}

func flashAndVerify(p *updisession.Programmer, profile deviceprofile.Profile, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	img := heximage.New(profile.FlashSize, profile.PageSize)
	start, err := img.Load(file)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	log.Infof("loaded %d bytes starting at offset 0x%X, %d pages", img.FirmwareSize, start, len(img.Pages))

	pages := make([]updisession.Page, len(img.Pages))
	for i, pg := range img.Pages {
		pages[i] = updisession.Page{Offset: pg.Offset, Data: pg.Data}
	}

	log.Info("writing flash")
	if err := p.WriteFlash(start, pages); err != nil {
		return fmt.Errorf("writing flash: %w", err)
	}

	log.Info("verifying flash")
	verifySize := uint32(len(pages)) * profile.PageSize
	readBack, err := p.ReadFlash(profile.FlashBase+start, verifySize)
	if err != nil {
		return fmt.Errorf("reading back flash: %w", err)
	}
	var want []byte
	for _, pg := range pages {
		want = append(want, pg.Data...)
	}
	for i := range want {
		if readBack[i] != want[i] {
			return fmt.Errorf("verify mismatch at offset 0x%X: wrote 0x%02X, read 0x%02X", start+uint32(i), want[i], readBack[i])
		}
	}
	log.Info("flash verified")
	return nil
}
