// Command flasher drives the flash pipeline (§4.M) against a
// file-backed device image: it maps the payload, simulates the
// microcontroller's block-device view over the image file, writes
// GPT + FAT32 + files, and reports per-stage progress. On the real MCU
// the same pkg/flasher pipeline runs over the hardware block transport;
// this command is the host-side harness for it.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	flags "github.com/jessevdk/go-flags"

	"github.com/levkropp/survival/pkg/blockdev"
	"github.com/levkropp/survival/pkg/firmware/simfw"
	"github.com/levkropp/survival/pkg/flasher"
	"github.com/levkropp/survival/pkg/payload"
	"github.com/levkropp/survival/pkg/wslog"
)

type options struct {
	Payload string `short:"p" long:"payload" required:"true" description:"payload blob (from packpayload)"`
	Image   string `short:"i" long:"image" required:"true" description:"target device image file (created if --size is given)"`
	Size    int64  `long:"size" description:"create the image file with this size in MiB"`
	Arch    string `short:"a" long:"arch" default:"x86_64" description:"architecture to flash"`
	Yes     bool   `short:"y" long:"yes" description:"skip the confirmation prompt"`
	List    bool   `short:"l" long:"list" description:"list payload architectures and exit"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		wslog.Fatalf("flasher: %v", err)
	}

	blob, err := os.ReadFile(opts.Payload)
	if err != nil {
		wslog.Fatalf("flasher: %v", err)
	}
	pay, err := payload.Parse(blob)
	if err != nil {
		wslog.Fatalf("flasher: %v", err)
	}
	if opts.List {
		listArches(pay)
		return
	}

	image, err := loadImage(opts)
	if err != nil {
		wslog.Fatalf("flasher: %v", err)
	}

	// The simulated firmware exposes two devices: the "boot" device the
	// pipeline must refuse, and the flash target.
	fw := simfw.New(os.Stdout)
	bootH := fw.AddDisk("boot", false, true, 512, make([]byte, 1<<20))
	fw.AddDisk("usb", true, false, 512, image)
	layer := blockdev.New(fw, bootH)

	f := flasher.New(layer, fw, func(stage string, done, total int) {
		if total > 0 {
			fmt.Printf("\r[%d/%d] %s        ", done, total, stage)
		} else {
			fmt.Printf("\n%s...", stage)
		}
	}, nil)

	targets, err := f.Candidates()
	if err != nil {
		wslog.Fatalf("flasher: %v", err)
	}
	if len(targets) == 0 {
		wslog.Fatalf("flasher: no candidate device")
	}

	err = f.Flash(flasher.Request{
		Target:   targets[0],
		Image:    image,
		Payload:  pay,
		ArchName: opts.Arch,
		Confirm:  confirmer(opts.Yes),
	})
	fmt.Println()
	if err != nil {
		wslog.Fatalf("flasher: %v", err)
	}
	if err := os.WriteFile(opts.Image, image, 0o644); err != nil {
		wslog.Fatalf("flasher: %v", err)
	}
	fmt.Printf("flashed %s (%s) to %s\n", opts.Payload, opts.Arch, opts.Image)
}

func loadImage(opts options) ([]byte, error) {
	if opts.Size > 0 {
		return make([]byte, opts.Size<<20), nil
	}
	return os.ReadFile(opts.Image)
}

func confirmer(yes bool) func(string) bool {
	return func(summary string) bool {
		if yes {
			return true
		}
		fmt.Printf("%s [y/N] ", summary)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), "y")
	}
}

func listArches(pay *payload.Reader) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Arch", "Files", "Data Start"})
	for _, a := range pay.Arches() {
		t.AppendRow(table.Row{a.Name, len(a.Files), a.DataStart})
	}
	t.Render()
}
