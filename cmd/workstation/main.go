// Command workstation is the simulated firmware-application entry
// point: it performs the same bootstrap sequence efi_main runs on real
// firmware (services, allocator, block layer, volume mount) against the
// simulation backend, then drives the compile-and-run pipeline on a
// source file. It exists so the core (§2 components A-K) is exercisable
// end-to-end from a shell.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/levkropp/survival/pkg/blockdev"
	"github.com/levkropp/survival/pkg/firmware/simfw"
	"github.com/levkropp/survival/pkg/fs/fat32"
	"github.com/levkropp/survival/pkg/memalloc"
	"github.com/levkropp/survival/pkg/runner"
	"github.com/levkropp/survival/pkg/wslog"
)

var diskSize = flag.Int("disk-mib", 64, "size of the simulated home volume in MiB")

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "usage: workstation [flags] <source.c>\n")
		os.Exit(2)
	}
	src, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		wslog.Fatalf("workstation: %v", err)
	}

	status := efiMain(src, flag.Arg(0))
	os.Exit(status)
}

// efiMain mirrors the firmware entry contract (§6): bootstrap services,
// record the boot-image handle, mount the home volume, run.
func efiMain(src []byte, filename string) int {
	fw := simfw.New(os.Stdout)

	// Bootstrap order per §9 "Global mutable state": explicit
	// initialization, no static construction order.
	alloc := memalloc.New(fw)

	// Home volume: a formatted in-memory device standing in for the
	// boot ESP.
	dev := make([]byte, *diskSize<<20)
	if err := fat32.Format(dev, "SURVIVAL"); err != nil {
		wslog.Errorf("workstation: format: %v", err)
		return 1
	}
	bootH := fw.AddDisk("boot", false, true, 512, dev)
	layer := blockdev.New(fw, bootH)
	if _, err := layer.Enumerate(0); err != nil {
		wslog.Errorf("workstation: enumerate: %v", err)
		return 1
	}
	vol, err := fat32.Mount(dev)
	if err != nil {
		wslog.Errorf("workstation: mount: %v", err)
		return 1
	}
	defer vol.Close()

	r := runner.New(fw, alloc, vol, os.Stdout)
	res, err := r.RunSource(string(src), filename)
	if err != nil {
		wslog.Errorf("workstation: %v", err)
		return 1
	}
	if !res.Success {
		fmt.Fprintln(os.Stderr, res.ErrorMsg)
		return 1
	}
	if res.ErrorMsg != "" {
		fmt.Fprintln(os.Stderr, res.ErrorMsg)
	}
	fmt.Printf("\nexit code %d\n", res.ExitCode)

	// Leak check: everything user code malloc'd and freed balances out;
	// report what it leaked, the way the on-hardware build surfaces it
	// on the status line.
	if s := alloc.Stats(); s.LiveAllocations > 0 {
		wslog.Warnf("workstation: %d allocation(s), %d byte(s) still live", s.LiveAllocations, s.LiveBytes)
	}
	return res.ExitCode
}
