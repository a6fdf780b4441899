// Command packpayload is the host-side producer of the two-architecture
// payload blob (§4.L): it walks one ESP directory tree per architecture,
// applies the threshold-and-ratio compression policy per file, and
// emits the "SURV" blob the flasher consumes.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	flags "github.com/jessevdk/go-flags"

	"github.com/levkropp/survival/pkg/payload"
	"github.com/levkropp/survival/pkg/wslog"
)

type options struct {
	X8664   string `long:"x86_64" description:"ESP directory tree for the x86_64 architecture"`
	AArch64 string `long:"aarch64" description:"ESP directory tree for the aarch64 architecture"`
	Out     string `short:"o" long:"out" default:"payload.bin" description:"output blob path"`
	MaxSize int    `long:"max-size" description:"partition capacity in bytes; 0 disables the check"`
	List    bool   `short:"l" long:"list" description:"print the manifest after packing"`
}

func main() {
	var opts options
	if _, err := flags.ParseArgs(&opts, os.Args[1:]); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		wslog.Fatalf("packpayload: %v", err)
	}
	if opts.X8664 == "" && opts.AArch64 == "" {
		wslog.Fatalf("packpayload: at least one of --x86_64 / --aarch64 is required")
	}

	var arches []payload.Arch
	for _, in := range []struct{ name, dir string }{
		{"x86_64", opts.X8664},
		{"aarch64", opts.AArch64},
	} {
		if in.dir == "" {
			continue
		}
		files, err := collect(in.dir)
		if err != nil {
			wslog.Fatalf("packpayload: %s: %v", in.dir, err)
		}
		arches = append(arches, payload.Arch{Name: in.name, Files: files})
	}

	blob, err := payload.Pack(arches, opts.MaxSize)
	if err != nil {
		wslog.Fatalf("packpayload: %v", err)
	}
	if err := os.WriteFile(opts.Out, blob, 0o644); err != nil {
		wslog.Fatalf("packpayload: %v", err)
	}
	fmt.Printf("wrote %s (%d bytes, %d architecture(s))\n", opts.Out, len(blob), len(arches))

	if opts.List {
		printManifest(blob)
	}
}

// collect walks an ESP tree and returns its files with payload-relative
// paths, sorted for reproducible output.
func collect(root string) ([]payload.File, error) {
	var out []payload.File
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		out = append(out, payload.File{
			Path: "/" + strings.ReplaceAll(rel, string(filepath.Separator), "/"),
			Data: data,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func printManifest(blob []byte) {
	r, err := payload.Parse(blob)
	if err != nil {
		wslog.Fatalf("packpayload: re-parse: %v", err)
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Arch", "Path", "Original", "Stored", "Mode"})
	for _, a := range r.Arches() {
		for _, f := range a.Files {
			mode := "deflate"
			if f.CompressedSize == 0 {
				mode = "stored"
			}
			t.AppendRow(table.Row{a.Name, f.Path, f.OriginalSize, f.StoredSize(), mode})
		}
	}
	t.Render()
}
