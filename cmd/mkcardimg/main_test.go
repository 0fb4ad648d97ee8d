//go:build !tinygo

package main

import (
	"bytes"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"

	"maix/fatvol"
	"maix/hal"
	"maix/sdcard"
	"maix/sdcard/sdsim"
)

func TestOpenImageSizesFile(t *testing.T) {
	osfs := afero.NewMemMapFs()
	card, err := openImage(osfs, "/out/card.img", 3)
	if err != nil {
		t.Fatalf("openImage: %v", err)
	}
	defer card.Close()

	st, err := osfs.Stat("/out/card.img")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if want := int64(4 * 1024 * 512); st.Size() != want {
		t.Fatalf("image size = %d, want %d", st.Size(), want)
	}
	if card.Blocks() != 4*1024 {
		t.Fatalf("Blocks = %d", card.Blocks())
	}
}

func TestOpenImageRejectsCSize(t *testing.T) {
	if _, err := openImage(afero.NewMemMapFs(), "card.img", 0); err == nil {
		t.Fatal("csize 0 accepted")
	}
}

func TestRunRequiresDirectory(t *testing.T) {
	osfs := afero.NewMemMapFs()
	if err := afero.WriteFile(osfs, "/src", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	err := run(osfs, "/src", "/card.img", 3)
	if err == nil || !strings.Contains(err.Error(), "not a directory") {
		t.Fatalf("run = %v, want not a directory", err)
	}
}

func TestRunCopiesTree(t *testing.T) {
	osfs := afero.NewMemMapFs()
	if err := afero.WriteFile(osfs, "/src/hello.txt", []byte("hello card"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := afero.WriteFile(osfs, "/src/sub/data.bin", bytes.Repeat([]byte{7}, 3000), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := run(osfs, "/src", "/card.img", 63); err != nil {
		t.Fatalf("run: %v", err)
	}

	card, err := sdsim.OpenImage(osfs, "/card.img", sdsim.Options{CSize: 63})
	if err != nil {
		t.Fatalf("OpenImage: %v", err)
	}
	defer card.Close()
	dev := sdcard.New(card, card.CS(), sdcard.Config{Delay: hal.DelayFunc(func(uint32) {})})
	if _, err := dev.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	disk, err := sdcard.NewDisk(dev)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	vol, err := fatvol.Mount(disk)
	if err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer vol.Unmount()

	var root []string
	if err := vol.ListDir("/", func(e fatvol.Entry) bool {
		root = append(root, e.Name)
		return true
	}); err != nil {
		t.Fatalf("ListDir: %v", err)
	}
	sort.Strings(root)
	if diff := cmp.Diff([]string{"hello.txt", "sub"}, root); diff != "" {
		t.Fatalf("root (-want +got):\n%s", diff)
	}
	got, err := vol.ReadFile("/hello.txt")
	if err != nil || string(got) != "hello card" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
	st, err := vol.Stat("/sub/data.bin")
	if err != nil || st.Size != 3000 {
		t.Fatalf("Stat = %+v, %v", st, err)
	}
}
