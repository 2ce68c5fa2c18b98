package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"fs"
	"ufs"
)

// Default layout sizes for a freshly formatted image, chosen so a
// typical skeleton directory of small test fixtures fits comfortably:
// 64Ki blocks of data and metadata, room for 4Ki inodes, and a
// 1Ki-block journal.
const (
	defaultNBlocks       = 65536
	defaultNInodes       = 4096
	defaultJournalBlocks = 1024
)

// copydata reads the file at src in full and writes it into the image
// as dst, inside directory parent.
func copydata(src string, img *fs.Image_t, parent int, dst string) {
	srcFile, err := os.Open(src)
	if err != nil {
		panic(err)
	}
	defer srcFile.Close()

	content, err := io.ReadAll(srcFile)
	if err != nil {
		panic(err)
	}
	img.MkFile(parent, dst, content)
}

// addfiles walks skeldir on the host and replicates its tree into the
// image, rooted at dirIno. Directories are created before their
// contents are visited, since filepath.WalkDir visits a directory
// itself before its entries.
func addfiles(img *fs.Image_t, dirIno int, skeldir string) {
	dirs := map[string]int{"": dirIno}

	err := filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			fmt.Printf("failed to access %q: %v\n", path, err)
			return err
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), "/")
		if rel == "" {
			return nil
		}

		parentRel := filepath.Dir(rel)
		if parentRel == "." {
			parentRel = ""
		}
		parent, ok := dirs[parentRel]
		if !ok {
			fmt.Printf("no parent directory recorded for %v, skipping\n", rel)
			return nil
		}

		name := filepath.Base(rel)
		if d.IsDir() {
			ino := img.MkDir(parent, name)
			dirs[rel] = ino
			return nil
		}

		copydata(path, img, parent, name)
		return nil
	})

	if err != nil {
		fmt.Printf("error walking the path %q: %v\n", skeldir, err)
		os.Exit(1)
	}
}

// main formats a fresh SFS image file and, if a skeleton directory is
// given, populates it by walking that directory and creating matching
// files and subdirectories directly against the image.
func main() {
	if len(os.Args) < 2 {
		fmt.Printf("Usage: mkfs <output image> [skel dir]\n")
		os.Exit(1)
	}

	image := os.Args[1]
	disk := ufs.CreateDisk(image, defaultNBlocks)
	defer ufs.CloseDisk(disk)

	img := fs.NewImage(disk, ufs.BlockMem, defaultNBlocks, defaultNInodes, defaultJournalBlocks)

	if len(os.Args) >= 3 {
		addfiles(img, fs.RootIno, os.Args[2])
	}
}
