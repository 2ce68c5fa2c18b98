package fs

import "mem"

// fieldr/fieldw overlay fixed-width integer fields onto a raw page the
// way the teacher's on-disk structures do (Superblock_t, Dinode_t):
// the struct itself is just a pointer to the page, and every accessor
// is a small function reading or writing a known byte offset. Widened
// here to take an explicit byte offset (rather than a fixed stride)
// since SFS packs 16- and 32-bit fields next to variable-length byte
// arrays (volume name, directory entry names).

func fieldr(data *mem.Bytepg_t, byteOff int) int {
	b := data[byteOff : byteOff+4]
	return int(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

func fieldw(data *mem.Bytepg_t, byteOff int, v int) {
	b := data[byteOff : byteOff+4]
	u := uint32(v)
	b[0] = byte(u >> 24)
	b[1] = byte(u >> 16)
	b[2] = byte(u >> 8)
	b[3] = byte(u)
}

func field16r(data *mem.Bytepg_t, byteOff int) int {
	b := data[byteOff : byteOff+2]
	return int(uint16(b[0])<<8 | uint16(b[1]))
}

func field16w(data *mem.Bytepg_t, byteOff int, v int) {
	b := data[byteOff : byteOff+2]
	u := uint16(v)
	b[0] = byte(u >> 8)
	b[1] = byte(u)
}

func fieldstrr(data *mem.Bytepg_t, byteOff, n int) string {
	b := data[byteOff : byteOff+n]
	i := 0
	for i < n && b[i] != 0 {
		i++
	}
	return string(b[:i])
}

func fieldstrw(data *mem.Bytepg_t, byteOff, n int, s string) {
	b := data[byteOff : byteOff+n]
	for i := range b {
		b[i] = 0
	}
	copy(b, s)
}
