// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package genmeta

import "hash/crc32"

// CRC32 returns the IEEE CRC-32 (polynomial 0xEDB88320) of b,
// the checksum used by PNG chunks.
func CRC32(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}

// chunkCRC returns the PNG CRC of a chunk, computed over its type and data.
func chunkCRC(typ chunkType, data []byte) uint32 {
	h := crc32.NewIEEE()
	t := typ.fourCC()
	h.Write(t[:])
	h.Write(data)
	return h.Sum32()
}
