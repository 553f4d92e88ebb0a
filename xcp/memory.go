package xcp

import "unsafe"

// readAbsolute copies n bytes starting at host address addr. Used only for
// ExtAbsolute UPLOAD/SHORT_UPLOAD; callers are the embedding application's
// own trusted master, so no further validation is attempted here beyond
// what the application chose to expose.
func readAbsolute(addr uint32, n uint16) []byte {
	ptr := unsafe.Pointer(uintptr(addr))
	src := unsafe.Slice((*byte)(ptr), n)
	out := make([]byte, n)
	copy(out, src)
	return out
}

func writeAbsolute(addr uint32, data []byte) error {
	ptr := unsafe.Pointer(uintptr(addr))
	dst := unsafe.Slice((*byte)(ptr), len(data))
	copy(dst, data)
	return nil
}
