package libc

import "strings"

// Strings in this shim are NUL-terminated []byte, the same convention C
// uses; cstrlen below finds the terminator the way the real strlen scans
// for it.

// cstrlen returns the length of the NUL-terminated string starting at
// s[0], not counting the terminator. Scanning an un-terminated slice is
// a caller bug in C too; instead of running off the end of s, this shim
// stops there and returns len(s).
func cstrlen(s []byte) int {
	for i, b := range s {
		if b == 0 {
			return i
		}
	}
	return len(s)
}

// Strlen returns the length of s up to (not including) its NUL
// terminator.
func Strlen(s []byte) int { return cstrlen(s) }

// Strcpy copies src (including its terminator) into dst and returns dst.
func Strcpy(dst, src []byte) []byte {
	n := cstrlen(src)
	copy(dst[:n+1], src[:n+1])
	return dst
}

// Strncpy copies at most n bytes from src into dst, NUL-padding dst up
// to n if src is shorter, and not NUL-terminating if src is n bytes or
// longer, matching C's famously surprising contract.
func Strncpy(dst, src []byte, n int) []byte {
	srcLen := cstrlen(src)
	if srcLen > n {
		srcLen = n
	}
	copy(dst[:srcLen], src[:srcLen])
	for i := srcLen; i < n; i++ {
		dst[i] = 0
	}
	return dst
}

// Strcmp compares two NUL-terminated strings.
func Strcmp(a, b []byte) int {
	return Memcmp(a, b, minInt(cstrlen(a), cstrlen(b))+1)
}

// Strncmp compares at most n bytes of two NUL-terminated strings.
func Strncmp(a, b []byte, n int) int {
	la, lb := cstrlen(a), cstrlen(b)
	for i := 0; i < n; i++ {
		var ca, cb byte
		if i < la {
			ca = a[i]
		}
		if i < lb {
			cb = b[i]
		}
		if ca != cb {
			return int(ca) - int(cb)
		}
		if ca == 0 {
			break
		}
	}
	return 0
}

// Strcasecmp compares two NUL-terminated strings ignoring ASCII case.
func Strcasecmp(a, b []byte) int {
	return strings.Compare(strings.ToLower(cstr(a)), strings.ToLower(cstr(b)))
}

// Strcat appends src (with its terminator) onto the end of dst's
// existing content.
func Strcat(dst, src []byte) []byte {
	dstLen := cstrlen(dst)
	srcLen := cstrlen(src)
	copy(dst[dstLen:dstLen+srcLen+1], src[:srcLen+1])
	return dst
}

// Strncat appends at most n bytes of src onto dst, always NUL-
// terminating the result (unlike Strncpy).
func Strncat(dst, src []byte, n int) []byte {
	dstLen := cstrlen(dst)
	srcLen := cstrlen(src)
	if srcLen > n {
		srcLen = n
	}
	copy(dst[dstLen:dstLen+srcLen], src[:srcLen])
	dst[dstLen+srcLen] = 0
	return dst
}

// Strchr returns the index of the first occurrence of c in s (searching
// forward, terminator included as a possible match for c==0), or -1.
func Strchr(s []byte, c byte) int {
	n := cstrlen(s)
	for i := 0; i <= n; i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// Strrchr returns the index of the last occurrence of c in s, or -1.
func Strrchr(s []byte, c byte) int {
	n := cstrlen(s)
	for i := n; i >= 0; i-- {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// Strstr returns the index in haystack where needle first occurs, or -1.
func Strstr(haystack, needle []byte) int {
	h := cstr(haystack)
	n := cstr(needle)
	i := strings.Index(h, n)
	return i
}

// Strdup allocates a copy of s (including terminator) using the shim's
// allocator.
func (s *Shim) Strdup(src []byte) []byte {
	n := cstrlen(src)
	dup := s.Alloc.Allocate(n + 1)
	copy(dup, src[:n+1])
	return dup
}

func cstr(b []byte) string { return string(b[:cstrlen(b)]) }

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
