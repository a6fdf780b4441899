package libc

// Open reads the full file at path into memory via the filesystem
// facade and allocates a descriptor slot with a base pointer and
// position (§4.F). Returns -1 on failure (NotFound, AccessDenied, ...).
func (s *Shim) Open(path string) int32 {
	if s.volume == nil {
		return -1
	}
	data, err := s.volume.ReadFile(path)
	if err != nil {
		return -1
	}
	s.mu.Lock()
	fd := s.next
	s.next++
	s.fds[fd] = &fdSlot{data: data}
	s.mu.Unlock()
	return fd
}

// Read copies up to n bytes from fd's current position into buf,
// advancing the position. Descriptor must have been returned by Open;
// reading from 0/1/2 or an unknown fd returns -1.
func (s *Shim) Read(fd int32, buf []byte, n int) int {
	s.mu.Lock()
	slot := s.fds[fd]
	s.mu.Unlock()
	if slot == nil {
		return -1
	}
	remaining := len(slot.data) - slot.pos
	if n > remaining {
		n = remaining
	}
	if n <= 0 {
		return 0
	}
	copy(buf[:n], slot.data[slot.pos:slot.pos+n])
	slot.pos += n
	return n
}

// Write supports only fd 1/2, which route to the output sink (§4.F);
// writes to any other fd are unsupported and return -1.
func (s *Shim) Write(fd int32, buf []byte) int {
	n, ok := s.Sink.WriteStream(fd, buf)
	if !ok {
		return -1
	}
	return n
}

// Lseek values for whence, matching C's SEEK_SET/SEEK_CUR/SEEK_END.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Lseek adjusts fd's read position.
func (s *Shim) Lseek(fd int32, offset int, whence int) int {
	s.mu.Lock()
	slot := s.fds[fd]
	s.mu.Unlock()
	if slot == nil {
		return -1
	}
	switch whence {
	case SeekSet:
		slot.pos = offset
	case SeekCur:
		slot.pos += offset
	case SeekEnd:
		slot.pos = len(slot.data) + offset
	default:
		return -1
	}
	if slot.pos < 0 {
		slot.pos = 0
	}
	return slot.pos
}

// Close frees fd's slot.
func (s *Shim) Close(fd int32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fds[fd]; !ok {
		return -1
	}
	delete(s.fds, fd)
	return 0
}

// FileHandle is the opaque value returned by Fopen: fd + 100, biased so
// that it never collides with a raw descriptor and so no heap
// allocation for a FILE structure is needed (§4.F "FILE*-based
// wrappers").
type FileHandle int32

const fileHandleBias int32 = 100

// Fopen opens path and returns a FileHandle, or 0 (NULL-equivalent) on
// failure. mode is accepted for source compatibility but ignored: every
// file this shim serves is read via Open, and write-mode opens of
// workstation source files are not part of the compiler's own I/O
// surface (the compiler writes its binary output through pkg/cc/link,
// not through fopen).
func (s *Shim) Fopen(path string, mode string) FileHandle {
	fd := s.Open(path)
	if fd < 0 {
		return 0
	}
	return FileHandle(fd + fileHandleBias)
}

// Fread reads n items of size itemSize from fp into buf, returning the
// number of complete items read.
func (s *Shim) Fread(buf []byte, itemSize, n int, fp FileHandle) int {
	fd := int32(fp) - fileHandleBias
	total := itemSize * n
	got := s.Read(fd, buf, total)
	if got <= 0 || itemSize == 0 {
		return 0
	}
	return got / itemSize
}

// Fclose closes fp.
func (s *Shim) Fclose(fp FileHandle) int {
	return s.Close(int32(fp) - fileHandleBias)
}
