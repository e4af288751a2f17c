package conn

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func socketPair(t *testing.T) (int, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}
	if err := unix.SetNonblock(fds[0], true); err != nil {
		t.Fatalf("set nonblock: %v", err)
	}
	return fds[0], fds[1]
}

func TestNewBumpsUserCount(t *testing.T) {
	before := UserCount()
	fd, peer := socketPair(t)
	defer unix.Close(peer)

	c := New(fd, nil, "")
	if UserCount() != before+1 {
		t.Fatalf("UserCount = %d, want %d", UserCount(), before+1)
	}
	c.Close()
	if UserCount() != before {
		t.Fatalf("UserCount after Close = %d, want %d", UserCount(), before)
	}
}

func TestProcessServesStaticFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	fd, peer := socketPair(t)
	defer unix.Close(peer)
	c := New(fd, nil, dir)
	defer c.Close()

	if _, err := unix.Write(peer, []byte("GET / HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := c.Read(); err != nil && err != unix.EAGAIN {
		t.Fatalf("Read: %v", err)
	}

	ready := c.Process()
	if !ready {
		t.Fatal("expected Process to report a ready response")
	}
	if c.State() != StateWriting {
		t.Fatalf("State = %v, want StateWriting", c.State())
	}
	if c.ToWriteBytes() == 0 {
		t.Fatal("expected a non-empty gather-write descriptor")
	}

	if err := c.Write(false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if c.ToWriteBytes() != 0 {
		t.Fatalf("ToWriteBytes after Write = %d, want 0", c.ToWriteBytes())
	}

	out := make([]byte, 4096)
	n, err := unix.Read(peer, out)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	got := string(out[:n])
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(got, "hello") {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestProcessMalformedRequestIs400(t *testing.T) {
	fd, peer := socketPair(t)
	defer unix.Close(peer)
	c := New(fd, nil, t.TempDir())
	defer c.Close()

	if _, err := unix.Write(peer, []byte("BOGUS /x HTTP/1.1\r\n\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Read()

	if !c.Process() {
		t.Fatal("expected a ready (error) response for a malformed request")
	}
	if c.IsKeepAlive() {
		t.Fatal("a malformed request must force connection close")
	}
	if got := string(c.WriteBuf.Peek()); !strings.HasPrefix(got, "HTTP/1.1 400 Bad Request\r\n") {
		t.Fatalf("unexpected response: %q", got)
	}
}

func TestProcessIncompleteRequestWaitsForMoreBytes(t *testing.T) {
	fd, peer := socketPair(t)
	defer unix.Close(peer)
	c := New(fd, nil, t.TempDir())
	defer c.Close()

	if _, err := unix.Write(peer, []byte("GET /index.html HTTP/1.1\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	c.Read()

	if c.Process() {
		t.Fatal("expected Process to report not-ready for a header-incomplete request")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	fd, peer := socketPair(t)
	defer unix.Close(peer)
	c := New(fd, nil, "")
	c.Close()
	c.Close() // must not panic or double-decrement userCount
	if c.State() != StateClosed || !c.Closed() {
		t.Fatalf("expected closed state, got %v closed=%v", c.State(), c.Closed())
	}
}

func TestFinishKeepAliveResetsState(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hi"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	fd, peer := socketPair(t)
	defer unix.Close(peer)
	c := New(fd, nil, dir)
	defer c.Close()

	unix.Write(peer, []byte("GET / HTTP/1.1\r\n\r\n"))
	c.Read()
	c.Process()
	c.Write(false)

	c.FinishKeepAlive()
	if c.State() != StateIdle {
		t.Fatalf("State after FinishKeepAlive = %v, want StateIdle", c.State())
	}
	if c.ToWriteBytes() != 0 {
		t.Fatalf("ToWriteBytes after FinishKeepAlive = %d, want 0", c.ToWriteBytes())
	}
}
