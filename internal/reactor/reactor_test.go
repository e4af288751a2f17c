package reactor

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/arcflow-systems/webd/internal/logging"
	"github.com/arcflow-systems/webd/internal/poller"
)

func newTestReactor(t *testing.T, port, maxFD int) (*Reactor, *poller.Fake, string) {
	t.Helper()
	dir := t.TempDir()
	log := logging.New(false, logging.LevelError, 16, nil)
	pfd := poller.NewFake()
	cfg := Config{
		Port:          port,
		ThreadNum:     1,
		QueueCapacity: 4,
		MaxFD:         maxFD,
		SourceRoot:    dir,
	}
	r, err := New(cfg, log, pfd)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.shutdown() })
	return r, pfd, dir
}

func dial(t *testing.T, port int) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return c
}

func TestAcceptLoopRegistersClient(t *testing.T) {
	const port = 19451
	r, _, _ := newTestReactor(t, port, 64)

	client := dial(t, port)
	defer client.Close()

	// Give the kernel a moment to complete the handshake before Accept.
	time.Sleep(10 * time.Millisecond)
	r.acceptLoop()

	if len(r.table) != 1 {
		t.Fatalf("table has %d entries, want 1", len(r.table))
	}
}

func TestAcceptLoopRefusesWhenFull(t *testing.T) {
	const port = 19452
	r, _, _ := newTestReactor(t, port, 0)

	client := dial(t, port)
	defer client.Close()

	time.Sleep(10 * time.Millisecond)
	r.acceptLoop()

	if len(r.table) != 0 {
		t.Fatalf("table has %d entries, want 0 when admission is refused", len(r.table))
	}

	buf := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(time.Second))
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read busy reply: %v", err)
	}
	if string(buf[:n]) != busyReply {
		t.Fatalf("reply = %q, want %q", buf[:n], busyReply)
	}
}

func TestOnReadOnWriteRoundTrip(t *testing.T) {
	const port = 19453
	r, _, dir := newTestReactor(t, port, 64)
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	client := dial(t, port)
	defer client.Close()
	time.Sleep(10 * time.Millisecond)
	r.acceptLoop()

	var fd int
	for k := range r.table {
		fd = k
	}
	conn := r.table[fd]

	if _, err := client.Write([]byte("GET / HTTP/1.1\r\nConnection: close\r\n\r\n")); err != nil {
		t.Fatalf("write request: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	r.onRead(conn)
	r.onWrite(conn)

	client.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	got := string(buf[:n])
	if !strings.HasPrefix(got, "HTTP/1.1 200 OK\r\n") || !strings.HasSuffix(got, "hello") {
		t.Fatalf("unexpected response: %q", got)
	}

	// onWrite posts a close request to closeCh rather than evicting directly
	// (see requestClose); only drainCloseRequests, run on the reactor
	// goroutine, actually removes the connection from the table.
	if _, stillTracked := r.table[fd]; !stillTracked {
		t.Fatal("table eviction must wait for drainCloseRequests, not happen inside onWrite")
	}
	r.drainCloseRequests()
	if _, stillTracked := r.table[fd]; stillTracked {
		t.Fatal("a non-keep-alive connection must be evicted once drainCloseRequests runs")
	}
}

func TestEvictRemovesFromTable(t *testing.T) {
	const port = 19454
	r, _, _ := newTestReactor(t, port, 64)

	client := dial(t, port)
	defer client.Close()
	time.Sleep(10 * time.Millisecond)
	r.acceptLoop()

	var fd int
	for k := range r.table {
		fd = k
	}
	c := r.table[fd]

	r.evict(c)
	if _, ok := r.table[fd]; ok {
		t.Fatal("expected evict to remove the connection from the table")
	}
	if !c.Closed() {
		t.Fatal("expected evict to close the connection")
	}
}
