package rewind

import (
	"io"
	"net"
	"testing"
)

func TestReadDrainsBufferThenUnderlying(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("world"))
	}()

	c := New(server, []byte("hello "))

	got := make([]byte, 11)
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestReadWithEmptyBufferGoesStraightThrough(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = client.Write([]byte("abc"))
	}()

	c := New(server, nil)
	got := make([]byte, 3)
	if _, err := io.ReadFull(c, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q, want %q", got, "abc")
	}
}

func TestWritePassesThrough(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	c := New(server, []byte("x"))

	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 5)
		n, _ := client.Read(buf)
		done <- buf[:n]
	}()

	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got := <-done; string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}
}
