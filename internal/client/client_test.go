package client

import (
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/Voltline/Betterfly-Server-Go/internal/codec"
	"github.com/Voltline/Betterfly-Server-Go/internal/message"
)

// fakeServer is a bare listener that lets tests act as the remote end
// of one client connection.
type fakeServer struct {
	t  *testing.T
	ln net.Listener
}

func startFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	return &fakeServer{t: t, ln: ln}
}

func (s *fakeServer) addr() string { return s.ln.Addr().String() }

func (s *fakeServer) accept() net.Conn {
	s.t.Helper()
	s.ln.(*net.TCPListener).SetDeadline(time.Now().Add(2 * time.Second))
	conn, err := s.ln.Accept()
	if err != nil {
		s.t.Fatalf("accept: %v", err)
	}
	s.t.Cleanup(func() { conn.Close() })
	return conn
}

// readRequests reads one batch from conn and parses every frame in it.
func readRequests(t *testing.T, conn net.Conn) []message.Request {
	t.Helper()
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	frames, err := codec.New(nil).Decode(buf[:n])
	if err != nil {
		t.Fatalf("server decode: %v", err)
	}
	reqs := make([]message.Request, 0, len(frames))
	for _, f := range frames {
		r, err := message.Parse(f)
		if err != nil {
			t.Fatalf("server parse: %v", err)
		}
		reqs = append(reqs, r)
	}
	return reqs
}

func writeResponses(t *testing.T, conn net.Conn, resps ...*message.Response) {
	t.Helper()
	var batch []byte
	for _, r := range resps {
		raw, err := r.Bytes()
		if err != nil {
			t.Fatalf("serialise response: %v", err)
		}
		frame, err := codec.New(nil).Encode(raw)
		if err != nil {
			t.Fatalf("encode response: %v", err)
		}
		batch = append(batch, frame...)
	}
	if _, err := conn.Write(batch); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func TestLogin_FrameShape(t *testing.T) {
	srv := startFakeServer(t)

	cli, err := Dial(srv.addr(), 1001, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	conn := srv.accept()

	last := time.Date(2025, 3, 14, 9, 26, 53, 0, time.Local)
	if err := cli.Login(last, "tok-1"); err != nil {
		t.Fatalf("login: %v", err)
	}

	reqs := readRequests(t, conn)
	if len(reqs) != 1 {
		t.Fatalf("got %d requests, want 1", len(reqs))
	}
	login, ok := reqs[0].(message.Login)
	if !ok {
		t.Fatalf("got %T, want message.Login", reqs[0])
	}
	if login.From != 1001 || login.Name != "alice" {
		t.Errorf("got from=%d name=%q, want 1001 alice", login.From, login.Name)
	}
	if !login.LastLogin.Equal(last) {
		t.Errorf("got lastLogin %v, want %v", login.LastLogin, last)
	}
	if login.APNsToken != "tok-1" {
		t.Errorf("got token %q, want tok-1", login.APNsToken)
	}
}

func TestLogin_OmitsEmptyToken(t *testing.T) {
	srv := startFakeServer(t)

	cli, err := Dial(srv.addr(), 1001, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	conn := srv.accept()

	if err := cli.Login(time.Now(), ""); err != nil {
		t.Fatalf("login: %v", err)
	}

	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(buf[:n], &raw); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if _, ok := raw["user_apn_token"]; ok {
		t.Error("empty token emitted on the wire")
	}
}

func TestPost_EncodesDestination(t *testing.T) {
	srv := startFakeServer(t)

	cli, err := Dial(srv.addr(), 1001, "alice")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	conn := srv.accept()

	if err := cli.Post(2001, "hi all", "text", true); err != nil {
		t.Fatalf("post: %v", err)
	}

	reqs := readRequests(t, conn)
	post, ok := reqs[0].(message.Post)
	if !ok {
		t.Fatalf("got %T, want message.Post", reqs[0])
	}
	if post.From != 1001 || post.To != 2001 {
		t.Errorf("got from=%d to=%d, want 1001 2001", post.From, post.To)
	}
	if post.Text != "hi all" || post.MsgType != "text" || !post.IsGroup {
		t.Errorf("got text=%q msgType=%q isGroup=%v, want hi all text true", post.Text, post.MsgType, post.IsGroup)
	}
	if post.Name != "alice" {
		t.Errorf("got name %q, want alice", post.Name)
	}
}

func TestRecv_SplitsCoalescedFrames(t *testing.T) {
	srv := startFakeServer(t)

	cli, err := Dial(srv.addr(), 1001, "alice", WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	conn := srv.accept()

	writeResponses(t, conn,
		message.ServerText("first"),
		message.ServerText("second"),
	)

	for _, want := range []string{"first", "second"} {
		resp, err := cli.Recv()
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		if resp.Type != message.RespServer {
			t.Fatalf("got kind %v, want Server", resp.Type)
		}
		if got := resp.Text(); got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestRecv_TimeoutIsNetError(t *testing.T) {
	srv := startFakeServer(t)

	cli, err := Dial(srv.addr(), 1001, "alice", WithTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	srv.accept()

	_, err = cli.Recv()
	if err == nil {
		t.Fatal("recv returned without a frame")
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("got %v, want a timeout", err)
	}
}

func TestRecv_ServerCloseSurfacesError(t *testing.T) {
	srv := startFakeServer(t)

	cli, err := Dial(srv.addr(), 1001, "alice", WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer cli.Close()
	conn := srv.accept()
	conn.Close()

	if _, err := cli.Recv(); err == nil {
		t.Fatal("recv succeeded on a closed connection")
	}
}
