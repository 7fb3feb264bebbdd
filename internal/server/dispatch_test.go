package server

import (
	"net"
	"testing"
	"time"

	"github.com/Voltline/Betterfly-Server-Go/internal/client"
	"github.com/Voltline/Betterfly-Server-Go/internal/message"
	"github.com/Voltline/Betterfly-Server-Go/internal/push"
)

func TestPost_DirectDeliversToBothEnds(t *testing.T) {
	env := setupTestServer(t)
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")

	if err := a.Post(1002, "hi bob", "text", false); err != nil {
		t.Fatal(err)
	}

	echo := recvFrame(t, a)
	if echo.Type != message.RespPost || echo.Text() != "hi bob" {
		t.Fatalf("echo = %v %q", echo.Type, echo.Text())
	}
	got := recvFrame(t, b)
	if got.FromID() != 1001 || got.ToID() != 1002 {
		t.Fatalf("delivery from/to = %d/%d, want 1001/1002", got.FromID(), got.ToID())
	}
	if got.SenderName() != "alice" || got.Group() {
		t.Fatalf("delivery name=%q group=%v", got.SenderName(), got.Group())
	}

	rows := env.store.allMessages()
	if len(rows) != 1 || rows[0].text != "hi bob" || rows[0].isGroup {
		t.Fatalf("stored rows = %+v", rows)
	}
}

func TestPost_ToSelfDeliversExactlyOnce(t *testing.T) {
	env := setupTestServer(t)
	a := loginClient(t, env, 1001, "alice")

	if err := a.Post(1001, "note to self", "text", false); err != nil {
		t.Fatal(err)
	}
	if resp := recvFrame(t, a); resp.Text() != "note to self" {
		t.Fatalf("echo text = %q", resp.Text())
	}
	expectSilence(t, a)

	if n := len(env.pusher.allTasks()); n != 0 {
		t.Fatalf("self post enqueued %d pushes, want 0", n)
	}
}

func TestPost_OfflineRecipientIsPushedAndPersisted(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedToken(1002, "tok-bob")
	a := loginClient(t, env, 1001, "alice")

	if err := a.Post(1002, "you there?", "text", false); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, a) // echo

	waitFor(t, "push task", func() bool { return len(env.pusher.allTasks()) == 1 })
	task := env.pusher.allTasks()[0]
	if task.Token != "tok-bob" || task.UserID != 1002 {
		t.Fatalf("push task = %+v", task)
	}
	if task.Title != "alice" || task.Body != "you there?" {
		t.Fatalf("push alert = %q/%q", task.Title, task.Body)
	}

	if n := len(env.store.allMessages()); n != 1 {
		t.Fatalf("persisted %d rows, want 1", n)
	}
}

func TestPost_OnlineRecipientWithTokenGetsFrameAndPush(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedToken(1002, "tok-bob")
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")

	if err := a.Post(1002, "ping", "text", false); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, a)
	if resp := recvFrame(t, b); resp.Text() != "ping" {
		t.Fatalf("delivery text = %q", resp.Text())
	}
	waitFor(t, "push despite live session", func() bool { return len(env.pusher.allTasks()) == 1 })
}

func TestPost_LongTextCollapsesPushPreview(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedToken(1002, "tok-bob")
	a := loginClient(t, env, 1001, "alice")

	long := "这条消息实在太长了，通知中心肯定放不下，必须折叠为占位文本才行啊"
	if err := a.Post(1002, long, "text", false); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, a)

	waitFor(t, "push task", func() bool { return len(env.pusher.allTasks()) == 1 })
	if body := env.pusher.allTasks()[0].Body; body != "您有一条新消息" {
		t.Fatalf("push body = %q, want collapsed placeholder", body)
	}
}

func TestPost_BroadcastSkipsSenderAndPush(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedToken(1002, "tok-bob")
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")
	c := loginClient(t, env, 1003, "carol")

	if err := a.Post(-1, "hello everyone", "text", true); err != nil {
		t.Fatal(err)
	}
	for name, cl := range map[string]*client.Client{"bob": b, "carol": c} {
		resp := recvFrame(t, cl)
		if resp.Text() != "hello everyone" || !resp.Group() {
			t.Fatalf("%s got %q group=%v", name, resp.Text(), resp.Group())
		}
	}
	expectSilence(t, a)

	if n := len(env.pusher.allTasks()); n != 0 {
		t.Fatalf("broadcast enqueued %d pushes, want 0", n)
	}
}

func TestPost_GroupFanOut(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedGroup(2001, "team", 1001, 1002, 1003)
	env.store.seedToken(1003, "tok-carol")
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")

	if err := a.Post(2001, "standup time", "text", true); err != nil {
		t.Fatal(err)
	}

	resp := recvFrame(t, b)
	if resp.ToID() != 2001 || !resp.Group() || resp.Text() != "standup time" {
		t.Fatalf("group delivery = %+v", resp)
	}
	expectSilence(t, a)

	waitFor(t, "offline member push", func() bool { return len(env.pusher.allTasks()) == 1 })
	if task := env.pusher.allTasks()[0]; task.UserID != 1003 || task.Token != "tok-carol" {
		t.Fatalf("push task = %+v", task)
	}

	rows := env.store.allMessages()
	if len(rows) != 1 || !rows[0].isGroup || rows[0].to != 2001 {
		t.Fatalf("stored rows = %+v", rows)
	}
}

func TestInsertContact_HelloToBothEnds(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedUser(1001, "alice", "a1")
	env.store.seedUser(1002, "bob", "b1")
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")

	if err := a.AddContact(1002); err != nil {
		t.Fatal(err)
	}

	for _, end := range []*client.Client{a, b} {
		resp := recvFrame(t, end)
		if resp.Type != message.RespPost || resp.Text() != "Hello" {
			t.Fatalf("hello frame = %v %q", resp.Type, resp.Text())
		}
		if resp.FromID() != 1001 || resp.ToID() != 1002 || resp.SenderName() != "alice" {
			t.Fatalf("hello fields = %d/%d %q", resp.FromID(), resp.ToID(), resp.SenderName())
		}
		if resp.Group() {
			t.Fatal("contact hello flagged as group")
		}
	}

	rows := env.store.allMessages()
	if len(rows) != 1 || rows[0].text != "Hello" || rows[0].from != 1001 || rows[0].to != 1002 {
		t.Fatalf("stored hello = %+v", rows)
	}
}

func TestInsertGroup_HelloAnnouncesGroup(t *testing.T) {
	env := setupTestServer(t)
	a := loginClient(t, env, 1001, "alice")

	if err := a.CreateGroup(2002, "Team"); err != nil {
		t.Fatal(err)
	}

	resp := recvFrame(t, a)
	if resp.Type != message.RespPost || !resp.Group() {
		t.Fatalf("hello frame = %v group=%v", resp.Type, resp.Group())
	}
	// Group creation speaks as user 0; the zero must be on the wire.
	if resp.From == nil || *resp.From != 0 {
		t.Fatalf("hello from = %v, want explicit 0", resp.From)
	}
	if resp.ToID() != 2002 || resp.SenderName() != "Team" || resp.Text() != "Team" {
		t.Fatalf("hello fields = %d %q %q", resp.ToID(), resp.SenderName(), resp.Text())
	}

	rows := env.store.allMessages()
	if len(rows) != 1 || rows[0].from != 0 || rows[0].to != 2002 {
		t.Fatalf("stored hello = %+v", rows)
	}
}

func TestInsertGroupUser_AnnouncesToExistingMembers(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedGroup(2002, "Team", 1001)
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")

	if err := b.JoinGroup(2002); err != nil {
		t.Fatal(err)
	}

	resp := recvFrame(t, a)
	if resp.FromID() != 1002 || resp.ToID() != 2002 || resp.Text() != "Hi" {
		t.Fatalf("join hello = %d/%d %q", resp.FromID(), resp.ToID(), resp.Text())
	}
	if resp.SenderName() != "" {
		t.Fatalf("join hello name = %q, want empty", resp.SenderName())
	}
	expectSilence(t, b)
}

func TestFile_UploadNewThenDeduplicated(t *testing.T) {
	env := setupTestServer(t)
	a := loginClient(t, env, 1001, "alice")

	if err := a.Upload("cafe01", "png"); err != nil {
		t.Fatal(err)
	}
	resp := recvFrame(t, a)
	if resp.Type != message.RespFile || resp.Text() != "cafe01.png" {
		t.Fatalf("upload frame = %v %q", resp.Type, resp.Text())
	}
	if resp.Body() != "https://cos.test/put/cafe01.png" {
		t.Fatalf("upload content = %q", resp.Body())
	}

	if err := a.Upload("cafe01", "png"); err != nil {
		t.Fatal(err)
	}
	resp = recvFrame(t, a)
	if resp.Body() != "Existed" {
		t.Fatalf("dedup content = %q, want Existed", resp.Body())
	}
	if n := env.objects.uploadCount(); n != 1 {
		t.Fatalf("presigned %d uploads, want 1", n)
	}
}

func TestFile_Download(t *testing.T) {
	env := setupTestServer(t)
	a := loginClient(t, env, 1001, "alice")

	if err := a.Download("cafe01", "png"); err != nil {
		t.Fatal(err)
	}
	if resp := recvFrame(t, a); resp.Body() != "Not Exist" {
		t.Fatalf("missing download content = %q", resp.Body())
	}

	if err := a.Upload("cafe01", "png"); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, a)

	if err := a.Download("cafe01", "png"); err != nil {
		t.Fatal(err)
	}
	if resp := recvFrame(t, a); resp.Body() != "https://cos.test/get/cafe01.png" {
		t.Fatalf("download content = %q", resp.Body())
	}
}

func TestAPNsToken_RegisteredWithoutResponse(t *testing.T) {
	env := setupTestServer(t)
	a := loginClient(t, env, 1001, "alice")

	if err := a.RegisterToken("tok-new"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "token registration", func() bool {
		toks := env.store.tokensOf(1001)
		return len(toks) == 1 && toks[0] == "tok-new"
	})
	expectSilence(t, a)
}

func TestPush_InvalidTokenIsPurged(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedToken(1002, "tok-dead")
	env.pusher.setResult("tok-dead", push.InvalidToken)
	a := loginClient(t, env, 1001, "alice")

	if err := a.Post(1002, "anyone home?", "text", false); err != nil {
		t.Fatal(err)
	}
	recvFrame(t, a)

	waitFor(t, "dead token purge", func() bool { return len(env.store.tokensOf(1002)) == 0 })
}

func TestQueryUser_ReturnsProfile(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedUser(1002, "bob", "pic9")
	a := loginClient(t, env, 1001, "alice")

	if err := a.QueryUser(1002); err != nil {
		t.Fatal(err)
	}
	resp := recvFrame(t, a)
	if resp.Type != message.RespUserInfo || resp.ToID() != 1002 {
		t.Fatalf("frame = %v to=%d", resp.Type, resp.ToID())
	}
	if resp.Text() != "bob.pic9" {
		t.Fatalf("profile = %q, want %q", resp.Text(), "bob.pic9")
	}
}

func TestQueryGroup_DuringAddFlagsFrom(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedGroup(2001, "team", 1002)
	a := loginClient(t, env, 1001, "alice")

	if err := a.QueryGroup(2001, false); err != nil {
		t.Fatal(err)
	}
	resp := recvFrame(t, a)
	if resp.Type != message.RespGroupInfo || resp.From != nil {
		t.Fatalf("plain query: type=%v from=%v", resp.Type, resp.From)
	}

	if err := a.QueryGroup(2001, true); err != nil {
		t.Fatal(err)
	}
	resp = recvFrame(t, a)
	if resp.From == nil || *resp.From != -1 {
		t.Fatalf("during-add query from = %v, want -1", resp.From)
	}
}

func TestUpdateAvatar_User(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedUser(1001, "alice", "old")
	a := loginClient(t, env, 1001, "alice")

	if err := a.UpdateAvatar("newpic"); err != nil {
		t.Fatal(err)
	}
	resp := recvFrame(t, a)
	if resp.Type != message.RespUserInfo || resp.ToID() != 1001 {
		t.Fatalf("frame = %v to=%d", resp.Type, resp.ToID())
	}
	if resp.Text() != "alice.newpic" {
		t.Fatalf("profile = %q, want %q", resp.Text(), "alice.newpic")
	}
}

func TestUpdateAvatar_GroupFansOutToMembers(t *testing.T) {
	env := setupTestServer(t)
	env.store.seedGroup(2001, "team", 1001, 1002)
	a := loginClient(t, env, 1001, "alice")
	b := loginClient(t, env, 1002, "bob")

	if err := a.UpdateGroupAvatar(2001, "banner"); err != nil {
		t.Fatal(err)
	}
	for _, end := range []*client.Client{a, b} {
		resp := recvFrame(t, end)
		if resp.Type != message.RespGroupInfo || resp.ToID() != 2001 {
			t.Fatalf("frame = %v to=%d", resp.Type, resp.ToID())
		}
		if resp.Text() != "team.banner" {
			t.Fatalf("profile = %q, want %q", resp.Text(), "team.banner")
		}
	}
}

func TestUnknownKind_IgnoredAndSessionSurvives(t *testing.T) {
	env := setupTestServer(t)

	conn, err := net.Dial("tcp", env.addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	login, _ := message.Encode(message.Login{From: 1001, Name: "alice", LastLogin: time.Now()})
	if _, err := conn.Write(login); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 4096)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(buf); err != nil {
		t.Fatalf("welcome read: %v", err)
	}

	if _, err := conn.Write([]byte(`{"type":99,"from":1001}`)); err != nil {
		t.Fatal(err)
	}
	post, _ := message.Encode(message.Post{
		From: 1001, To: 1001, Name: "alice", Text: "still alive",
		MsgType: "text", Timestamp: time.Now(),
	})
	if _, err := conn.Write(post); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := conn.Read(buf)
	if err != nil {
		t.Fatalf("post after unknown kind: %v", err)
	}
	resp, err := message.ParseResponse(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if resp.Text() != "still alive" {
		t.Fatalf("echo text = %q", resp.Text())
	}
}
