package server

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tinychat/protocol"
	"tinychat/registry"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()

	// no store: roster persistence is exercised in its own package
	return New(registry.New(), nil, &ServerConfig{
		PollInterval: 20 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	})
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	fr   *protocol.FrameReader
}

// dialTestClient wires a client to a handler over an in-memory pipe, the
// same way a real connection would be served by the accept loop.
func dialTestClient(t *testing.T, srv *Server) *testClient {
	t.Helper()

	serverConn, clientConn := net.Pipe()
	go srv.handleConnection(serverConn)
	t.Cleanup(func() { clientConn.Close() })

	return &testClient{t: t, conn: clientConn, fr: &protocol.FrameReader{}}
}

func (c *testClient) send(m protocol.Message) {
	c.t.Helper()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write(protocol.Encode(m))
	require.NoError(c.t, err)
}

func (c *testClient) recv() protocol.Message {
	c.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	buf := make([]byte, 1024)
	for {
		m, err := c.fr.Next()
		require.NoError(c.t, err)
		if m != nil {
			return m
		}

		c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		require.NoError(c.t, err)
		c.fr.Feed(buf[:n])
	}
}

// barrier round-trips a ping. Requests on one connection are dispatched in
// order, so once the pong arrives everything sent before it has been
// processed.
func (c *testClient) barrier() {
	c.t.Helper()
	c.send(&protocol.PingMessage{})
	require.IsType(c.t, &protocol.PongMessage{}, c.recv())
}

func requireErrorReason(t *testing.T, m protocol.Message, reason string) {
	t.Helper()
	em, ok := m.(*protocol.ErrorMessage)
	require.True(t, ok, "expected error message, got %T", m)
	assert.Equal(t, reason, em.Reason)
}

func TestPingAnyState(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	// unauthenticated
	c.send(&protocol.PingMessage{})
	require.IsType(t, &protocol.PongMessage{}, c.recv())

	// authenticated, and the ping does not disturb the session
	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.send(&protocol.PingMessage{})
	require.IsType(t, &protocol.PongMessage{}, c.recv())

	here, err := srv.registry.Present("alice")
	require.NoError(t, err)
	assert.True(t, here)
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	for _, m := range []protocol.Message{
		&protocol.SendChatMessage{Recipient: "bob", Body: "hi"},
		&protocol.AwayMessage{},
		&protocol.RequestUserListMessage{},
		&protocol.DeleteAccountMessage{},
		&protocol.ShowUndeliveredMessage{},
	} {
		c.send(m)
		requireErrorReason(t, c.recv(), "must log in or create an account first")
	}
}

func TestHereUnknownAccount(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.HereMessage{Username: "ghost"})
	requireErrorReason(t, c.recv(), "Account does not exist")
}

func TestCreateAccountAndUserList(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.send(&protocol.RequestUserListMessage{})

	m := c.recv()
	ul, ok := m.(*protocol.UserListMessage)
	require.True(t, ok, "expected user list, got %T", m)
	assert.Equal(t, []string{"alice"}, ul.Users)
}

func TestDuplicateLoginRejected(t *testing.T) {
	srv := setupTestServer(t)

	c1 := dialTestClient(t, srv)
	c1.send(&protocol.CreateAccountMessage{Username: "carol"})
	c1.barrier()

	c2 := dialTestClient(t, srv)
	c2.send(&protocol.HereMessage{Username: "carol"})
	requireErrorReason(t, c2.recv(), "logged in from a different device")

	// the losing connection must not flip carol's presence
	here, err := srv.registry.Present("carol")
	require.NoError(t, err)
	assert.True(t, here)

	// and creating the held name is refused the same way
	c2.send(&protocol.CreateAccountMessage{Username: "carol"})
	requireErrorReason(t, c2.recv(), "logged in from a different device")
}

func TestAwayThenHereAgain(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.send(&protocol.AwayMessage{})
	c.barrier()

	here, err := srv.registry.Present("alice")
	require.NoError(t, err)
	assert.False(t, here)

	// away returns to unauthenticated, not closed: same connection logs
	// back in
	c.send(&protocol.HereMessage{Username: "alice"})
	c.barrier()

	here, err = srv.registry.Present("alice")
	require.NoError(t, err)
	assert.True(t, here)
}

func TestImmediateDelivery(t *testing.T) {
	srv := setupTestServer(t)

	alice := dialTestClient(t, srv)
	alice.send(&protocol.CreateAccountMessage{Username: "alice"})
	alice.barrier()

	bob := dialTestClient(t, srv)
	bob.send(&protocol.CreateAccountMessage{Username: "bob"})
	bob.barrier()

	alice.send(&protocol.SendChatMessage{Recipient: "bob", Body: "hi bob"})
	alice.barrier()

	m := bob.recv()
	d, ok := m.(*protocol.DeliverMessage)
	require.True(t, ok, "expected deliver, got %T", m)
	assert.Equal(t, []protocol.ChatMessage{{Sender: "alice", Body: "hi bob"}}, d.Messages)
}

func TestDeferredDelivery(t *testing.T) {
	srv := setupTestServer(t)

	bob := dialTestClient(t, srv)
	bob.send(&protocol.CreateAccountMessage{Username: "bob"})
	bob.send(&protocol.AwayMessage{})
	bob.barrier()

	alice := dialTestClient(t, srv)
	alice.send(&protocol.CreateAccountMessage{Username: "alice"})
	alice.send(&protocol.SendChatMessage{Recipient: "bob", Body: "hi"})
	alice.barrier()

	// the message waits in the deferred queue, not the immediate one
	immediate, err := srv.registry.DrainImmediate("bob")
	require.NoError(t, err)
	assert.Empty(t, immediate)

	bob.send(&protocol.HereMessage{Username: "bob"})
	bob.send(&protocol.ShowUndeliveredMessage{})

	m := bob.recv()
	d, ok := m.(*protocol.DeliverMessage)
	require.True(t, ok, "expected deliver, got %T", m)
	assert.Equal(t, []protocol.ChatMessage{{Sender: "alice", Body: "hi"}}, d.Messages)

	// both queues end empty
	immediate, err = srv.registry.DrainImmediate("bob")
	require.NoError(t, err)
	assert.Empty(t, immediate)
	deferred, err := srv.registry.DrainDeferred("bob")
	require.NoError(t, err)
	assert.Empty(t, deferred)
}

func TestSendToUnknownRecipient(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.send(&protocol.SendChatMessage{Recipient: "ghost", Body: "hello?"})
	requireErrorReason(t, c.recv(), "recipient does not exist")
}

func TestDeleteAccount(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.send(&protocol.DeleteAccountMessage{})
	c.barrier()

	assert.Equal(t, 0, srv.registry.Count())

	// back to unauthenticated; the old name no longer logs in
	c.send(&protocol.HereMessage{Username: "alice"})
	requireErrorReason(t, c.recv(), "Account does not exist")
}

func TestUnexpectedMessagesWhileAuthenticated(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.barrier()

	c.send(&protocol.HereMessage{Username: "alice"})
	requireErrorReason(t, c.recv(), "already logged in")

	c.send(&protocol.PongMessage{})
	requireErrorReason(t, c.recv(), "unexpected message type")
}

func TestFramingErrorClosesConnectionAndReleasesPresence(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.barrier()

	frame := protocol.Encode(&protocol.PingMessage{})
	frame[0] = 0xFF // corrupt the version field
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := c.conn.Write(frame)
	require.NoError(t, err)

	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = c.conn.Read(make([]byte, 16))
	require.ErrorIs(t, err, io.EOF)

	// presence released, account kept
	require.Eventually(t, func() bool {
		here, err := srv.registry.Present("alice")
		return err == nil && !here
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.registry.Count())
}

func TestDisconnectReleasesPresence(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.barrier()
	c.conn.Close()

	require.Eventually(t, func() bool {
		here, err := srv.registry.Present("alice")
		return err == nil && !here
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStats(t *testing.T) {
	srv := setupTestServer(t)
	c := dialTestClient(t, srv)

	c.send(&protocol.CreateAccountMessage{Username: "alice"})
	c.barrier()

	assert.Equal(t, "connections=1,accounts=1,present=1", srv.Stats())
}
