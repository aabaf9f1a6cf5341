package server

import (
	"errors"
	"net"

	"tinychat/protocol"
	"tinychat/registry"
)

// Error reasons surfaced to clients. Domain failures are always reported;
// the connection stays open and the handler state does not change.
const (
	reasonNoAccount   = "Account does not exist"
	reasonElsewhere   = "logged in from a different device"
	reasonMustLogIn   = "must log in or create an account first"
	reasonNoRecipient = "recipient does not exist"
	reasonLoggedIn    = "already logged in"
	reasonUnexpected  = "unexpected message type"
)

func (s *Server) dispatch(c *connState, msg protocol.Message, conn net.Conn) {
	switch m := msg.(type) {
	case *protocol.PingMessage:
		s.send(conn, &protocol.PongMessage{})
	case *protocol.HereMessage:
		s.handleHere(c, m, conn)
	case *protocol.CreateAccountMessage:
		s.handleCreateAccount(c, m, conn)
	case *protocol.AwayMessage:
		s.handleAway(c, conn)
	case *protocol.SendChatMessage:
		s.handleSendChat(c, m, conn)
	case *protocol.RequestUserListMessage:
		s.handleUserList(c, conn)
	case *protocol.DeleteAccountMessage:
		s.handleDeleteAccount(c, conn)
	case *protocol.ShowUndeliveredMessage:
		s.handleShowUndelivered(c, conn)
	default:
		// server-directed types sent back by a confused peer
		s.sendError(conn, reasonUnexpected)
	}
}

func (s *Server) handleHere(c *connState, m *protocol.HereMessage, conn net.Conn) {
	if c.username != "" {
		s.sendError(conn, reasonLoggedIn)
		return
	}

	err := s.registry.Login(m.Username)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		s.sendError(conn, reasonNoAccount)
	case errors.Is(err, registry.ErrPresentElsewhere):
		s.sendError(conn, reasonElsewhere)
	case err == nil:
		c.username = m.Username
		s.log.Info().Str("user", m.Username).Msg("user logged in")
	}
}

func (s *Server) handleCreateAccount(c *connState, m *protocol.CreateAccountMessage, conn net.Conn) {
	if c.username != "" {
		s.sendError(conn, reasonLoggedIn)
		return
	}

	// Creating a name that already exists but is logged out just logs it
	// in; only a name held by a live connection is refused.
	err := s.registry.Create(m.Username)
	if err == nil && s.store != nil {
		if serr := s.store.Append(m.Username); serr != nil {
			s.log.Error().Err(serr).Str("user", m.Username).Msg("failed to persist account")
		}
	}

	err = s.registry.Login(m.Username)
	switch {
	case errors.Is(err, registry.ErrPresentElsewhere):
		s.sendError(conn, reasonElsewhere)
	case errors.Is(err, registry.ErrNotFound):
		// deleted out from under us between create and login
		s.sendError(conn, reasonNoAccount)
	case err == nil:
		c.username = m.Username
		s.log.Info().Str("user", m.Username).Msg("account ready")
	}
}

func (s *Server) handleAway(c *connState, conn net.Conn) {
	if c.username == "" {
		s.sendError(conn, reasonMustLogIn)
		return
	}

	if err := s.registry.Logout(c.username); err == nil {
		s.log.Info().Str("user", c.username).Msg("user logged out")
	}
	c.username = ""
}

func (s *Server) handleSendChat(c *connState, m *protocol.SendChatMessage, conn net.Conn) {
	if c.username == "" {
		s.sendError(conn, reasonMustLogIn)
		return
	}

	if err := s.registry.Route(m.Recipient, c.username, m.Body); err != nil {
		s.sendError(conn, reasonNoRecipient)
		return
	}
	s.log.Debug().Str("from", c.username).Str("to", m.Recipient).Msg("message routed")
}

func (s *Server) handleUserList(c *connState, conn net.Conn) {
	if c.username == "" {
		s.sendError(conn, reasonMustLogIn)
		return
	}

	s.send(conn, &protocol.UserListMessage{Users: s.registry.ListUsernames()})
}

func (s *Server) handleDeleteAccount(c *connState, conn net.Conn) {
	if c.username == "" {
		s.sendError(conn, reasonMustLogIn)
		return
	}

	// Removal is unconditional: the queues go with the entry, pending
	// deferred messages included.
	if err := s.registry.Delete(c.username); err == nil {
		s.log.Info().Str("user", c.username).Msg("account deleted")
	}
	if s.store != nil {
		if err := s.store.Remove(c.username); err != nil {
			s.log.Error().Err(err).Str("user", c.username).Msg("failed to remove persisted account")
		}
	}
	c.username = ""
}

func (s *Server) handleShowUndelivered(c *connState, conn net.Conn) {
	if c.username == "" {
		s.sendError(conn, reasonMustLogIn)
		return
	}

	deferred, err := s.registry.DrainDeferred(c.username)
	if err != nil {
		s.sendError(conn, reasonNoAccount)
		return
	}
	immediate, _ := s.registry.DrainImmediate(c.username)

	s.send(conn, &protocol.DeliverMessage{Messages: append(deferred, immediate...)})
}
