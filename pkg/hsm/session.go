package hsm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// idleTimeout is how long a Session may go without a command before
// the next one performs a liveness check first.
const idleTimeout = 30 * time.Second

// Opener opens (or reopens) the physical link beneath a Session. It is
// called once to establish the initial connection and again whenever a
// failed liveness check or a transport error forces a reconnect.
type Opener func(ctx context.Context) (Transport, error)

// Config configures a Session.
type Config struct {
	AuthKeyID  AuthKeyID
	StaticKeys *StaticKeys
	Logger     *slog.Logger
}

// Session ties a Transport and a Channel into an authenticated
// request/response API: it encodes a command, wraps it in the secure
// channel, ships it, unwraps the reply, and decodes it into the
// caller's response record. It owns reconnect, idle-liveness, and
// best-effort close on top of the lower layers.
type Session struct {
	open       Opener
	transport  Transport
	channel    *Channel
	authKeyID  AuthKeyID
	staticKeys *StaticKeys
	log        *slog.Logger

	id            uuid.UUID
	lastActivity  time.Time
	messageCount  uint64
	serialNumber  uint32
	serialKnown   bool
}

// mutatingCommands lists the codes whose success changes persistent
// device state. A transport failure on one of these is never silently
// retried: the caller cannot tell whether the device applied it before
// the link dropped.
var mutatingCommands = map[CommandCode]bool{
	CmdPutAuthKey:            true,
	CmdPutAsymmetricKey:      true,
	CmdPutHmacKey:            true,
	CmdPutOpaqueObject:       true,
	CmdPutWrapKey:            true,
	CmdGenerateAsymmetricKey: true,
	CmdImportWrapped:         true,
	CmdDeleteObject:          true,
	CmdSetLogIndex:           true,
	CmdReset:                 true,
	CmdCloseSession:          true,
}

// Open establishes a Session: it calls open to obtain a Transport, runs
// the SCP03 handshake against it, and returns a Session ready for
// SendCommand.
func Open(ctx context.Context, open Opener, cfg Config) (*Session, error) {
	if cfg.StaticKeys == nil {
		return nil, &UsageError{Op: "Open", Msg: "StaticKeys is required"}
	}
	authKeyID := cfg.AuthKeyID
	if authKeyID == 0 {
		authKeyID = DefaultAuthKeyID
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := &Session{
		open:       open,
		authKeyID:  authKeyID,
		staticKeys: cfg.StaticKeys,
		log:        log,
		id:         uuid.New(),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// connect opens a fresh Transport and drives a fresh Channel through
// the full handshake. The previous transport and channel are closed
// first, so an Opener may hand back the same Transport value. Any
// failure leaves s unusable; the caller decides whether to give up or
// try again.
func (s *Session) connect(ctx context.Context) error {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.channel != nil {
		s.channel.Close()
	}

	transport, err := s.open(ctx)
	if err != nil {
		return &TransportError{Op: "connect", Cause: err}
	}

	channel := NewChannel()
	payload, _, err := channel.Begin(s.authKeyID)
	if err != nil {
		transport.Close()
		return err
	}
	createFrame, err := encodeFrame(byte(CmdCreateSession), payload)
	if err != nil {
		transport.Close()
		return err
	}
	createReply, err := transport.SendFrame(ctx, createFrame)
	if err != nil {
		transport.Close()
		return &TransportError{Op: "connect: CreateSession", Cause: err}
	}
	code, body, err := decodeFrame(createReply)
	if err != nil {
		transport.Close()
		return err
	}
	if CommandCode(code) != CmdCreateSession|responseBit {
		transport.Close()
		return &ProtocolError{Msg: fmt.Sprintf("CreateSession reply carried code 0x%02x", code)}
	}

	authPayload, err := channel.Continue(s.staticKeys, body)
	if err != nil {
		transport.Close()
		return err
	}
	authFrame, err := encodeFrame(byte(CmdAuthenticateSession), authPayload)
	if err != nil {
		transport.Close()
		return err
	}
	authReply, err := transport.SendFrame(ctx, authFrame)
	if err != nil {
		transport.Close()
		return &TransportError{Op: "connect: AuthenticateSession", Cause: err}
	}
	code, body, err = decodeFrame(authReply)
	if err != nil {
		transport.Close()
		return err
	}
	if CommandCode(code) != CmdAuthenticateSession|responseBit || len(body) != 0 {
		transport.Close()
		return &ProtocolError{Msg: fmt.Sprintf("AuthenticateSession reply carried code 0x%02x, %d bytes", code, len(body))}
	}
	if err := channel.Finish(); err != nil {
		transport.Close()
		return err
	}

	s.transport = transport
	s.channel = channel
	s.lastActivity = time.Now()
	s.log.Debug("hsm: session established", "session_id", s.id, "auth_key_id", s.authKeyID)
	return nil
}

// SendCommand encodes cmd, exchanges it through the secure channel, and
// decodes the device's reply into rsp (a pointer to a concrete response
// record, or nil for commands with no meaningful reply body). On a
// transport-level failure it reconnects and retries exactly once,
// unless cmd mutates device state, in which case the error is
// surfaced immediately since a retry could double-apply it.
func (s *Session) SendCommand(ctx context.Context, cmd command, rsp response) error {
	if err := s.ensureFresh(ctx); err != nil {
		return err
	}

	err := s.sendOnce(ctx, cmd, rsp)
	var transportErr *TransportError
	if errors.As(err, &transportErr) && !mutatingCommands[cmd.code()] {
		s.log.Warn("hsm: transport error, reconnecting", "op", transportErr.Op)
		if reconnErr := s.connect(ctx); reconnErr != nil {
			return reconnErr
		}
		err = s.sendOnce(ctx, cmd, rsp)
	}
	return err
}

// sendOnce performs exactly one command round-trip with no retry logic
// of its own.
func (s *Session) sendOnce(ctx context.Context, cmd command, rsp response) error {
	if s.channel == nil || s.channel.Phase() != PhaseAuthenticated {
		return ErrChannelClosed
	}

	body, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	inner, err := encodeFrame(byte(cmd.code()), body)
	if err != nil {
		return err
	}
	wrapped, err := s.channel.Wrap(inner)
	if err != nil {
		return err
	}

	reply, err := s.transport.SendFrame(ctx, wrapped)
	if err != nil {
		// Whether the device saw the request is unknown, so host and
		// device counters can no longer be assumed to agree.
		s.channel.Close()
		return &TransportError{Op: fmt.Sprintf("SendCommand(%s)", cmd.code()), Cause: err}
	}

	respCode, respBody, err := decodeFrame(reply)
	if err != nil {
		return err
	}
	innerResp, err := s.channel.Unwrap(respCode, respBody)
	if err != nil {
		return err
	}
	innerCode, innerBody, err := decodeFrame(innerResp)
	if err != nil {
		return err
	}
	if err := decodeResponse(cmd.code(), innerCode, innerBody, rsp); err != nil {
		var de *DeviceError
		if errors.As(err, &de) && de.Kind.closesSession() {
			s.log.Warn("hsm: device error implies session loss, closing channel", "kind", de.Kind)
			s.channel.Close()
		}
		return err
	}

	s.messageCount++
	s.lastActivity = time.Now()
	if cmd.code() == CmdCloseSession {
		s.channel.CloseAfterCommand()
	}
	return nil
}

// ensureFresh performs a lightweight liveness check if the session has
// been idle past idleTimeout, reconnecting if the check fails.
func (s *Session) ensureFresh(ctx context.Context) error {
	if time.Since(s.lastActivity) < idleTimeout {
		return nil
	}
	var rsp EchoResponse
	if err := s.sendOnce(ctx, &EchoCommand{Data: []byte{0xff}}, &rsp); err != nil {
		s.log.Warn("hsm: liveness check failed, reconnecting")
		return s.connect(ctx)
	}
	return nil
}

// DeviceInfo retrieves and caches the device's serial number alongside
// its full status.
func (s *Session) DeviceInfo(ctx context.Context) (*DeviceInfoResponse, error) {
	var rsp DeviceInfoResponse
	if err := s.SendCommand(ctx, &DeviceInfoCommand{}, &rsp); err != nil {
		return nil, err
	}
	s.serialNumber = rsp.SerialNumber
	s.serialKnown = true
	return &rsp, nil
}

// MessageCount returns the number of commands successfully sent on
// this Session since it was opened.
func (s *Session) MessageCount() uint64 { return s.messageCount }

// SerialNumber returns the device's serial number, if DeviceInfo has
// been called at least once, and whether it is known.
func (s *Session) SerialNumber() (uint32, bool) { return s.serialNumber, s.serialKnown }

// Close performs a best-effort CloseSession and releases the
// transport. Errors from either step are swallowed: by the time a
// caller wants to close, there is nothing useful to do with them.
func (s *Session) Close(ctx context.Context) {
	if s.channel != nil && s.channel.Phase() == PhaseAuthenticated {
		_ = s.SendCommand(ctx, &CloseSessionCommand{}, &CloseSessionResponse{})
	}
	if s.channel != nil {
		s.channel.Close()
	}
	if s.transport != nil {
		_ = s.transport.Close()
	}
}
