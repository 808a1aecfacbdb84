/*
Package hsm implements a client for a USB/HTTP-attached hardware
security module: the SCP03 secure channel session layer, its command
catalog, and the object/algorithm model those commands operate on.

# Layers

	wire.go              big-endian primitive and frame codec (C1)
	crypto.go, keys.go   AES-ECB/CBC, AES-CMAC, PBKDF2, key containers (C2)
	transport.go         Transport interface; concretes live in transport/usb
	                     and transport/httpconnector so this package never
	                     links a USB driver (C3)
	objects.go           ObjectId, ObjectType, Label, Domains, Capabilities,
	                     Algorithm (C4)
	commands.go,
	commands_catalog.go  the command/response record catalog (C5)
	channel.go           the SCP03 state machine: handshake, key derivation,
	                     per-command authenticated encryption (C6)
	session.go           the authenticated request/response facade (C7)

The device side of the same protocol, for testing without hardware, is
package mockhsm.

# Secure channel lifecycle

A [Channel] moves through four phases: NotReady, ChallengePending,
Authenticated, Closed. Once Closed it is permanently unusable — MAC
failure, counter overflow, and transport loss are all non-recoverable.
Callers normally don't touch [Channel] directly; [Session] owns one and
exposes [Session.SendCommand].
*/
package hsm
