package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/term"

	"github.com/vault-edge/go-hsm/pkg/hsm"
)

// commandFunc implements one hsmcli subcommand against an already
// authenticated Session.
type commandFunc func(ctx context.Context, s *hsm.Session, args []string) error

var commands = map[string]commandFunc{
	"echo":           runEcho,
	"random":         runRandom,
	"device-info":    runDeviceInfo,
	"storage-status": runStorageStatus,
	"generate-key":   runGenerateKey,
	"get-public-key": runGetPublicKey,
	"sign-eddsa":     runSignEddsa,
	"list-objects":   runListObjects,
	"blink":          runBlink,
	"reset":          runReset,
}

func runEcho(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("echo", flag.ExitOnError)
	fs.Parse(args)
	text := "ping"
	if fs.NArg() > 0 {
		text = fs.Arg(0)
	}

	var rsp hsm.EchoResponse
	if err := s.SendCommand(ctx, &hsm.EchoCommand{Data: []byte(text)}, &rsp); err != nil {
		return err
	}
	fmt.Printf("echo: %s\n", rsp.Data)
	return nil
}

func runRandom(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("random", flag.ExitOnError)
	fs.Parse(args)
	n := byte(32)
	if fs.NArg() > 0 {
		v, err := strconv.ParseUint(fs.Arg(0), 10, 8)
		if err != nil {
			return fmt.Errorf("invalid byte count %q: %w", fs.Arg(0), err)
		}
		n = byte(v)
	}

	var rsp hsm.GetPseudoRandomResponse
	if err := s.SendCommand(ctx, &hsm.GetPseudoRandomCommand{Length: n}, &rsp); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(rsp.Data))
	return nil
}

func runDeviceInfo(ctx context.Context, s *hsm.Session, args []string) error {
	info, err := s.DeviceInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("version:      %d.%d.%d\n", info.MajorVersion, info.MinorVersion, info.PatchVersion)
	fmt.Printf("serial:       %d\n", info.SerialNumber)
	fmt.Printf("log store:    %d/%d used\n", info.LogStoreUsed, info.LogStoreCapacity)
	fmt.Printf("algorithms:   %d supported\n", len(info.Algorithms))
	return nil
}

func runStorageStatus(ctx context.Context, s *hsm.Session, args []string) error {
	var rsp hsm.StorageStatusResponse
	if err := s.SendCommand(ctx, &hsm.StorageStatusCommand{}, &rsp); err != nil {
		return err
	}
	fmt.Printf("records: %d/%d free\n", rsp.FreeRecords, rsp.TotalRecords)
	fmt.Printf("pages:   %d/%d free (page size %d)\n", rsp.FreePages, rsp.TotalPages, rsp.PageSize)
	return nil
}

func runGenerateKey(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("generate-key", flag.ExitOnError)
	labelArg := fs.String("label", "", "object label")
	domain := fs.Uint("domain", 1, "domain bit to place the key in (1-16)")
	fs.Parse(args)

	label, err := hsm.NewLabel(*labelArg)
	if err != nil {
		return fmt.Errorf("label: %w", err)
	}

	cmd := &hsm.GenerateAsymmetricKeyCommand{
		Label:        label,
		Domains:      hsm.Domains(1) << (*domain - 1),
		Capabilities: hsm.Capabilities(hsm.CapSignEddsa | hsm.CapGetPublicKey),
		Algorithm:    hsm.AlgEd25519,
	}
	var rsp hsm.GenerateAsymmetricKeyResponse
	if err := s.SendCommand(ctx, cmd, &rsp); err != nil {
		return err
	}
	fmt.Printf("generated object id %d\n", rsp.ID)
	return nil
}

func runGetPublicKey(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("get-public-key", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: get-public-key <object-id>")
	}
	id, err := parseUint16Arg(fs.Arg(0))
	if err != nil {
		return err
	}

	var rsp hsm.GetPublicKeyResponse
	if err := s.SendCommand(ctx, &hsm.GetPublicKeyCommand{ID: hsm.ObjectID(id)}, &rsp); err != nil {
		return err
	}
	fmt.Printf("algorithm: %s\n", rsp.Algorithm)
	fmt.Printf("key:       %s\n", hex.EncodeToString(rsp.KeyData))
	return nil
}

func runSignEddsa(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("sign-eddsa", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: sign-eddsa <object-id> <message>")
	}
	id, err := parseUint16Arg(fs.Arg(0))
	if err != nil {
		return err
	}

	var rsp hsm.SignDataEddsaResponse
	cmd := &hsm.SignDataEddsaCommand{ID: hsm.ObjectID(id), Data: []byte(fs.Arg(1))}
	if err := s.SendCommand(ctx, cmd, &rsp); err != nil {
		return err
	}
	fmt.Println(hex.EncodeToString(rsp.Signature))
	return nil
}

func runListObjects(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("list-objects", flag.ExitOnError)
	typeFilter := fs.String("type", "", "object type name filter (opaque, asymmetric-key, ...)")
	fs.Parse(args)

	cmd := &hsm.ListObjectsCommand{}
	if *typeFilter != "" {
		t, err := objectTypeByName(*typeFilter)
		if err != nil {
			return err
		}
		cmd.Type = t
		cmd.TypeSet = true
	}

	var rsp hsm.ListObjectsResponse
	if err := s.SendCommand(ctx, cmd, &rsp); err != nil {
		return err
	}
	for _, h := range rsp.Objects {
		fmt.Printf("%6d  %s\n", h.ID, h.Type)
	}
	return nil
}

func runBlink(ctx context.Context, s *hsm.Session, args []string) error {
	fs := flag.NewFlagSet("blink", flag.ExitOnError)
	fs.Parse(args)
	seconds := byte(5)
	if fs.NArg() > 0 {
		v, err := strconv.ParseUint(fs.Arg(0), 10, 8)
		if err != nil {
			return fmt.Errorf("invalid seconds %q: %w", fs.Arg(0), err)
		}
		seconds = byte(v)
	}
	return s.SendCommand(ctx, &hsm.BlinkCommand{Seconds: seconds}, &hsm.BlinkResponse{})
}

// runReset reboots the device. It is destructive enough to warrant a
// single-keypress confirmation read in raw terminal mode rather than a
// flag that could be baked into a script by accident.
func runReset(ctx context.Context, s *hsm.Session, args []string) error {
	if !confirmRawKeypress("reset the device now? [y/N] ") {
		fmt.Println("cancelled")
		return nil
	}
	// A real device drops the connection instead of replying, so a
	// TransportError here is the expected outcome, not a failure.
	err := s.SendCommand(ctx, &hsm.ResetCommand{}, nil)
	var transportErr *hsm.TransportError
	if err != nil && !errors.As(err, &transportErr) {
		return err
	}
	fmt.Println("reset command sent")
	return nil
}

// confirmRawKeypress puts stdin into raw mode and reads a single byte,
// so a reset cannot be confirmed by an accidental extra Enter in a
// pasted command.
func confirmRawKeypress(prompt string) bool {
	fmt.Print(prompt)
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		// Not an interactive terminal; fall back to refusing rather
		// than guessing.
		fmt.Println()
		return false
	}
	defer term.Restore(fd, oldState)

	buf := make([]byte, 1)
	if _, err := os.Stdin.Read(buf); err != nil {
		fmt.Print("\r\n")
		return false
	}
	fmt.Print("\r\n")
	return buf[0] == 'y' || buf[0] == 'Y'
}

func objectTypeByName(name string) (hsm.ObjectType, error) {
	switch name {
	case "opaque":
		return hsm.TypeOpaque, nil
	case "asymmetric-key":
		return hsm.TypeAsymmetricKey, nil
	case "auth-key":
		return hsm.TypeAuthKey, nil
	case "hmac-key":
		return hsm.TypeHmacKey, nil
	case "wrap-key":
		return hsm.TypeWrapKey, nil
	default:
		return 0, fmt.Errorf("unknown object type %q", name)
	}
}
