// Command hsmcli is a reference client for exercising a device over
// the secure channel from the command line: one subcommand per
// operation, a YAML config naming the transport and credential.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/gousb"

	"github.com/vault-edge/go-hsm/cmd/hsmcli/internal/config"
	"github.com/vault-edge/go-hsm/pkg/hsm"
	"github.com/vault-edge/go-hsm/transport/httpconnector"
	"github.com/vault-edge/go-hsm/transport/usb"
)

const configFileName = "config.yaml"

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	configPath := flag.String("config", "", "path to config.yaml (default: next to the executable, then cwd)")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var logger *slog.Logger
	if *logFormat == "json" {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	slog.SetDefault(logger)

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: hsmcli [flags] <command> [args...]")
		fmt.Fprintln(os.Stderr, "commands: echo, random, device-info, storage-status, generate-key, get-public-key, sign-eddsa, list-objects, blink, reset")
		os.Exit(2)
	}
	cmdName, cmdArgs := args[0], args[1:]

	resolvedConfigPath := *configPath
	if resolvedConfigPath == "" {
		var err error
		resolvedConfigPath, err = defaultConfigPath()
		if err != nil {
			log.Fatalf("resolve config path failed: %v", err)
		}
	}
	cfg, err := config.Load(resolvedConfigPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	encKey, err := config.LoadKeyHexFile(cfg.Auth.EncKeyFile)
	if err != nil {
		log.Fatalf("enc key file invalid: %v", err)
	}
	macKey, err := config.LoadKeyHexFile(cfg.Auth.MacKeyFile)
	if err != nil {
		log.Fatalf("mac key file invalid: %v", err)
	}
	staticKeys, err := hsm.NewStaticKeys(encKey, macKey)
	if err != nil {
		log.Fatalf("static keys invalid: %v", err)
	}
	defer staticKeys.Wipe()

	ctx := context.Background()
	sessCfg := hsm.Config{
		AuthKeyID:  hsm.AuthKeyID(cfg.Auth.AuthKeyID),
		StaticKeys: staticKeys,
		Logger:     logger,
	}
	session, err := hsm.Open(ctx, openerFor(cfg, logger), sessCfg)
	if err != nil {
		log.Fatalf("open session failed: %v", err)
	}
	defer session.Close(ctx)

	run, ok := commands[cmdName]
	if !ok {
		log.Fatalf("unknown command %q", cmdName)
	}
	if err := run(ctx, session, cmdArgs); err != nil {
		log.Fatalf("%s failed: %v", cmdName, err)
	}
}

// openerFor builds the hsm.Opener the configured transport mode
// implies. Each call to the Opener returns a fresh connection, so a
// Session can reconnect after a transport error without hsmcli's
// involvement.
func openerFor(cfg *config.Config, logger *slog.Logger) hsm.Opener {
	switch cfg.Connection.Mode {
	case "usb":
		vendorID, err1 := config.ParseUSBID(cfg.Connection.USBVendorID)
		productID, err2 := config.ParseUSBID(cfg.Connection.USBProductID)
		return func(ctx context.Context) (hsm.Transport, error) {
			if err1 != nil {
				return nil, err1
			}
			if err2 != nil {
				return nil, err2
			}
			conn, err := usb.Open(usb.Options{
				VendorID:  gousb.ID(vendorID),
				ProductID: gousb.ID(productID),
				Logger:    logger,
			})
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	default: // "http", validated by config.Validate
		return func(ctx context.Context) (hsm.Transport, error) {
			return httpconnector.Open(httpconnector.Options{BaseURL: cfg.Connection.HTTPBaseURL})
		}
	}
}

func defaultConfigPath() (string, error) {
	exePath, err := os.Executable()
	if err != nil {
		return "", err
	}
	exeConfigPath := filepath.Join(filepath.Dir(exePath), configFileName)
	if fileExists(exeConfigPath) {
		return exeConfigPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return exeConfigPath, nil
	}
	cwdConfigPath := filepath.Join(cwd, configFileName)
	if fileExists(cwdConfigPath) {
		return cwdConfigPath, nil
	}
	return exeConfigPath, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func parseUint16Arg(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("expected a number, got %q: %w", s, err)
	}
	return uint16(v), nil
}
