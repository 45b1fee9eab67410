package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/live-labs/crmvault/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(ctx, os.Args[2:])
	case "migrate":
		runMigrate(ctx, os.Args[2:])
	case "open":
		runOpen(ctx, os.Args[2:])
	case "export":
		runExport(ctx, os.Args[2:])
	case "adopt":
		runAdopt(ctx, os.Args[2:])
	case "rekey":
		runRekey(ctx, os.Args[2:])
	case "status":
		runStatus(ctx, os.Args[2:])
	case "reset":
		runReset(ctx, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func dirFlag(fs *flag.FlagSet) *string {
	return fs.String("dir", ".", "Vault directory")
}

func parse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func runInit(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := dirFlag(fs)
	device := fs.Bool("device", false, "Store the key in the OS secret store instead of using a passphrase")
	parse(fs, args)

	cmd.Init(ctx, *dir, *device)
}

func runMigrate(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := dirFlag(fs)
	device := fs.Bool("device", false, "Store the key in the OS secret store instead of using a passphrase")
	parse(fs, args)

	cmd.Migrate(ctx, *dir, *device)
}

func runOpen(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("open", flag.ExitOnError)
	dir := dirFlag(fs)
	parse(fs, args)

	cmd.Open(ctx, *dir)
}

func runExport(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dir := dirFlag(fs)
	parse(fs, args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: crmvault export [--dir <dir>] <folder>")
		os.Exit(1)
	}
	cmd.Export(ctx, *dir, fs.Arg(0))
}

func runAdopt(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("adopt", flag.ExitOnError)
	dir := dirFlag(fs)
	parse(fs, args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: crmvault adopt [--dir <dir>] <folder>")
		os.Exit(1)
	}
	cmd.Adopt(ctx, *dir, fs.Arg(0))
}

func runRekey(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("rekey", flag.ExitOnError)
	dir := dirFlag(fs)
	parse(fs, args)

	cmd.Rekey(ctx, *dir)
}

func runStatus(_ context.Context, args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dir := dirFlag(fs)
	parse(fs, args)

	cmd.Status(*dir)
}

func runReset(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	dir := dirFlag(fs)
	force := fs.Bool("force", false, "Reset without confirmation")
	parse(fs, args)

	cmd.Reset(ctx, *dir, *force)
}

func printUsage() {
	fmt.Println("crmvault - Encrypted local vault for the CRM database")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  crmvault <command> [flags] [arguments]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  init      Create a new empty vault")
	fmt.Println("  migrate   Encrypt an existing plaintext database in place")
	fmt.Println("  open      Unlock the vault and report its health")
	fmt.Println("  export    Write a passphrase-mode export into a sync folder")
	fmt.Println("  adopt     Bootstrap a vault from a sync-folder export")
	fmt.Println("  rekey     Change the vault passphrase")
	fmt.Println("  status    Show vault state (no passphrase needed)")
	fmt.Println("  reset     Destroy the vault and its key")
	fmt.Println()
	fmt.Println("Common flags:")
	fmt.Println("  --dir <dir>   Vault directory (default \".\")")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  crmvault init                        # New vault, prompts for passphrase")
	fmt.Println("  crmvault init --device               # New vault, key in the OS secret store")
	fmt.Println("  crmvault migrate                     # Encrypt ./vault.db in place")
	fmt.Println("  crmvault export ~/Dropbox/crm        # Export for another device")
	fmt.Println("  crmvault adopt ~/Dropbox/crm         # Adopt on the other device")
	fmt.Println("  crmvault status                      # Inspect without unlocking")
}
