// ABOUTME: Entry point for the calsync CLI
// ABOUTME: Routes connect, sync, and credential lifecycle commands
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"

	"github.com/hearthapp/calsync/cli"
	"github.com/hearthapp/calsync/db"
	"github.com/hearthapp/calsync/sync"
)

const version = "0.1.0"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: XDG data dir)")

	// Parse global flags but don't fail on unknown (for subcommands)
	_ = flag.CommandLine.Parse(os.Args[1:])

	// Handle version flag
	if *showVersion {
		fmt.Printf("calsync version %s\n", version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	database, err := db.OpenDatabase(getDatabasePath(*dbPath))
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = database.Close() }()

	cipher, err := loadTokenCipher()
	if err != nil {
		log.Fatalf("Failed to load token key: %v", err)
	}

	tokens := sync.NewTokenManager(sync.LoadOAuthConfig())
	env := cli.NewEnv(database, cipher, tokens)

	command := args[0]
	commandArgs := args[1:]

	var cmdErr error
	switch command {
	case "connect":
		cmdErr = cli.ConnectCommand(env, commandArgs)
	case "disconnect":
		cmdErr = cli.DisconnectCommand(env, commandArgs)
	case "pause":
		cmdErr = cli.PauseCommand(env, commandArgs)
	case "resume":
		cmdErr = cli.ResumeCommand(env, commandArgs)
	case "status":
		cmdErr = cli.StatusCommand(env, commandArgs)
	case "sync":
		cmdErr = cli.SyncCommand(env, commandArgs)
	case "remove":
		cmdErr = cli.RemoveCommand(env, commandArgs)
	case "daemon":
		cmdErr = cli.DaemonCommand(env, commandArgs)
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if cmdErr != nil {
		log.Fatalf("Error: %v", cmdErr)
	}
}

// loadTokenCipher builds the at-rest token cipher from CALSYNC_TOKEN_KEY,
// a hex-encoded 32-byte key.
func loadTokenCipher() (*db.TokenCipher, error) {
	hexKey := os.Getenv("CALSYNC_TOKEN_KEY")
	if hexKey == "" {
		return nil, fmt.Errorf("CALSYNC_TOKEN_KEY must be set (hex-encoded 32-byte key)")
	}
	return db.NewTokenCipherFromHex(hexKey)
}

func getDatabasePath(override string) string {
	if override != "" {
		return override
	}
	return filepath.Join(xdg.DataHome, "calsync", "calsync.db")
}

func printUsage() {
	fmt.Println("calsync - family goal calendar synchronization")
	fmt.Println()
	fmt.Println("Usage: calsync [flags] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  connect     Run the Google consent flow and store a credential")
	fmt.Println("  disconnect  Delete the credential and all event mappings")
	fmt.Println("  pause       Pause syncing without discarding the credential")
	fmt.Println("  resume      Reactivate a paused or errored credential")
	fmt.Println("  status      Show the credential's sync state")
	fmt.Println("  sync        Sync one goal, one review, or everything for a user")
	fmt.Println("  remove      Tear down the event for a deleted entity")
	fmt.Println("  daemon      Run full syncs for all users on an interval")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -version   Show version and exit")
	fmt.Println("  -db-path   Database path (default: XDG data dir)")
}
