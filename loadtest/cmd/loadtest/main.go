// Package main is the entry point for the matchmaker load test binary.
//
//   - seed:     write a JSON file of random users for SEED_FILE or migrate -seed
//   - presence: connect every seeded user to /ws and heartbeat for a while
//
// Usage:
//
//	loadtest <command> [options]
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "seed":
		runSeed(os.Args[2:])
	case "presence":
		runPresence(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: loadtest <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  seed        Generate N random users as a seed file")
	fmt.Println("  presence    Connect seeded users, heartbeat, and count pair proposals")
	fmt.Println()
	fmt.Println("Run 'loadtest <command> -h' for command-specific options.")
}
