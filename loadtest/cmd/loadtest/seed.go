package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"

	"github.com/google/uuid"
)

var (
	seedLanguages = []string{"go", "rust", "python", "typescript", "java", "haskell", "elixir", "zig"}
	seedLevels    = []string{"novice", "proficient", "expert"}
	seedPriority  = []string{"no", "low", "high"}
)

type seedPreference struct {
	Level    string `json:"level"`
	Priority string `json:"priority"`
}

type seedUser struct {
	ID           uuid.UUID                 `json:"id"`
	Username     string                    `json:"username"`
	Email        string                    `json:"email"`
	Languages    map[string]seedPreference `json:"languages"`
	Availability string                    `json:"availability"`
}

// runSeed writes users with one to three languages and evening availability
// on a random subset of days. Roughly one in ten users has no schedule.
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	users := fs.Int("users", 200, "Number of users to generate")
	out := fs.String("out", "users.json", "Output file")
	fs.Parse(args)

	list := make([]seedUser, 0, *users)
	for i := 0; i < *users; i++ {
		list = append(list, randomUser(i))
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d users to %s\n", len(list), *out)
}

func randomUser(i int) seedUser {
	langs := make(map[string]seedPreference)
	for n := 1 + rand.IntN(3); len(langs) < n; {
		langs[seedLanguages[rand.IntN(len(seedLanguages))]] = seedPreference{
			Level:    seedLevels[rand.IntN(len(seedLevels))],
			Priority: seedPriority[rand.IntN(len(seedPriority))],
		}
	}
	return seedUser{
		ID:           uuid.New(),
		Username:     fmt.Sprintf("load%05d", i),
		Email:        fmt.Sprintf("load%05d@example.com", i),
		Languages:    langs,
		Availability: randomWeek(),
	}
}

// randomWeek returns the 168-slot form, Monday 00:00 UTC first, or "" for no
// schedule.
func randomWeek() string {
	if rand.IntN(10) == 0 {
		return ""
	}
	var b strings.Builder
	for day := 0; day < 7; day++ {
		on := rand.IntN(2) == 0
		for hour := 0; hour < 24; hour++ {
			if on && hour >= 17 && hour < 22 {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}
