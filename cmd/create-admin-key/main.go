package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"agentprobe_api/internal/auth"
	"agentprobe_api/internal/config"
	"agentprobe_api/internal/registry"
	"agentprobe_api/internal/storage"
)

func main() {
	name := flag.String("name", "Bootstrap admin", "name of the admin key")
	rateLimit := flag.Int("rate-limit", 1000, "requests per hour for the admin key")
	force := flag.Bool("force", false, "create a key even if an admin key already exists")
	flag.Parse()

	fmt.Println("AgentProbe API - Admin Key Bootstrap")
	fmt.Println(strings.Repeat("=", 48))

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}

	fmt.Println("Connecting to database...")
	db, err := storage.NewDB(storage.DBConfig{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		APIKeyCacheSize: 10, // Minimal cache for init tool
		APIKeyCacheTTL:  5 * time.Minute,
	})
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(ctx); err != nil {
		fail("Failed to migrate database: %v", err)
	}

	keys := db.NewAPIKeyRepository()

	if !*force {
		admins, err := keys.CountActiveWithPermission(ctx, auth.PermissionAdmin.String())
		if err != nil {
			fail("Failed to check existing keys: %v", err)
		}
		if admins > 0 {
			fmt.Printf("INFO: Found %d active admin key(s). Bootstrap not needed.\n", admins)
			fmt.Println("\nExiting successfully (no action taken). Use -force to mint another key.")
			return
		}
	}

	reg := registry.New(keys, nil)
	created, err := reg.Create(ctx, registry.CreateRequest{
		Name:        *name,
		Permissions: []string{auth.PermissionAdmin.String(), auth.PermissionManageKeys.String()},
		RateLimit:   *rateLimit,
	}, "")
	if err != nil {
		fail("Failed to create admin key: %v", err)
	}

	fmt.Println()
	fmt.Println("SUCCESS: Admin key created")
	fmt.Println(strings.Repeat("=", 48))
	fmt.Printf("Key ID:      %s\n", created.KeyID)
	fmt.Printf("Name:        %s\n", created.Name)
	fmt.Printf("Permissions: %s\n", strings.Join(created.Permissions, ", "))
	fmt.Printf("Rate limit:  %d requests/hour\n", created.RateLimit)
	fmt.Printf("\nAPI key:     %s\n\n", created.SecretKey)
	fmt.Println(created.Warning)
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
