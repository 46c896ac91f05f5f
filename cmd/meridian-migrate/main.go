package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/meridian-sync/meridian/pkg/security"
	"github.com/meridian-sync/meridian/pkg/types"
)

var (
	dataDir   = flag.String("data-dir", "./meridian-data", "Client data directory")
	deviceID  = flag.String("device-id", "", "Device ID to derive the at-rest encryption key from (required unless --password is set)")
	password  = flag.String("password", "", "Passphrase to derive the at-rest encryption key from, instead of --device-id")
	dryRun    = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPat = flag.String("backup", "", "Path to back up the database before migration (default: <data-dir>/default.db.backup)")
)

const configBucket = "config"
const authTokenKey = "authToken"

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Meridian Database Migration Tool - plaintext authToken -> encrypted")
	log.Println("====================================================================")

	if *deviceID == "" && *password == "" {
		log.Fatal("one of --device-id or --password is required")
	}

	dbPath := filepath.Join(*dataDir, "default.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun {
		backupFile := *backupPat
		if backupFile == "" {
			backupFile = dbPath + ".backup"
		}
		log.Printf("Creating backup: %s", backupFile)
		if err := copyFile(dbPath, backupFile); err != nil {
			log.Fatalf("Failed to create backup: %v", err)
		}
		log.Println("✓ Backup created successfully")
	}

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	sm, err := newSecretsManager()
	if err != nil {
		log.Fatalf("Failed to prepare secrets manager: %v", err)
	}

	if err := migrateAuthToken(db, sm, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("\n✓ Migration completed successfully!")
	}
}

func newSecretsManager() (*security.SecretsManager, error) {
	if *deviceID != "" {
		return security.NewSecretsManager(security.DeriveKeyFromDeviceID(*deviceID))
	}
	return security.NewSecretsManagerFromPassword(*password)
}

// migrateAuthToken rewrites the config bucket's authToken entry in
// place, encrypting it under sm if it is still plaintext. It leaves
// an already-encrypted token alone: DecryptToken failing is the
// signal that the existing value is plaintext (or foreign), which is
// the only case worth touching.
func migrateAuthToken(db *bolt.DB, sm *security.SecretsManager, dryRun bool) error {
	var current types.ConfigValue
	var found bool

	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(configBucket))
		if b == nil {
			log.Println("✓ No 'config' bucket found - nothing to migrate")
			return nil
		}
		v := b.Get([]byte(authTokenKey))
		if v == nil {
			return nil
		}
		found = true
		return json.Unmarshal(v, &current)
	})
	if err != nil {
		return fmt.Errorf("reading existing authToken: %w", err)
	}

	if !found {
		log.Println("✓ No authToken entry found - nothing to migrate")
		return nil
	}

	if _, err := sm.DecryptToken(current.String); err == nil {
		log.Println("✓ authToken already encrypted under the given key - nothing to do")
		return nil
	}

	encryptedValue, err := sm.EncryptToken(current.String)
	if err != nil {
		return fmt.Errorf("encrypting existing authToken: %w", err)
	}

	if dryRun {
		log.Println("[DRY RUN] Would overwrite config/authToken with an encrypted value")
		return nil
	}

	data, err := json.Marshal(types.NewConfigString(encryptedValue))
	if err != nil {
		return fmt.Errorf("encoding encrypted authToken: %w", err)
	}

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(configBucket))
		if err != nil {
			return fmt.Errorf("opening config bucket: %w", err)
		}
		if err := b.Put([]byte(authTokenKey), data); err != nil {
			return fmt.Errorf("writing encrypted authToken: %w", err)
		}
		log.Println("✓ authToken re-encrypted in place")
		return nil
	})
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
