package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
)

var (
	dataDir    = flag.String("data-dir", "/var/lib/drover", "Drover data directory")
	dryRun     = flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	backupPath = flag.String("backup", "", "Path to backup the database before migration (default: <data-dir>/drover.db.backup)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("Drover Database Migration Tool - SessionLog → AuditLog")
	log.Println("======================================================")

	dbPath := filepath.Join(*dataDir, "drover.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Fatalf("Database not found at %s", dbPath)
	}

	log.Printf("Database: %s", dbPath)
	log.Printf("Dry run: %v", *dryRun)

	// Create backup unless in dry-run mode
	if !*dryRun {
		backupFile := *backupPath
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

	if err := migrateSessionLogsToAuditLogs(db, *dryRun); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	if *dryRun {
		log.Println("\nDry run completed. No changes made.")
		log.Println("Run without --dry-run to perform the migration.")
	} else {
		log.Println("\n✓ Migration completed successfully!")
		log.Println("Old 'sessionlogs' bucket has been preserved for rollback if needed.")
		log.Println("After verifying the migration, you can manually delete it using:")
		log.Printf("  bolt db rm %s sessionlogs", dbPath)
	}
}

// migrateSessionLogsToAuditLogs copies the legacy per-session log entries into
// the auditlogs bucket, mapping the old field names onto the new schema.
func migrateSessionLogsToAuditLogs(db *bolt.DB, dryRun bool) error {
	var entryCount int
	var migratedCount int

	// First, inspect what exists
	err := db.View(func(tx *bolt.Tx) error {
		legacyBucket := tx.Bucket([]byte("sessionlogs"))
		if legacyBucket == nil {
			log.Println("✓ No 'sessionlogs' bucket found - database is already using new schema")
			return nil
		}

		auditBucket := tx.Bucket([]byte("auditlogs"))
		if auditBucket != nil {
			log.Println("⚠ Warning: Both 'sessionlogs' and 'auditlogs' buckets exist")
		}

		legacyBucket.ForEach(func(k, v []byte) error {
			entryCount++
			return nil
		})

		log.Printf("Found %d log entries to migrate", entryCount)
		return nil
	})

	if err != nil {
		return err
	}

	if entryCount == 0 {
		log.Println("✓ No log entries found to migrate")
		return nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if dryRun {
			log.Println("\n[DRY RUN] Would perform the following operations:")
			log.Println("1. Create 'auditlogs' bucket")
			log.Println("2. Copy all data from 'sessionlogs' to 'auditlogs', renaming fields")
			log.Printf("3. Migrate %d log entries", entryCount)
			log.Println("4. Preserve 'sessionlogs' bucket for rollback")
			return nil
		}

		auditBucket, err := tx.CreateBucketIfNotExists([]byte("auditlogs"))
		if err != nil {
			return fmt.Errorf("failed to create auditlogs bucket: %w", err)
		}

		legacyBucket := tx.Bucket([]byte("sessionlogs"))
		if legacyBucket == nil {
			return nil // Already migrated
		}

		log.Println("\nMigrating session logs to audit logs...")
		err = legacyBucket.ForEach(func(k, v []byte) error {
			var entry map[string]interface{}
			if err := json.Unmarshal(v, &entry); err != nil {
				log.Printf("⚠ Warning: Skipping invalid JSON for key %s: %v", k, err)
				return nil
			}

			// The legacy schema used "timestamp" and "func_name".
			if ts, ok := entry["timestamp"]; ok {
				entry["event_timestamp"] = ts
				delete(entry, "timestamp")
			}
			if fn, ok := entry["func_name"]; ok {
				entry["function_name"] = fn
				delete(entry, "func_name")
			}

			out, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("failed to re-encode entry %s: %w", k, err)
			}
			if err := auditBucket.Put(k, out); err != nil {
				return fmt.Errorf("failed to copy entry %s: %w", k, err)
			}

			migratedCount++
			if migratedCount%10 == 0 {
				log.Printf("  Migrated %d/%d...", migratedCount, entryCount)
			}
			return nil
		})

		if err != nil {
			return err
		}

		log.Printf("✓ Migrated %d/%d log entries to auditlogs", migratedCount, entryCount)
		log.Println("✓ Preserved 'sessionlogs' bucket for rollback")

		return nil
	})

	return err
}

func copyFile(src, dst string) error {
	input, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, input, 0600)
}
