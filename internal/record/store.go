package record

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/live-labs/crmvault/internal/storage"
)

// FileName is the vault record file, kept next to the sealed database.
const FileName = "vault.meta"

const formatVersion = 1

var configBucket = []byte("config")

// Config keys
var (
	keyVersion    = []byte("version")
	keyVaultID    = []byte("vault_id")
	keyMode       = []byte("mode")
	keySalt       = []byte("salt")
	keyKDFTime    = []byte("kdf_time")
	keyKDFMemory  = []byte("kdf_memory")
	keyKDFThreads = []byte("kdf_threads")
	keyWrappedDEK = []byte("wrapped_dek")
	keyCreated    = []byte("created")
	keyModified   = []byte("modified")
)

// Exists reports whether a vault record is present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Write persists the record. It builds the database at a temp path and
// renames it into place so a crash never leaves a half-written record.
func Write(path string, rec *Record) error {
	tmp := path + ".tmp"
	os.Remove(tmp)

	db, err := bolt.Open(tmp, 0600, nil)
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		config, err := tx.CreateBucketIfNotExists(configBucket)
		if err != nil {
			return err
		}
		if err := config.Put(keyVersion, u32(formatVersion)); err != nil {
			return err
		}
		if err := config.Put(keyVaultID, []byte(rec.VaultID)); err != nil {
			return err
		}
		if err := config.Put(keyMode, []byte(rec.Mode)); err != nil {
			return err
		}
		if rec.Mode == ModePassphrase {
			if err := config.Put(keySalt, rec.Salt); err != nil {
				return err
			}
			if err := config.Put(keyKDFTime, u32(rec.KDF.Time)); err != nil {
				return err
			}
			if err := config.Put(keyKDFMemory, u32(rec.KDF.MemoryKiB)); err != nil {
				return err
			}
			if err := config.Put(keyKDFThreads, []byte{rec.KDF.Threads}); err != nil {
				return err
			}
			if err := config.Put(keyWrappedDEK, rec.WrappedDEK); err != nil {
				return err
			}
		}
		created, _ := rec.Created.MarshalBinary()
		if err := config.Put(keyCreated, created); err != nil {
			return err
		}
		modified, _ := rec.Modified.MarshalBinary()
		return config.Put(keyModified, modified)
	})
	if err != nil {
		db.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := db.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close record: %w", err)
	}

	return storage.ReplaceFile(tmp, path)
}

// Read loads the record at path. Values are copied out of the bolt
// transaction before the database closes.
func Read(path string) (*Record, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open record: %w", err)
	}
	defer db.Close()

	rec := &Record{}
	err = db.View(func(tx *bolt.Tx) error {
		config := tx.Bucket(configBucket)
		if config == nil {
			return fmt.Errorf("config bucket not found")
		}

		version := config.Get(keyVersion)
		if len(version) != 4 || binary.BigEndian.Uint32(version) != formatVersion {
			return fmt.Errorf("unknown record version")
		}

		rec.VaultID = string(config.Get(keyVaultID))

		mode := Mode(config.Get(keyMode))
		switch mode {
		case ModeDevice, ModePassphrase:
			rec.Mode = mode
		default:
			return fmt.Errorf("unknown vault mode %q", mode)
		}

		if mode == ModePassphrase {
			salt := config.Get(keySalt)
			wrapped := config.Get(keyWrappedDEK)
			kdfTime := config.Get(keyKDFTime)
			kdfMemory := config.Get(keyKDFMemory)
			kdfThreads := config.Get(keyKDFThreads)
			if salt == nil || wrapped == nil ||
				len(kdfTime) != 4 || len(kdfMemory) != 4 || len(kdfThreads) != 1 {
				return fmt.Errorf("incomplete passphrase parameters")
			}
			rec.Salt = append([]byte(nil), salt...)
			rec.WrappedDEK = append([]byte(nil), wrapped...)
			rec.KDF.Time = binary.BigEndian.Uint32(kdfTime)
			rec.KDF.MemoryKiB = binary.BigEndian.Uint32(kdfMemory)
			rec.KDF.Threads = kdfThreads[0]
		}

		rec.Created = readTime(config.Get(keyCreated))
		rec.Modified = readTime(config.Get(keyModified))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read record: %w", err)
	}
	return rec, nil
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func readTime(data []byte) time.Time {
	var t time.Time
	if data != nil {
		_ = t.UnmarshalBinary(data)
	}
	return t
}
