// Package store is the agent's encrypted local database: an AES-256-GCM sealed
// record store over a single sqlite file, holding captured records while the
// device is offline. Drafts are kept alongside, unencrypted and ephemeral.
package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrBadPassphrase = errors.New("wrong passphrase")
	// ErrDecrypt means a stored record failed authentication: either the key is
	// wrong or the file was tampered with.
	ErrDecrypt = errors.New("record failed decryption")

	keyCheckPlain = []byte("dms.offline.store.keycheck.v1")
)

const (
	keySize       = 32
	saltSize      = 16
	defaultIters  = 600_000
	metaSalt      = "kdf_salt"
	metaIters     = "kdf_iters"
	metaKeyCheck  = "key_check"
)

const schema = `
CREATE TABLE IF NOT EXISTS store_meta (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS secure_records (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	nonce      BLOB NOT NULL,
	ciphertext BLOB NOT NULL,
	dirty      INTEGER NOT NULL DEFAULT 1,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE TABLE IF NOT EXISTS drafts (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);`

// Options tune the key derivation; zero values take defaults.
type Options struct {
	KDFIterations int
}

type Store struct {
	db   *sql.DB
	aead cipher.AEAD
}

// Open opens (or initializes) the store at path and unlocks it with the
// passphrase. A wrong passphrase is detected via the key-check value before
// any record is touched.
func Open(path, passphrase string, opts Options) (*Store, error) {
	iters := opts.KDFIterations
	if iters <= 0 {
		iters = defaultIters
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening store db")
	}
	// a single writer keeps sqlite's locking out of the way
	db.SetMaxOpenConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating store schema")
	}

	s := &Store{db: db}
	if err = s.unlock(passphrase, iters); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) unlock(passphrase string, iters int) error {
	salt, err := s.getMetaBytes(metaSalt)
	switch {
	case err == nil:
		// existing store: honor the iterations it was created with
		var storedIters int64
		if err = s.db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, metaIters).Scan(&storedIters); err != nil {
			return errors.Wrap(err, "reading kdf iterations")
		}
		iters = int(storedIters)
	case errors.Cause(err) == ErrNotFound:
		// fresh store: pick a salt and remember the KDF params
		salt = make([]byte, saltSize)
		if _, err = rand.Read(salt); err != nil {
			return errors.Wrap(err, "generating salt")
		}
		if err = s.setMeta(metaSalt, salt); err != nil {
			return err
		}
		if _, err = s.db.Exec(`INSERT INTO store_meta (key, value) VALUES (?, ?)`, metaIters, int64(iters)); err != nil {
			return errors.Wrap(err, "storing kdf iterations")
		}
	default:
		return err
	}

	key := pbkdf2.Key([]byte(passphrase), salt, iters, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return errors.Wrap(err, "building cipher")
	}
	if s.aead, err = cipher.NewGCM(block); err != nil {
		return errors.Wrap(err, "building gcm")
	}

	check, err := s.getMetaBytes(metaKeyCheck)
	if errors.Cause(err) == ErrNotFound {
		sealed, err := s.seal(keyCheckPlain)
		if err != nil {
			return err
		}
		return s.setMeta(metaKeyCheck, sealed)
	} else if err != nil {
		return err
	}
	if _, err = s.open(check); err != nil {
		return ErrBadPassphrase
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle so the queue can share the same file.
func (s *Store) DB() *sql.DB { return s.db }

// Put seals and stores a record, marking it dirty (locally modified).
func (s *Store) Put(collection, id string, record interface{}) error {
	return s.put(collection, id, record, true)
}

// PutClean stores a record applied from the server; it is not considered a
// local modification for conflict purposes.
func (s *Store) PutClean(collection, id string, record interface{}) error {
	return s.put(collection, id, record, false)
}

func (s *Store) put(collection, id string, record interface{}, dirty bool) error {
	plain, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshaling record")
	}
	sealed, err := s.seal(plain)
	if err != nil {
		return err
	}
	d := 0
	if dirty {
		d = 1
	}
	_, err = s.db.Exec(`
		INSERT INTO secure_records (collection, id, nonce, ciphertext, dirty, updated_at)
		VALUES (?, ?, X'', ?, ?, unixepoch())
		ON CONFLICT (collection, id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			dirty      = excluded.dirty,
			updated_at = excluded.updated_at`,
		collection, id, sealed, d)
	return errors.Wrap(err, "storing record")
}

// Get decrypts the record into out.
func (s *Store) Get(collection, id string, out interface{}) error {
	var sealed []byte
	err := s.db.QueryRow(
		`SELECT ciphertext FROM secure_records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&sealed)
	if err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return errors.Wrap(err, "reading record")
	}

	plain, err := s.open(sealed)
	if err != nil {
		return err
	}
	return errors.Wrap(json.Unmarshal(plain, out), "unmarshaling record")
}

// IsDirty reports whether the record carries unsynced local modifications.
func (s *Store) IsDirty(collection, id string) (bool, error) {
	var dirty int
	err := s.db.QueryRow(
		`SELECT dirty FROM secure_records WHERE collection = ? AND id = ?`,
		collection, id).Scan(&dirty)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	} else if err != nil {
		return false, errors.Wrap(err, "reading dirty flag")
	}
	return dirty != 0, nil
}

// MarkClean clears the dirty flag after a successful push.
func (s *Store) MarkClean(collection, id string) error {
	_, err := s.db.Exec(
		`UPDATE secure_records SET dirty = 0 WHERE collection = ? AND id = ?`,
		collection, id)
	return errors.Wrap(err, "marking record clean")
}

func (s *Store) Delete(collection, id string) error {
	_, err := s.db.Exec(`DELETE FROM secure_records WHERE collection = ? AND id = ?`, collection, id)
	return errors.Wrap(err, "deleting record")
}

// List decrypts every record in the collection, ordered by last update.
func (s *Store) List(collection string) ([]json.RawMessage, error) {
	rows, err := s.db.Query(
		`SELECT ciphertext FROM secure_records WHERE collection = ? ORDER BY updated_at ASC`,
		collection)
	if err != nil {
		return nil, errors.Wrap(err, "listing records")
	}
	defer func() { _ = rows.Close() }()

	var out []json.RawMessage
	for rows.Next() {
		var sealed []byte
		if err = rows.Scan(&sealed); err != nil {
			return nil, errors.Wrap(err, "listing records")
		}
		plain, err := s.open(sealed)
		if err != nil {
			return nil, err
		}
		out = append(out, plain)
	}
	return out, errors.Wrap(rows.Err(), "listing records")
}

// Drafts are in-progress captures; they bypass encryption and are superseded
// by the submitted record.

func (s *Store) SaveDraft(collection, id string, record interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "marshaling draft")
	}
	_, err = s.db.Exec(`
		INSERT INTO drafts (collection, id, payload, updated_at)
		VALUES (?, ?, ?, unixepoch())
		ON CONFLICT (collection, id) DO UPDATE SET
			payload    = excluded.payload,
			updated_at = excluded.updated_at`,
		collection, id, payload)
	return errors.Wrap(err, "saving draft")
}

func (s *Store) GetDraft(collection, id string, out interface{}) error {
	var payload []byte
	err := s.db.QueryRow(
		`SELECT payload FROM drafts WHERE collection = ? AND id = ?`,
		collection, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return ErrNotFound
	} else if err != nil {
		return errors.Wrap(err, "reading draft")
	}
	return errors.Wrap(json.Unmarshal(payload, out), "unmarshaling draft")
}

func (s *Store) DeleteDraft(collection, id string) error {
	_, err := s.db.Exec(`DELETE FROM drafts WHERE collection = ? AND id = ?`, collection, id)
	return errors.Wrap(err, "deleting draft")
}

// Meta stores small plaintext values (sync watermarks, device identity).

func (s *Store) SetMeta(key string, value string) error {
	return s.setMeta("user."+key, []byte(value))
}

func (s *Store) GetMeta(key string) (string, error) {
	val, err := s.getMetaBytes("user." + key)
	if err != nil {
		return "", err
	}
	return string(val), nil
}

func (s *Store) setMeta(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, value)
	return errors.Wrap(err, "storing meta")
}

func (s *Store) getMetaBytes(key string) ([]byte, error) {
	var val []byte
	err := s.db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, key).Scan(&val)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, errors.Wrap(err, "reading meta")
	}
	return val, nil
}

// seal prepends the random nonce to the GCM ciphertext.
func (s *Store) seal(plain []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "generating nonce")
	}
	return s.aead.Seal(nonce, nonce, plain, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(sealed) < ns {
		return nil, ErrDecrypt
	}
	plain, err := s.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plain, nil
}
