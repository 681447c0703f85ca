package secretstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/loopkit/nightscoutservice/internal/common"
	"github.com/loopkit/nightscoutservice/internal/cryptox"
	"github.com/loopkit/nightscoutservice/internal/dbx"
	"github.com/loopkit/nightscoutservice/internal/otp"
	"github.com/loopkit/nightscoutservice/internal/repositories/metadata"
)

// Metadata keys.
const (
	SecretKeyKey       = "otp.secret_key"
	SecretLabelKey     = "otp.secret_label"
	RecentPasswordsKey = "otp.recent_passwords"
	SaltKey            = "otp.salt"
)

// ErrWrongPassphrase is returned when a sealed value cannot be opened.
var ErrWrongPassphrase = errors.New("otp secret cannot be decrypted: wrong passphrase")

// SQLiteStore implements otp.SecretStore.
type SQLiteStore struct {
	db   *sql.DB
	repo metadata.Repository
	key  []byte
}

var _ otp.SecretStore = (*SQLiteStore)(nil)

// NewSQLiteStore returns a store over db, which must already be migrated. An
// empty passphrase stores values in the clear.
func NewSQLiteStore(ctx context.Context, db *sql.DB, passphrase []byte) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, repo: metadata.NewSQLiteRepository(db)}
	if len(passphrase) == 0 {
		return s, nil
	}

	salt, err := s.repo.Get(ctx, SaltKey)
	switch {
	case errors.Is(err, common.ErrorNotFound):
		if salt, err = cryptox.NewSalt(nil); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		if err := s.repo.Set(ctx, SaltKey, salt); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}

	s.key = cryptox.DeriveKey(passphrase, salt)
	return s, nil
}

func (s *SQLiteStore) SecretKey(ctx context.Context) (string, error) {
	return s.get(ctx, s.repo, SecretKeyKey)
}

func (s *SQLiteStore) SetSecretKey(ctx context.Context, key string) error {
	return s.set(ctx, s.repo, SecretKeyKey, key)
}

func (s *SQLiteStore) SecretLabel(ctx context.Context) (string, error) {
	return s.get(ctx, s.repo, SecretLabelKey)
}

func (s *SQLiteStore) SetSecretLabel(ctx context.Context, label string) error {
	return s.set(ctx, s.repo, SecretLabelKey, label)
}

// SetSecret replaces key and label in one transaction and clears the
// accepted-password log, which belongs to the old secret.
func (s *SQLiteStore) SetSecret(ctx context.Context, key, label string) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := metadata.NewSQLiteRepository(tx)
		if err := s.set(ctx, repo, SecretKeyKey, key); err != nil {
			return err
		}
		if err := s.set(ctx, repo, SecretLabelKey, label); err != nil {
			return err
		}
		return repo.Delete(ctx, RecentPasswordsKey)
	})
}

func (s *SQLiteStore) RecentAcceptedPasswords(ctx context.Context) ([]string, error) {
	joined, err := s.get(ctx, s.repo, RecentPasswordsKey)
	if errors.Is(err, otp.ErrNoSecret) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strings.Split(joined, ","), nil
}

func (s *SQLiteStore) SetRecentAcceptedPasswords(ctx context.Context, passwords []string) error {
	if len(passwords) == 0 {
		return s.repo.Delete(ctx, RecentPasswordsKey)
	}
	return s.set(ctx, s.repo, RecentPasswordsKey, strings.Join(passwords, ","))
}

func (s *SQLiteStore) get(ctx context.Context, repo metadata.Repository, name string) (string, error) {
	value, err := repo.Get(ctx, name)
	if errors.Is(err, common.ErrorNotFound) {
		return "", otp.ErrNoSecret
	}
	if err != nil {
		return "", err
	}
	if len(value) == 0 {
		return "", otp.ErrNoSecret
	}

	if s.key != nil {
		if value, err = cryptox.Open(value, s.key); err != nil {
			return "", fmt.Errorf("%w: %s", ErrWrongPassphrase, name)
		}
	}
	return string(value), nil
}

func (s *SQLiteStore) set(ctx context.Context, repo metadata.Repository, name, value string) error {
	data := []byte(value)
	if s.key != nil {
		var err error
		if data, err = cryptox.Seal(data, s.key); err != nil {
			return fmt.Errorf("seal %s: %w", name, err)
		}
	}
	return repo.Set(ctx, name, data)
}
