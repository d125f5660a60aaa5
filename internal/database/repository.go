package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drallgood/weread-shelf-sync/internal/crypto"
	"github.com/drallgood/weread-shelf-sync/internal/logger"
	"github.com/drallgood/weread-shelf-sync/internal/weread"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Repository stores users, credentials and cached platform data. It
// implements weread.CredentialStore and weread.CacheStore, keyed by wr_vid.
type Repository struct {
	db        *Database
	encryptor *crypto.EncryptionManager
	logger    *logger.Logger
}

var (
	_ weread.CredentialStore = (*Repository)(nil)
	_ weread.CacheStore      = (*Repository)(nil)
)

// NewRepository creates a new repository instance
func NewRepository(db *Database, encryptor *crypto.EncryptionManager, log *logger.Logger) *Repository {
	if log == nil {
		log = logger.Get()
	}
	return &Repository{db: db, encryptor: encryptor, logger: log}
}

func (r *Repository) conn(ctx context.Context) *gorm.DB {
	return r.db.GetDB().WithContext(ctx)
}

// UpsertUser creates the user for bundle.Vid or refreshes its profile and
// secrets, and records the login time.
func (r *Repository) UpsertUser(ctx context.Context, bundle weread.CredentialBundle) (*User, error) {
	skey, err := r.encryptor.Encrypt(bundle.Skey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt wr_skey: %w", err)
	}
	rt, err := r.encryptor.Encrypt(bundle.Rt)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt wr_rt: %w", err)
	}

	now := time.Now()
	var user User
	err = r.conn(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("wr_vid = ?", bundle.Vid).First(&user).Error
		created := errors.Is(err, gorm.ErrRecordNotFound)
		if err != nil && !created {
			return fmt.Errorf("failed to look up user: %w", err)
		}

		user.WrVid = bundle.Vid
		user.WrName = bundle.Name
		user.WrAvatar = bundle.Avatar
		user.WrGender = bundle.Gender
		user.WrLocalVid = bundle.LocalVid
		user.WrGid = bundle.Gid
		user.WrPf = bundle.Pf
		user.SkeyEncrypted = skey
		user.RtEncrypted = rt
		user.IsActive = true
		user.LastLoginAt = &now

		if created {
			if err := tx.Create(&user).Error; err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}
			r.logger.Info("Created user", map[string]interface{}{"user_id": user.ID, "wr_vid": user.WrVid})
			return nil
		}
		if err := tx.Save(&user).Error; err != nil {
			return fmt.Errorf("failed to update user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUser returns an active user by id.
func (r *Repository) GetUser(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.conn(ctx).Where("id = ? AND is_active = ?", id, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// GetUserByVid returns an active user by WeRead vid.
func (r *Repository) GetUserByVid(ctx context.Context, vid string) (*User, error) {
	var user User
	err := r.conn(ctx).Where("wr_vid = ? AND is_active = ?", vid, true).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

// Bundle decrypts the credentials stored for user.
func (r *Repository) Bundle(user *User) (weread.CredentialBundle, error) {
	skey, err := r.encryptor.Decrypt(user.SkeyEncrypted)
	if err != nil {
		return weread.CredentialBundle{}, fmt.Errorf("failed to decrypt wr_skey: %w", err)
	}
	rt, err := r.encryptor.Decrypt(user.RtEncrypted)
	if err != nil {
		return weread.CredentialBundle{}, fmt.Errorf("failed to decrypt wr_rt: %w", err)
	}
	return weread.CredentialBundle{
		Gid:      user.WrGid,
		Vid:      user.WrVid,
		Skey:     skey,
		Rt:       rt,
		LocalVid: user.WrLocalVid,
		Name:     user.WrName,
		Avatar:   user.WrAvatar,
		Gender:   user.WrGender,
		Pf:       user.WrPf,
	}, nil
}

// GetCredentials implements weread.CredentialStore.
func (r *Repository) GetCredentials(ctx context.Context, vid string) (*weread.CredentialBundle, error) {
	user, err := r.GetUserByVid(ctx, vid)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bundle, err := r.Bundle(user)
	if err != nil {
		return nil, err
	}
	return &bundle, nil
}

// PutCredentials implements weread.CredentialStore.
func (r *Repository) PutCredentials(ctx context.Context, vid string, bundle weread.CredentialBundle) error {
	bundle.Vid = vid
	_, err := r.UpsertUser(ctx, bundle)
	return err
}

// LoadBook implements weread.CacheStore.
func (r *Repository) LoadBook(ctx context.Context, bookID string) (*weread.CanonicalBook, error) {
	var row BookCache
	err := r.conn(ctx).Where("book_id = ?", bookID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cached book: %w", err)
	}
	var book weread.CanonicalBook
	if err := json.Unmarshal([]byte(row.Data), &book); err != nil {
		r.logger.Warn("Discarding unreadable cached book", map[string]interface{}{
			"book_id": bookID,
			"error":   err.Error(),
		})
		return nil, nil
	}
	return &book, nil
}

// SaveBook implements weread.CacheStore.
func (r *Repository) SaveBook(ctx context.Context, book weread.CanonicalBook) error {
	if book.BookID == "" {
		return errors.New("cannot cache a book without id")
	}
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("failed to marshal book: %w", err)
	}
	row := BookCache{BookID: book.BookID, Data: string(data)}
	err = r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "book_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to cache book: %w", err)
	}
	return nil
}

// LoadSnapshot implements weread.CacheStore.
func (r *Repository) LoadSnapshot(ctx context.Context, userKey string) (*weread.BookshelfSnapshot, error) {
	var row ShelfSnapshot
	err := r.conn(ctx).Where("user_key = ?", userKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	var snap weread.BookshelfSnapshot
	if err := json.Unmarshal([]byte(row.Data), &snap); err != nil {
		r.logger.Warn("Discarding unreadable snapshot", map[string]interface{}{
			"user_key": userKey,
			"error":    err.Error(),
		})
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot implements weread.CacheStore. The last write wins.
func (r *Repository) SaveSnapshot(ctx context.Context, userKey string, snap *weread.BookshelfSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	row := ShelfSnapshot{
		UserKey:   userKey,
		Data:      string(data),
		Source:    snap.Source,
		BookCount: len(snap.Books),
		FetchedAt: snap.FetchedAt,
	}
	err = r.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "source", "book_count", "fetched_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}
