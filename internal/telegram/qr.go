package telegram

import (
	"encoding/json"
	"fmt"

	"github.com/celestix/gotgproto/storage"
	"github.com/glebarez/sqlite"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// QRBundle holds the raw td client used for QR authentication. gotgproto's
// NewClient always falls back to interactive CLI auth, which is useless for
// a scan-to-login flow, so the QR path talks to td directly and converts the
// resulting session afterwards.
type QRBundle struct {
	Client     *telegram.Client
	Dispatcher tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// NewQRBundle creates a raw td/telegram client suitable for QR login.
func NewQRBundle(apiID int, apiHash string) *QRBundle {
	memStorage := &session.StorageMemory{}
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(apiID, apiHash, telegram.Options{
		SessionStorage: memStorage,
		UpdateHandler:  &dispatcher,
	})

	return &QRBundle{
		Client:     client,
		Dispatcher: dispatcher,
		Storage:    memStorage,
	}
}

// ConvertSession converts gotd session.Data to the gotgproto storage format.
// gotgproto expects the raw JSON bytes of session.Data in its Data field.
func ConvertSession(data *session.Data) (*storage.Session, error) {
	if data == nil {
		return nil, fmt.Errorf("session data is nil")
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal session data: %w", err)
	}

	return &storage.Session{
		Version: storage.LatestVersion,
		Data:    dataJSON,
	}, nil
}

// SaveSession writes a converted session into the sqlite session database
// the relay service reads on startup. Version is the primary key, so a
// repeated login overwrites the previous session.
func SaveSession(path string, data *session.Data) error {
	sess, err := ConvertSession(data)
	if err != nil {
		return err
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("open session database: %w", err)
	}

	if err := db.AutoMigrate(&storage.Session{}); err != nil {
		return fmt.Errorf("migrate session table: %w", err)
	}
	return db.Save(sess).Error
}
