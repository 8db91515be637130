package device

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	pebblestore "github.com/odesys/relay/internal/storage/pebble"
	logpkg "github.com/odesys/relay/pkg/log"
)

// Store is the durable surface the identity needs; satisfied by
// *pebblestore.DB.
type Store interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

var idKey = []byte("device/id")

// Identity names this device to the collector. Minted once on first run and
// stable across restarts so server-side dedup can trust it.
type Identity struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"createdAt"`
}

// Load returns the persisted identity, minting one on first run. A non-empty
// override replaces whatever is stored; the replacement is persisted so
// later runs agree.
func Load(store Store, override string, logger logpkg.Logger) (Identity, error) {
	if logger == nil {
		logger = logpkg.NewLogger()
	}
	logger = logger.With(logpkg.Component("device"))

	var stored Identity
	data, err := store.Get(idKey)
	if err != nil && !errors.Is(err, pebblestore.ErrNotFound) {
		// Minting a fresh ID here would silently rotate the device on a
		// transient fault, so fail instead.
		return Identity{}, fmt.Errorf("device: read identity: %w", err)
	}
	if err == nil && len(data) > 0 {
		if err := json.Unmarshal(data, &stored); err != nil {
			logger.Error("device.identity_corrupt", logpkg.Err(err))
			stored = Identity{}
		}
	}

	if override != "" {
		if stored.ID == override {
			return stored, nil
		}
		ident := Identity{ID: override, CreatedAt: time.Now().UnixMilli()}
		if err := persist(store, ident); err != nil {
			return Identity{}, err
		}
		logger.Info("device.identity_overridden", logpkg.Str("device_id", ident.ID))
		return ident, nil
	}

	if stored.ID != "" {
		return stored, nil
	}

	ident := Identity{ID: uuid.NewString(), CreatedAt: time.Now().UnixMilli()}
	if err := persist(store, ident); err != nil {
		return Identity{}, err
	}
	logger.Info("device.identity_minted", logpkg.Str("device_id", ident.ID))
	return ident, nil
}

func persist(store Store, ident Identity) error {
	data, err := json.Marshal(ident)
	if err != nil {
		return fmt.Errorf("device: marshal identity: %w", err)
	}
	if err := store.Set(idKey, data); err != nil {
		return fmt.Errorf("device: persist identity: %w", err)
	}
	return nil
}
