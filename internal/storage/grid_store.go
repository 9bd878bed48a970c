package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/annel0/voxel-nav/internal/logging"
	"github.com/annel0/voxel-nav/internal/terrain"
	"github.com/annel0/voxel-nav/internal/vec"
	"github.com/annel0/voxel-nav/internal/voxel"
	"github.com/dgraph-io/badger/v3"
	"github.com/klauspost/compress/zstd"
)

const gridKeyPrefix = "grid:"

var (
	// ErrGridNotFound — снимок с таким ID отсутствует
	ErrGridNotFound = errors.New("storage: grid not found")
	// ErrStoreClosed — хранилище закрыто
	ErrStoreClosed = errors.New("storage: store is closed")
)

// GridRecord — сохранённая сетка вместе с параметрами её построения
type GridRecord struct {
	ID        string                `json:"id"`
	Name      string                `json:"name,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	Forest    *terrain.ForestConfig `json:"forest,omitempty"` // nil, если сетка построена без леса
	Snapshot  *voxel.Snapshot       `json:"-"`
}

// gridPayload — формат значения в BadgerDB; битовая маска сжата zstd
type gridPayload struct {
	ID        string                `json:"id"`
	Name      string                `json:"name,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	Forest    *terrain.ForestConfig `json:"forest,omitempty"`
	Config    voxel.Config          `json:"config"`
	Extents   voxel.Extents         `json:"extents"`
	Dims      vec.Vec3              `json:"dims"`
	Walkable  []byte                `json:"walkable_zstd"`
	RawLength int                   `json:"walkable_len"`
}

// GridStore хранит снимки воксельных сеток в BadgerDB
type GridStore struct {
	db      *badger.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	mutex   sync.RWMutex
	isReady bool
}

// NewGridStore открывает хранилище в каталоге dataPath/grids
func NewGridStore(dataPath string) (*GridStore, error) {
	opts := badger.DefaultOptions(filepath.Join(dataPath, "grids"))
	return openGridStore(opts)
}

// NewInMemoryGridStore создаёт хранилище без записи на диск
func NewInMemoryGridStore() (*GridStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	return openGridStore(opts)
}

func openGridStore(opts badger.Options) (*GridStore, error) {
	opts.Logger = nil // Отключаем логирование BadgerDB

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		db.Close()
		return nil, fmt.Errorf("не удалось создать zstd decoder: %w", err)
	}

	return &GridStore{
		db:      db,
		encoder: encoder,
		decoder: decoder,
		isReady: true,
	}, nil
}

// Close закрывает хранилище
func (gs *GridStore) Close() error {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()

	if !gs.isReady {
		return nil
	}

	gs.isReady = false
	gs.encoder.Close()
	gs.decoder.Close()
	return gs.db.Close()
}

func gridKey(id string) []byte {
	return []byte(gridKeyPrefix + id)
}

// Save сохраняет или перезаписывает сетку
func (gs *GridStore) Save(rec *GridRecord) error {
	if rec == nil || rec.ID == "" || rec.Snapshot == nil {
		return fmt.Errorf("storage: record must have ID and snapshot")
	}

	gs.mutex.RLock()
	defer gs.mutex.RUnlock()

	if !gs.isReady {
		return ErrStoreClosed
	}

	payload := gridPayload{
		ID:        rec.ID,
		Name:      rec.Name,
		CreatedAt: rec.CreatedAt,
		Forest:    rec.Forest,
		Config:    rec.Snapshot.Config,
		Extents:   rec.Snapshot.Extents,
		Dims:      rec.Snapshot.Dims,
		Walkable:  gs.encoder.EncodeAll(rec.Snapshot.Walkable, nil),
		RawLength: len(rec.Snapshot.Walkable),
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сетки: %w", err)
	}

	err = gs.db.Update(func(txn *badger.Txn) error {
		return txn.Set(gridKey(rec.ID), data)
	})
	if err != nil {
		return fmt.Errorf("ошибка сохранения в BadgerDB: %w", err)
	}

	logging.Debug("💾 Сетка %s сохранена: %d байт маски -> %d байт", rec.ID, payload.RawLength, len(payload.Walkable))
	return nil
}

// Load загружает сетку по ID
func (gs *GridStore) Load(id string) (*GridRecord, error) {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()

	if !gs.isReady {
		return nil, ErrStoreClosed
	}

	var data []byte
	err := gs.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(gridKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrGridNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения из BadgerDB: %w", err)
	}

	return gs.decode(data)
}

// Delete удаляет сетку; отсутствие ключа не считается ошибкой
func (gs *GridStore) Delete(id string) error {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()

	if !gs.isReady {
		return ErrStoreClosed
	}

	err := gs.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(gridKey(id))
	})
	if err != nil {
		return fmt.Errorf("ошибка удаления из BadgerDB: %w", err)
	}
	return nil
}

// List возвращает все сохранённые сетки, отсортированные по времени создания
func (gs *GridStore) List() ([]*GridRecord, error) {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()

	if !gs.isReady {
		return nil, ErrStoreClosed
	}

	var records []*GridRecord
	err := gs.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(gridKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec *GridRecord
			err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				rec, decodeErr = gs.decode(val)
				return decodeErr
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обхода BadgerDB: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (gs *GridStore) decode(data []byte) (*GridRecord, error) {
	var payload gridPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("ошибка десериализации сетки: %w", err)
	}

	walkable, err := gs.decoder.DecodeAll(payload.Walkable, make([]byte, 0, payload.RawLength))
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки маски сетки %s: %w", payload.ID, err)
	}

	return &GridRecord{
		ID:        payload.ID,
		Name:      payload.Name,
		CreatedAt: payload.CreatedAt,
		Forest:    payload.Forest,
		Snapshot: &voxel.Snapshot{
			Config:   payload.Config,
			Extents:  payload.Extents,
			Dims:     payload.Dims,
			Walkable: walkable,
		},
	}, nil
}
