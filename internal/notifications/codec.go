package notifications

import (
	"bytes"
	"encoding/json"

	"github.com/BearBump/ShopTrack/internal/models"
	"github.com/pkg/errors"
)

// CurrentVersion is written on every save. Version 0 is the legacy bare JSON
// array, accepted on read and rewritten on the next save.
const CurrentVersion = 1

var ErrUnsupportedVersion = errors.New("unsupported record version")

type logRecord struct {
	Version int                   `json:"version"`
	Items   []models.Notification `json:"items"`
}

type keysRecord struct {
	Version int      `json:"version"`
	Items   []string `json:"items"`
}

func encodeLog(items []models.Notification) ([]byte, error) {
	if items == nil {
		items = []models.Notification{}
	}
	b, err := json.Marshal(logRecord{Version: CurrentVersion, Items: items})
	return b, errors.Wrap(err, "encode notification log")
}

func encodeKeys(keys []models.NotifiedKey) ([]byte, error) {
	items := make([]string, 0, len(keys))
	for _, k := range keys {
		items = append(items, k.String())
	}
	b, err := json.Marshal(keysRecord{Version: CurrentVersion, Items: items})
	return b, errors.Wrap(err, "encode notified keys")
}

func decodeLog(b []byte) ([]models.Notification, int, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, CurrentVersion, nil
	}
	if b[0] == '[' {
		var items []models.Notification
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, 0, errors.Wrap(err, "decode legacy notification log")
		}
		return items, 0, nil
	}
	var rec logRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, 0, errors.Wrap(err, "decode notification log")
	}
	if rec.Version > CurrentVersion || rec.Version < 1 {
		return nil, rec.Version, errors.Wrapf(ErrUnsupportedVersion, "%s v%d", RecordLog, rec.Version)
	}
	return rec.Items, rec.Version, nil
}

// decodeKeys понимает и старый формат: массив голых id заказов
// (дедуп только по заказу). Такие id становятся ключами без стадии.
func decodeKeys(b []byte) ([]models.NotifiedKey, int, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, CurrentVersion, nil
	}
	var (
		items   []string
		version int
	)
	if b[0] == '[' {
		if err := json.Unmarshal(b, &items); err != nil {
			return nil, 0, errors.Wrap(err, "decode legacy notified keys")
		}
	} else {
		var rec keysRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, 0, errors.Wrap(err, "decode notified keys")
		}
		if rec.Version > CurrentVersion || rec.Version < 1 {
			return nil, rec.Version, errors.Wrapf(ErrUnsupportedVersion, "%s v%d", RecordKeys, rec.Version)
		}
		items, version = rec.Items, rec.Version
	}

	out := make([]models.NotifiedKey, 0, len(items))
	for _, it := range items {
		if version == 0 {
			out = append(out, models.NotifiedKey{OrderID: it})
			continue
		}
		if k, ok := models.ParseNotifiedKey(it); ok {
			out = append(out, k)
		}
	}
	return out, version, nil
}
