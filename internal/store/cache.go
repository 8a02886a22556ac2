package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
)

// GetCachedResponse returns the cached payload for key, or (nil, nil) on a
// miss. Payloads are stored gzip-compressed.
func (s *Store) GetCachedResponse(key string) ([]byte, error) {
	var compressed []byte
	err := s.db.QueryRow(`SELECT payload_gzip FROM api_cache WHERE cache_key = ?`, key).Scan(&compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	gz, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	payload, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}
	return payload, nil
}

// PutCachedResponse stores a payload under key, replacing any previous entry.
func (s *Store) PutCachedResponse(key string, payload []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(payload); err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}

	hash := sha256.Sum256(payload)
	_, err := s.db.Exec(`
		INSERT INTO api_cache (cache_key, payload_hash, payload_gzip)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload_hash = excluded.payload_hash,
			payload_gzip = excluded.payload_gzip,
			fetched_at = CURRENT_TIMESTAMP
	`, key, hex.EncodeToString(hash[:]), buf.Bytes())
	return err
}
