package kv

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strconv"

	"github.com/cuemby/ballast/pkg/types"
)

// DesiredKey is the Redis key holding the process-wide desired
// replica count.
const DesiredKey = "DESIRED"

// GetDesired reads DESIRED, defaulting to def if absent.
func GetDesired(ctx context.Context, s Store, def int) (int, error) {
	v, ok, err := s.Get(ctx, DesiredKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, nil
	}
	return n, nil
}

// SetDesired writes DESIRED.
func SetDesired(ctx context.Context, s Store, n int) error {
	return s.Set(ctx, DesiredKey, strconv.Itoa(n))
}

// ContainerKey derives the stable per-worker metadata key, hashing
// (app_id, container_name) per the fixed worker-identity design note.
func ContainerKey(appID, containerName string) string {
	sum := md5.Sum([]byte(appID + ":" + containerName))
	return "container:" + hex.EncodeToString(sum[:])
}

// ContainerRecord is the per-worker metadata persisted in KV. Category
// is the authoritative lifecycle source of truth across restarts.
type ContainerRecord struct {
	Category types.Category
	Score    float64
	Port     int
	Image    string
}

func (r ContainerRecord) fields() map[string]string {
	return map[string]string{
		"category": string(r.Category),
		"score":    strconv.FormatFloat(r.Score, 'f', -1, 64),
		"port":     strconv.Itoa(r.Port),
		"image":    r.Image,
	}
}

// PutContainerRecord writes a worker's metadata record.
func PutContainerRecord(ctx context.Context, s Store, key string, r ContainerRecord) error {
	return s.HSet(ctx, key, r.fields())
}

// GetContainerRecord reads a worker's metadata record. ok is false if
// the key does not exist at all.
func GetContainerRecord(ctx context.Context, s Store, key string) (ContainerRecord, bool, error) {
	m, err := s.HGetAll(ctx, key)
	if err != nil {
		return ContainerRecord{}, false, err
	}
	if len(m) == 0 {
		return ContainerRecord{}, false, nil
	}
	score, _ := strconv.ParseFloat(m["score"], 64)
	port, _ := strconv.Atoi(m["port"])
	return ContainerRecord{
		Category: types.Category(m["category"]),
		Score:    score,
		Port:     port,
		Image:    m["image"],
	}, true, nil
}

// ListContainerKeys returns every per-worker metadata key currently in
// KV, used by the reconciler's orphan-cleanup pass.
func ListContainerKeys(ctx context.Context, s Store) ([]string, error) {
	return s.Keys(ctx, "container:")
}

// DeleteContainerRecord removes a worker's metadata record.
func DeleteContainerRecord(ctx context.Context, s Store, key string) error {
	return s.Del(ctx, key)
}
