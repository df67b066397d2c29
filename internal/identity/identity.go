// Package identity derives the deterministic content key for one
// (source bytes, crop parameters) pair. The key is the sole identity used
// by the cache, the lock, the record store and the object store, so every
// derivation here must be stable across processes and call order.
package identity

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/tendant/simple-image-cache/pkg/imagecache"
)

// ContentKey identifies one processed artifact: a digest of the raw bytes
// plus a digest of the canonicalized crop parameters.
type ContentKey struct {
	Hash string
	Sig  string
}

// canonicalCrop fixes the field order of the signed serialization. The
// struct tag order is part of the wire contract; reordering fields changes
// every signature.
type canonicalCrop struct {
	X       int    `json:"x"`
	Y       int    `json:"y"`
	W       int    `json:"w"`
	H       int    `json:"h"`
	Quality int    `json:"quality"`
	Format  string `json:"format"`
}

// ContentHash returns the SHA-256 hex digest of the raw input bytes.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CropSignature returns the SHA-1 hex digest of the canonical JSON form of
// the normalized crop parameters.
func CropSignature(crop imagecache.NormalizedCrop) string {
	canonical, err := json.Marshal(canonicalCrop{
		X:       crop.X,
		Y:       crop.Y,
		W:       crop.W,
		H:       crop.H,
		Quality: crop.Quality,
		Format:  crop.Format,
	})
	if err != nil {
		// Marshaling a struct of ints and a string cannot fail.
		panic(err)
	}
	sum := sha1.Sum(canonical)
	return hex.EncodeToString(sum[:])
}

// Derive computes the ContentKey for raw bytes and normalized parameters.
func Derive(data []byte, crop imagecache.NormalizedCrop) ContentKey {
	return ContentKey{
		Hash: ContentHash(data),
		Sig:  CropSignature(crop),
	}
}

// CacheKey returns the cache entry key for this identity.
func (k ContentKey) CacheKey() string {
	return fmt.Sprintf("img:%s:%s", k.Hash, k.Sig)
}

// LockKey returns the processing lock key for this identity.
func (k ContentKey) LockKey() string {
	return "lock:" + k.CacheKey()
}

// ObjectKey returns the object-store path for this identity's artifact.
func (k ContentKey) ObjectKey(format string) string {
	return fmt.Sprintf("images/%s/%s.%s", k.Hash, k.Sig, format)
}
