package id

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/crypto/sha3"

	"github.com/dlnabridge/dlnabridge/log"
)

func NewRandom() string {
	id, err := gonanoid.Generate("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz", 22)
	if err != nil {
		log.Error("Could not generate new ID", err)
	}
	return id
}

// NewHash generates a deterministic ID from input data using SHA3-256,
// truncated to 128 bits and rendered as 22-char base62.
func NewHash(data ...string) string {
	h := hashBytes(data...)
	bi := big.NewInt(0)
	bi.SetBytes(h)
	s := bi.Text(62)
	return fmt.Sprintf("%022s", s)
}

// NewUUID derives a stable UUID-formatted identifier from the input data.
// Identical inputs always produce the same UUID across restarts.
func NewUUID(data ...string) string {
	h := hashBytes(data...)
	s := hex.EncodeToString(h)
	return fmt.Sprintf("%s-%s-%s-%s-%s", s[0:8], s[8:12], s[12:16], s[16:20], s[20:32])
}

func hashBytes(data ...string) []byte {
	hash := sha3.New256()
	for _, d := range data {
		hash.Write([]byte(strings.ToLower(d)))
		hash.Write([]byte(string('\u200b')))
	}
	return hash.Sum(nil)[:16]
}
