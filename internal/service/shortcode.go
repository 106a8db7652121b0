package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const shortCodeSymbols = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var shortCodeSymbolsCount = big.NewInt(int64(len(shortCodeSymbols)))

// GenerateShortCode returns length symbols drawn uniformly from [a-zA-Z0-9]
// using crypto/rand.
func GenerateShortCode(length int) (string, error) {
	result := make([]byte, length)
	for i := range result {
		randomIndex, err := rand.Int(rand.Reader, shortCodeSymbolsCount)
		if err != nil {
			return "", fmt.Errorf("in internal/service/shortcode.go/GenerateShortCode(): error while `rand.Int()` calling: %w", err)
		}
		result[i] = shortCodeSymbols[randomIndex.Int64()]
	}

	return string(result), nil
}
