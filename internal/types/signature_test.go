package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskSignatureNormalizes(t *testing.T) {
	sig := TaskSignature("  Check   the PRICE ", "https://Shop.Example.com/p/beans/?utm_source=x#frag")
	assert.Equal(t, "check the price|https://shop.example.com/p/beans", sig)
}

func TestTaskSignatureIgnoresQueryChurn(t *testing.T) {
	a := TaskSignature("check price", "https://shop.example.com/p/beans?utm_source=mail")
	b := TaskSignature("check price", "https://shop.example.com/p/beans?session=9f2")
	assert.Equal(t, a, b)
}

func TestTaskSignatureKeepsUnparseableURL(t *testing.T) {
	// No scheme: the URL is used as-is rather than guessed at.
	sig := TaskSignature("check price", "shop.example.com/p/beans")
	assert.Equal(t, "check price|shop.example.com/p/beans", sig)
}

func TestCacheKeyIsStableHex(t *testing.T) {
	sig := TaskSignature("check price", "https://shop.example.com/p/beans")
	key := CacheKey(sig)
	assert.Len(t, key, 64)
	assert.Equal(t, key, CacheKey(sig))
	assert.NotEqual(t, key, CacheKey(sig+"x"))
}
