package linkpreview

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyOfEmpty(t *testing.T) {
	// BLAKE3 hash of empty string
	k := KeyOf("")
	expected := "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262"
	require.Equal(t, expected, k.String())
}

func TestKeyOfDeterministic(t *testing.T) {
	require.Equal(t, KeyOf("https://github.com"), KeyOf("https://github.com"))
}

func TestKeyOfDistinctURLs(t *testing.T) {
	urls := []string{
		"https://github.com",
		"https://github.com/",
		"http://github.com",
		"https://GitHub.com",
		"https://github.com?a=1",
		"https://github.com#frag",
	}
	seen := make(map[Key]string)
	for _, u := range urls {
		k := KeyOf(u)
		prev, dup := seen[k]
		require.False(t, dup, "%q collides with %q", u, prev)
		seen[k] = u
	}
}

func TestKeyShortStringAndDir(t *testing.T) {
	k := KeyOf("https://hoge.org")
	require.Len(t, k.ShortString(), 16)
	require.True(t, strings.HasPrefix(k.String(), k.ShortString()))
	require.Len(t, k.Dir(), 2)
	require.True(t, strings.HasPrefix(k.String(), k.Dir()))
}

func TestKeyIsZero(t *testing.T) {
	var zero Key
	require.True(t, zero.IsZero())
	require.False(t, KeyOf("x").IsZero())
}

func TestParseKey(t *testing.T) {
	original := KeyOf("parse test")

	parsed, err := ParseKey(original.String())
	require.NoError(t, err)
	require.Equal(t, original, parsed)

	_, err = ParseKey("abc")
	require.Error(t, err)

	_, err = ParseKey(strings.Repeat("zz", KeySize))
	require.Error(t, err)
}

func TestStorageKeyRoundTrip(t *testing.T) {
	k := KeyOf("https://hoge.org/foo/bar")
	sk := StorageKey(k)

	require.True(t, strings.HasPrefix(sk, StoragePrefix()+"/"+k.Dir()+"/"))
	require.True(t, strings.HasSuffix(sk, ".json"))

	parsed, err := ParseStorageKey(sk)
	require.NoError(t, err)
	require.Equal(t, k, parsed)
}

func TestParseStorageKeyInvalid(t *testing.T) {
	k := KeyOf("x").String()
	for _, key := range []string{
		"",
		"previews/" + k + ".json",
		"blobs/" + k[:2] + "/" + k + ".json",
		"previews/zz/" + k + ".json",
		"previews/" + k[:2] + "/" + k,
	} {
		_, err := ParseStorageKey(key)
		require.Error(t, err, key)
	}
}
