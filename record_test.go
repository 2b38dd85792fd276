package linkpreview

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordIsEmpty(t *testing.T) {
	require.True(t, Record{}.IsEmpty())
	require.False(t, Record{Title: String("")}.IsEmpty())
}

func TestRecordEqual(t *testing.T) {
	a := Record{Title: String("hoge"), URL: String("https://hoge.org")}
	b := Record{Title: String("hoge"), URL: String("https://hoge.org")}
	require.True(t, a.Equal(b))

	b.Domain = String("hoge.org")
	require.False(t, a.Equal(b))

	// an empty string is not the same as an absent field
	require.False(t, Record{}.Equal(Record{Image: String("")}))
}

func TestRecordJSONKeepsAbsence(t *testing.T) {
	in := Record{Title: String("hoge"), Description: String("")}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"hoge","url":null,"domain":null,"image":null,"description":""}`, string(data))

	var out Record
	require.NoError(t, json.Unmarshal(data, &out))
	require.True(t, in.Equal(out))
	require.Nil(t, out.URL)
	require.NotNil(t, out.Description)
}

func TestValue(t *testing.T) {
	require.Equal(t, "", Value(nil))
	require.Equal(t, "x", Value(String("x")))
}
