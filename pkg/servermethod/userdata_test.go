package servermethod

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
)

func testIdentity(t *testing.T, seed byte) crypto.CryptoIdentity {
	t.Helper()
	prng, err := crypto.NewSeededPRNG(bytes.Repeat([]byte{seed}, crypto.SeedLength))
	require.NoError(t, err)
	owned, err := crypto.GenerateOwnedIdentity("https://server.olvid.io", prng)
	require.NoError(t, err)
	return owned.Identity()
}

func TestParseRefreshUserDataResponse(t *testing.T) {
	tests := []struct {
		name   string
		raw    []byte
		want   RefreshUserDataStatus
		wantOK bool
	}{
		{"ok", []byte{0x00}, RefreshUserDataOK, true},
		{"invalid session", []byte{0x04}, RefreshUserDataInvalidSession, true},
		{"deleted", []byte{0x09}, RefreshUserDataDeletedFromServer, true},
		{"general error", []byte{0xff}, RefreshUserDataGeneralError, true},
		{"unmapped byte", []byte{0xAB}, 0, false},
		{"empty", nil, 0, false},
		{"unreadable payload", []byte{0x00, 0x01}, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseRefreshUserDataResponse(tt.raw)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseGetUserDataResponse(t *testing.T) {
	status, data, ok := ParseGetUserDataResponse(EncodeResponse(StatusOK, encoding.EncodeBytes([]byte("photo"))))
	require.True(t, ok)
	assert.Equal(t, GetUserDataOK, status)
	assert.Equal(t, []byte("photo"), data)

	status, data, ok = ParseGetUserDataResponse([]byte{StatusDeletedFromServer})
	require.True(t, ok)
	assert.Equal(t, GetUserDataDeletedFromServer, status)
	assert.Nil(t, data)

	// ok without data, wrong payload type, and a status getUserData never answers
	for _, raw := range [][]byte{
		{StatusOK},
		EncodeResponse(StatusOK, encoding.EncodeInt(1)),
		{StatusInvalidSession},
	} {
		_, _, ok := ParseGetUserDataResponse(raw)
		assert.False(t, ok, "%x", raw)
	}
}

func TestParsePutUserDataResponse(t *testing.T) {
	status, ok := ParsePutUserDataResponse([]byte{StatusInvalidSession})
	require.True(t, ok)
	assert.Equal(t, PutUserDataInvalidSession, status)

	_, ok = ParsePutUserDataResponse([]byte{StatusDeletedFromServer})
	assert.False(t, ok)
}

func TestRequestsRoundTrip(t *testing.T) {
	identity := testIdentity(t, 1)
	label := crypto.UID{1, 2, 3}
	token := []byte("session-token")

	refresh, err := ParseRefreshUserData((&RefreshUserData{Identity: identity, Token: token, Label: label}).DataToSend())
	require.NoError(t, err)
	assert.True(t, refresh.Identity.Equal(identity))
	assert.Equal(t, token, refresh.Token)
	assert.Equal(t, label, refresh.Label)

	put, err := ParsePutUserData((&PutUserData{Identity: identity, Token: token, Label: label, Data: []byte{9, 9}}).DataToSend())
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9}, put.Data)
	assert.Equal(t, label, put.Label)

	get, err := ParseGetUserData((&GetUserData{Identity: identity, Label: label}).DataToSend())
	require.NoError(t, err)
	assert.True(t, get.Identity.Equal(identity))
	assert.Equal(t, label, get.Label)

	// A refresh body is not a get body
	_, err = ParseGetUserData(refresh.DataToSend())
	assert.Error(t, err)
}

func TestMethodPaths(t *testing.T) {
	assert.Equal(t, "/refreshUserData", (&RefreshUserData{}).Path())
	assert.Equal(t, "/putUserData", (&PutUserData{}).Path())
	assert.Equal(t, "/getUserData", (&GetUserData{}).Path())
}

func TestParseResponse(t *testing.T) {
	status, payload, err := ParseResponse(EncodeResponse(0x07, encoding.EncodeString("a"), encoding.EncodeInt(2)))
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), status)
	require.Len(t, payload, 2)

	status, payload, err = ParseResponse([]byte{0x00})
	require.NoError(t, err)
	assert.Zero(t, status)
	assert.Nil(t, payload)

	_, _, err = ParseResponse(nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}
