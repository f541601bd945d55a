package servermethod

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/encoding"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/protocol"
)

// fakeServer answers getUserData with stored data and everything else with a fixed byte
func fakeServer(t *testing.T, data map[crypto.UID][]byte, fixed byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))

		switch r.URL.Path {
		case GetUserDataPath:
			req, err := ParseGetUserData(body)
			if err != nil {
				w.Write([]byte{StatusGeneralError})
				return
			}
			d, ok := data[req.Label]
			if !ok {
				w.Write([]byte{StatusDeletedFromServer})
				return
			}
			w.Write(EncodeResponse(StatusOK, encoding.EncodeBytes(d)))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.Write([]byte{fixed})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return logger
}

func TestClientGetUserData(t *testing.T) {
	identity := testIdentity(t, 1)
	label := crypto.UID{1}
	srv := fakeServer(t, map[crypto.UID][]byte{label: []byte("encrypted photo")}, StatusOK)
	client := NewClient(srv.URL+"/", nil, quietLogger())
	ctx := context.Background()

	status, data, err := client.GetUserData(ctx, identity, label)
	require.NoError(t, err)
	assert.Equal(t, GetUserDataOK, status)
	assert.Equal(t, []byte("encrypted photo"), data)

	status, data, err = client.GetUserData(ctx, identity, crypto.UID{2})
	require.NoError(t, err)
	assert.Equal(t, GetUserDataDeletedFromServer, status)
	assert.Nil(t, data)
}

func TestClientStatusOnlyMethods(t *testing.T) {
	identity := testIdentity(t, 1)
	client := NewClient(fakeServer(t, nil, StatusInvalidSession).URL, []byte("token"), quietLogger())
	ctx := context.Background()

	refresh, err := client.RefreshUserData(ctx, identity, crypto.UID{1})
	require.NoError(t, err)
	assert.Equal(t, RefreshUserDataInvalidSession, refresh)

	put, err := client.PutUserData(ctx, identity, crypto.UID{1}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, PutUserDataInvalidSession, put)
}

func TestClientUnknownStatus(t *testing.T) {
	client := NewClient(fakeServer(t, nil, 0xAB).URL, nil, quietLogger())

	_, err := client.RefreshUserData(context.Background(), testIdentity(t, 1), crypto.UID{1})
	require.Error(t, err)
	assert.True(t, obverr.Is(err, obverr.KindMalformed))
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

type brokenMethod struct{}

func (brokenMethod) Path() string       { return "/broken" }
func (brokenMethod) DataToSend() []byte { return nil }

func TestClientHTTPError(t *testing.T) {
	client := NewClient(fakeServer(t, nil, StatusOK).URL, nil, quietLogger())

	_, err := client.Do(context.Background(), brokenMethod{})
	assert.True(t, obverr.Is(err, obverr.KindIO))
}

func TestClientExecutesServerQueries(t *testing.T) {
	identity := testIdentity(t, 1)
	label := crypto.UID{3}
	srv := fakeServer(t, map[crypto.UID][]byte{label: {1, 2, 3}}, StatusGeneralError)

	var executor protocol.ServerQueryExecutor = NewClient(srv.URL, []byte("token"), quietLogger())
	ctx := context.Background()

	status, data, err := executor.ExecuteQuery(ctx, &protocol.ServerQuery{Kind: protocol.GetUserDataQuery, Identity: identity, Label: label})
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.Equal(t, []byte{1, 2, 3}, data)

	status, _, err = executor.ExecuteQuery(ctx, &protocol.ServerQuery{Kind: protocol.PutUserDataQuery, Identity: identity, Label: label, Data: []byte{4}})
	require.NoError(t, err)
	assert.Equal(t, StatusGeneralError, status)
}
