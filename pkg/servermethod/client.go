package servermethod

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/obvengine/pkg/crypto"
	"github.com/ZentaChain/obvengine/pkg/obverr"
	"github.com/ZentaChain/obvengine/pkg/protocol"
)

// DefaultMaxResponseSize bounds the bytes read from one response
const DefaultMaxResponseSize = 16 << 20

// Client posts server methods over HTTP
type Client struct {
	BaseURL string
	// Token is the session token of the owned identity using this client
	Token           []byte
	HTTP            *http.Client
	Logger          *logrus.Logger
	MaxResponseSize int64
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, token []byte, logger *logrus.Logger) *Client {
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		BaseURL:         strings.TrimRight(baseURL, "/"),
		Token:           token,
		HTTP:            &http.Client{Timeout: 30 * time.Second},
		Logger:          logger,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// Do posts m and returns the raw response body
func (c *Client) Do(ctx context.Context, m Method) ([]byte, error) {
	url := c.BaseURL + m.Path()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(m.DataToSend()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, obverr.IO("post"+m.Path(), url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, obverr.IO("post"+m.Path(), url, fmt.Errorf("unexpected HTTP status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.MaxResponseSize))
	if err != nil {
		return nil, obverr.IO("post"+m.Path(), url, err)
	}

	c.Logger.WithFields(logrus.Fields{
		"path":  m.Path(),
		"bytes": len(body),
	}).Debug("Server method answered")
	return body, nil
}

// RefreshUserData runs /refreshUserData
func (c *Client) RefreshUserData(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID) (RefreshUserDataStatus, error) {
	raw, err := c.Do(ctx, &RefreshUserData{Identity: identity, Token: c.Token, Label: label})
	if err != nil {
		return 0, err
	}
	status, ok := ParseRefreshUserDataResponse(raw)
	if !ok {
		return 0, unknownStatus(RefreshUserDataPath, raw)
	}
	return status, nil
}

// PutUserData runs /putUserData
func (c *Client) PutUserData(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID, data []byte) (PutUserDataStatus, error) {
	raw, err := c.Do(ctx, &PutUserData{Identity: identity, Token: c.Token, Label: label, Data: data})
	if err != nil {
		return 0, err
	}
	status, ok := ParsePutUserDataResponse(raw)
	if !ok {
		return 0, unknownStatus(PutUserDataPath, raw)
	}
	return status, nil
}

// GetUserData runs /getUserData
func (c *Client) GetUserData(ctx context.Context, identity crypto.CryptoIdentity, label crypto.UID) (GetUserDataStatus, []byte, error) {
	raw, err := c.Do(ctx, &GetUserData{Identity: identity, Label: label})
	if err != nil {
		return 0, nil, err
	}
	status, data, ok := ParseGetUserDataResponse(raw)
	if !ok {
		return 0, nil, unknownStatus(GetUserDataPath, raw)
	}
	return status, data, nil
}

// ExecuteQuery runs a query posted on the server query channel
func (c *Client) ExecuteQuery(ctx context.Context, query *protocol.ServerQuery) (byte, []byte, error) {
	switch query.Kind {
	case protocol.GetUserDataQuery:
		status, data, err := c.GetUserData(ctx, query.Identity, query.Label)
		return byte(status), data, err
	case protocol.PutUserDataQuery:
		status, err := c.PutUserData(ctx, query.Identity, query.Label, query.Data)
		return byte(status), nil, err
	}
	return 0, nil, fmt.Errorf("unsupported server query %s", query.Kind)
}

func unknownStatus(path string, raw []byte) error {
	if len(raw) == 0 {
		return obverr.Malformed("parse"+path, ErrEmptyResponse)
	}
	return obverr.Malformedf("parse"+path, "%w: 0x%02x", ErrUnknownStatus, raw[0])
}
