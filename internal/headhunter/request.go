package headhunter

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"
)

const (
	contentType     = "application/json"
	contentEncoding = "gzip"
)

// NotFoundError is returned when the API does not know the vacancy. It
// usually means the vacancy was removed.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("vacancy %s not found", e.ID)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// StatusError is an unexpected answer of the API.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status: %s", e.Status)
}

// get makes a GET request and returns the decompressed body of a 200 answer.
func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, error) {
	req := c.http.R().SetContext(ctx)
	if q != nil {
		req.SetQueryParamsFromValues(q)
	}

	c.logger.Debug("make request", zap.String("path", path), zap.String("query", q.Encode()))
	resp, err := req.Get(path)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}

	data, err := decodeBody(resp.Header().Get("Content-Encoding"), resp.Body())
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if resp.StatusCode() != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode(), Status: resp.Status(), Body: string(data)}
	}

	return data, nil
}

var gzipMagic = []byte{0x1f, 0x8b}

// decodeBody gunzips the body when the server compressed it and the
// transport left it as is.
func decodeBody(encoding string, body []byte) ([]byte, error) {
	if encoding != "gzip" || !bytes.HasPrefix(body, gzipMagic) {
		return body, nil
	}

	reader, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	return io.ReadAll(reader)
}
