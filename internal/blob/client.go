package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baatchit/internal/logger"
)

// Client: Store поверх HTTP API сервиса files.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) Upload(ctx context.Context, folder, fileName string, r io.Reader) (Object, error) {
	defer logger.DeferLogDuration("blob.Client.Upload", time.Now())()
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", fileName)
		if err == nil {
			_, err = io.Copy(part, r)
		}
		if err == nil {
			err = mw.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/upload?folder="+url.QueryEscape(folder), pr)
	if err != nil {
		pr.Close()
		return Object{}, fmt.Errorf("blob client request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return Object{}, fmt.Errorf("blob client upload: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("not allowed")) {
			return Object{}, ErrBlockedExt
		}
		return Object{}, fmt.Errorf("blob client upload: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	var obj Object
	if err := json.NewDecoder(resp.Body).Decode(&obj); err != nil {
		return Object{}, fmt.Errorf("blob client decode: %w", err)
	}
	return obj, nil
}

func (c *Client) Delete(ctx context.Context, publicID string) error {
	defer logger.DeferLogDuration("blob.Client.Delete", time.Now())()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/files/"+publicID, nil)
	if err != nil {
		return fmt.Errorf("blob client request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("blob client delete: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusNotFound:
		return ErrNotFound
	}
	return fmt.Errorf("blob client delete: status %d", resp.StatusCode)
}
