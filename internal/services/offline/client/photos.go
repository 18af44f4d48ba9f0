package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/repairhub/intake/internal/services/offline/domain"
)

// UploadedPhoto is the server's identity for an attached photo.
type UploadedPhoto struct {
	PhotoID string `json:"photoId"`
	URL     string `json:"url"`
}

// UploadPhoto attaches one photo to an existing server ticket. Uploads are
// one request per photo so a partial failure can resume at the first photo
// the server has not yet confirmed.
func (c *Client) UploadPhoto(ctx context.Context, serverTicketID string, photo domain.Photo) (UploadedPhoto, error) {
	if serverTicketID == "" {
		return UploadedPhoto{}, fmt.Errorf("server ticket id is required")
	}
	if len(photo.Bytes) == 0 {
		return UploadedPhoto{}, fmt.Errorf("photo %q has no content", photo.Name)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", photo.Name)
	if err != nil {
		return UploadedPhoto{}, fmt.Errorf("build photo form: %w", err)
	}
	if _, err := part.Write(photo.Bytes); err != nil {
		return UploadedPhoto{}, fmt.Errorf("write photo content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return UploadedPhoto{}, fmt.Errorf("finish photo form: %w", err)
	}

	path := "/api/tickets/" + url.PathEscape(serverTicketID) + "/photos"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), &body)
	if err != nil {
		return UploadedPhoto{}, fmt.Errorf("build photo request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.authorize(req)

	res, err := c.httpc.Do(req)
	if err != nil {
		return UploadedPhoto{}, networkError("upload photo", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return UploadedPhoto{}, classify(res.StatusCode, readErrorMessage(res.Body))
	}

	var uploaded UploadedPhoto
	if err := json.NewDecoder(res.Body).Decode(&uploaded); err != nil {
		return UploadedPhoto{}, fmt.Errorf("decode photo response: %w", err)
	}
	if uploaded.PhotoID == "" {
		return UploadedPhoto{}, fmt.Errorf("photo response missing photo id")
	}
	return uploaded, nil
}
