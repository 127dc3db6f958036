package imagehost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
)

const defaultAPIURL = "https://api.cloudflare.com/client/v4"

// CloudflareClient handles communication with the Cloudflare Images API.
type CloudflareClient struct {
	AccountID string
	APIToken  string
	APIURL    string
	Client    *http.Client
	Logger    zerolog.Logger
}

// NewCloudflareClient creates a new Cloudflare Images client. apiURL is the
// API root such as https://api.cloudflare.com/client/v4; a URL that already
// ends in /accounts is accepted too. An empty apiURL selects the public API.
func NewCloudflareClient(accountID, apiToken, apiURL string, timeout time.Duration, logger zerolog.Logger) *CloudflareClient {
	apiURL = strings.TrimSuffix(strings.TrimRight(apiURL, "/"), "/accounts")
	if apiURL == "" {
		apiURL = defaultAPIURL
	}
	return &CloudflareClient{
		AccountID: accountID,
		APIToken:  apiToken,
		APIURL:    apiURL,
		Client:    &http.Client{Timeout: timeout},
		Logger:    logger,
	}
}

// UploadResponse matches the structure of the successful upload response.
type UploadResponse struct {
	Success bool `json:"success"`
	Result  struct {
		ID       string   `json:"id"`
		Filename string   `json:"filename"`
		Variants []string `json:"variants"`
	} `json:"result"`
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// VerifyToken checks the API token against the account's token-verification
// endpoint.
func (c *CloudflareClient) VerifyToken(ctx context.Context) error {
	verifyURL := fmt.Sprintf("%s/accounts/%s/tokens/verify", c.APIURL, c.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, verifyURL, nil)
	if err != nil {
		return fmt.Errorf("cloudflare: failed to create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.APIToken)

	resp, err := c.Client.Do(req)
	if err != nil {
		return domain.Wrap(domain.ErrUpload, "cloudflare verify", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.RemoteError(domain.ErrUpload, "cloudflare verify", resp.StatusCode, string(body))
	}
	c.Logger.Debug().Msg("cloudflare token verified")
	return nil
}

// UploadImage uploads JPEG bytes and returns the first public variant URL.
func (c *CloudflareClient) UploadImage(ctx context.Context, imageBytes []byte, filename string) (string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(header)
	if err != nil {
		return "", fmt.Errorf("cloudflare: failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageBytes)); err != nil {
		return "", fmt.Errorf("cloudflare: failed to copy image bytes to form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("cloudflare: failed to close form: %w", err)
	}

	uploadURL := fmt.Sprintf("%s/accounts/%s/images/v1", c.APIURL, c.AccountID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, body)
	if err != nil {
		return "", fmt.Errorf("cloudflare: failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.APIToken)

	start := time.Now()
	resp, err := c.Client.Do(req)
	if err != nil {
		return "", domain.Wrap(domain.ErrUpload, "cloudflare upload", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.Wrap(domain.ErrUpload, "cloudflare upload", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.RemoteError(domain.ErrUpload, "cloudflare upload", resp.StatusCode, string(respBody))
	}

	var uploadResp UploadResponse
	if err := json.Unmarshal(respBody, &uploadResp); err != nil {
		return "", domain.RemoteError(domain.ErrUpload, "cloudflare upload: malformed response", resp.StatusCode, string(respBody))
	}
	if len(uploadResp.Result.Variants) == 0 || uploadResp.Result.Variants[0] == "" {
		return "", domain.RemoteError(domain.ErrUpload, "cloudflare upload: no variants returned", resp.StatusCode, string(respBody))
	}

	c.Logger.Info().
		Str("image_id", uploadResp.Result.ID).
		Int("bytes", len(imageBytes)).
		Dur("elapsed", time.Since(start)).
		Msg("uploaded image to cloudflare")
	return uploadResp.Result.Variants[0], nil
}
