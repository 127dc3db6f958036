package imagehost

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cartoonize/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *CloudflareClient {
	return NewCloudflareClient("acct-1", "cf-token", url, 5*time.Second, zerolog.Nop())
}

func TestUploadImage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/accounts/acct-1/images/v1", r.URL.Path)
		assert.Equal(t, "Bearer cf-token", r.Header.Get("Authorization"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "jpeg-bytes", string(data))
		assert.Equal(t, "photo.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Write([]byte(`{"success":true,"result":{"id":"img-1","variants":["https://imagedelivery.net/abc/img-1/public","https://imagedelivery.net/abc/img-1/thumb"]}}`))
	}))
	defer server.Close()

	url, err := newTestClient(server.URL).UploadImage(context.Background(), []byte("jpeg-bytes"), "photo.jpg")
	require.NoError(t, err)
	assert.Equal(t, "https://imagedelivery.net/abc/img-1/public", url)
}

func TestUploadImageSurfacesBodyOnFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"success":false,"errors":[{"code":10000,"message":"Authentication error"}]}`))
	}))
	defer server.Close()

	url, err := newTestClient(server.URL).UploadImage(context.Background(), []byte("x"), "photo.jpg")
	require.ErrorIs(t, err, domain.ErrUpload)
	assert.Empty(t, url)
	assert.Contains(t, err.Error(), "Authentication error")

	var derr *domain.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, http.StatusForbidden, derr.Status)
}

func TestUploadImageWithoutVariants(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"result":{"id":"img-1","variants":[]}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).UploadImage(context.Background(), []byte("x"), "photo.jpg")
	require.ErrorIs(t, err, domain.ErrUpload)
}

func TestVerifyToken(t *testing.T) {
	status := http.StatusOK
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts/acct-1/tokens/verify", r.URL.Path)
		assert.Equal(t, "Bearer cf-token", r.Header.Get("Authorization"))
		w.WriteHeader(status)
		w.Write([]byte(`{"success":false}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	require.NoError(t, client.VerifyToken(context.Background()))

	status = http.StatusUnauthorized
	err := client.VerifyToken(context.Background())
	require.ErrorIs(t, err, domain.ErrUpload)
}

func TestNewCloudflareClientAcceptsAccountsURL(t *testing.T) {
	var paths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		w.Write([]byte(`{"success":true,"result":{"id":"img-1","variants":["https://imagedelivery.net/abc/img-1/public"]}}`))
	}))
	defer server.Close()

	for _, base := range []string{server.URL, server.URL + "/", server.URL + "/accounts", server.URL + "/accounts/"} {
		_, err := newTestClient(base).UploadImage(context.Background(), []byte("x"), "photo.jpg")
		require.NoError(t, err, base)
	}
	for _, p := range paths {
		assert.Equal(t, "/accounts/acct-1/images/v1", p)
	}
	assert.Len(t, paths, 4)
	assert.Equal(t, defaultAPIURL, newTestClient("").APIURL)
}
