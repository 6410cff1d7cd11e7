package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/medreportflow/internal/config"
	"github.com/Lllllllleong/medreportflow/internal/models"
)

type putCall struct {
	bucket, name string
	data         []byte
	opts         models.PutOptions
}

type fakeBlobs struct {
	mu    sync.Mutex
	puts  []putCall
	putFn func() error
}

func (f *fakeBlobs) Put(_ context.Context, bucket, name string, data []byte, opts models.PutOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putFn != nil {
		if err := f.putFn(); err != nil {
			return err
		}
	}
	f.puts = append(f.puts, putCall{bucket: bucket, name: name, data: data, opts: opts})
	return nil
}

func (f *fakeBlobs) Get(context.Context, string, string) (*models.Blob, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBlobs) List(context.Context, string, string) ([]string, error) {
	return nil, nil
}

type fakeIndex struct {
	records  []models.IndexRecord
	err      error
	gotUser  string
	gotLimit int
}

func (f *fakeIndex) Upsert(context.Context, []models.IndexRecord) ([]models.UpsertResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeIndex) ListByUser(_ context.Context, userID string, limit int) ([]models.IndexRecord, error) {
	f.gotUser, f.gotLimit = userID, limit
	return f.records, f.err
}

func testConfig() config.Config {
	return config.Config{
		IntakeBucket:    "raw-docs",
		PrincipalHeader: "X-MS-CLIENT-PRINCIPAL",
		MaxUploadBytes:  1 << 20,
		HistoryLimit:    50,
	}
}

func newTestHandler(cfg config.Config, blobs *fakeBlobs, index *fakeIndex) *Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if index == nil {
		return New(cfg, logger, blobs, nil)
	}
	return New(cfg, logger, blobs, index)
}

func principal(t *testing.T, fields map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(fields)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

func uploadRequest(t *testing.T, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestUpload_Success(t *testing.T) {
	blobs := &fakeBlobs{}
	h := newTestHandler(testConfig(), blobs, nil)

	req := uploadRequest(t, "atestado.pdf", "application/pdf", []byte("%PDF-1.4 test"))
	req.Header.Set("X-MS-CLIENT-PRINCIPAL", principal(t, map[string]any{"userId": "abc", "userDetails": "ana@example.com"}))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["message"], "atestado.pdf")

	require.Len(t, blobs.puts, 1)
	put := blobs.puts[0]
	assert.Equal(t, "raw-docs", put.bucket)
	assert.Equal(t, body["blob_name"], put.name)
	assert.True(t, strings.HasSuffix(put.name, ".pdf"))
	assert.Equal(t, []byte("%PDF-1.4 test"), put.data)
	assert.Equal(t, "application/pdf", put.opts.ContentType)
	assert.False(t, put.opts.Overwrite)
	assert.Equal(t, map[string]string{"user_id": "ana@example.com", "original_filename": "atestado.pdf"}, put.opts.Metadata)
}

func TestUpload_PrincipalFallsBackToUserID(t *testing.T) {
	blobs := &fakeBlobs{}
	h := newTestHandler(testConfig(), blobs, nil)

	req := uploadRequest(t, "a.pdf", "application/pdf", []byte("%PDF"))
	req.Header.Set("X-MS-CLIENT-PRINCIPAL", principal(t, map[string]any{"userId": "abc"}))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, blobs.puts, 1)
	assert.Equal(t, "abc", blobs.puts[0].opts.Metadata["user_id"])
}

func TestUpload_Rejections(t *testing.T) {
	valid := func(t *testing.T) string { return principal(t, map[string]any{"userDetails": "ana@example.com"}) }

	tests := []struct {
		name       string
		request    func(t *testing.T) *http.Request
		wantStatus int
	}{
		{
			name: "missing principal",
			request: func(t *testing.T) *http.Request {
				return uploadRequest(t, "a.pdf", "application/pdf", []byte("%PDF"))
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "malformed principal",
			request: func(t *testing.T) *http.Request {
				req := uploadRequest(t, "a.pdf", "application/pdf", []byte("%PDF"))
				req.Header.Set("X-MS-CLIENT-PRINCIPAL", "!!not-base64!!")
				return req
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "principal without identity",
			request: func(t *testing.T) *http.Request {
				req := uploadRequest(t, "a.pdf", "application/pdf", []byte("%PDF"))
				req.Header.Set("X-MS-CLIENT-PRINCIPAL", principal(t, map[string]any{"identityProvider": "aad"}))
				return req
			},
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "not a pdf",
			request: func(t *testing.T) *http.Request {
				req := uploadRequest(t, "photo.png", "image/png", []byte("png"))
				req.Header.Set("X-MS-CLIENT-PRINCIPAL", valid(t))
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "not multipart",
			request: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/upload", strings.NewReader(`{"file": "x"}`))
				req.Header.Set("Content-Type", "application/json")
				req.Header.Set("X-MS-CLIENT-PRINCIPAL", valid(t))
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing file part",
			request: func(t *testing.T) *http.Request {
				var body bytes.Buffer
				mw := multipart.NewWriter(&body)
				require.NoError(t, mw.WriteField("other", "x"))
				require.NoError(t, mw.Close())
				req := httptest.NewRequest(http.MethodPost, "/api/upload", &body)
				req.Header.Set("Content-Type", mw.FormDataContentType())
				req.Header.Set("X-MS-CLIENT-PRINCIPAL", valid(t))
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "body too large",
			request: func(t *testing.T) *http.Request {
				req := uploadRequest(t, "big.pdf", "application/pdf", bytes.Repeat([]byte("a"), 2<<20))
				req.Header.Set("X-MS-CLIENT-PRINCIPAL", valid(t))
				return req
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := &fakeBlobs{}
			h := newTestHandler(testConfig(), blobs, nil)
			rec := httptest.NewRecorder()
			h.Upload(rec, tt.request(t))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
			assert.Empty(t, blobs.puts, "no object may be written on rejection")
		})
	}
}

func TestUpload_StorageFailure(t *testing.T) {
	blobs := &fakeBlobs{putFn: func() error { return errors.New("bucket unavailable") }}
	h := newTestHandler(testConfig(), blobs, nil)

	req := uploadRequest(t, "a.pdf", "application/pdf", []byte("%PDF"))
	req.Header.Set("X-MS-CLIENT-PRINCIPAL", principal(t, map[string]any{"userDetails": "ana@example.com"}))
	rec := httptest.NewRecorder()
	h.Upload(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["error"])
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestUpload_BearerToken(t *testing.T) {
	cfg := testConfig()
	cfg.JwtSecret, cfg.JwtIssuer, cfg.JwtAudience = "s3cret", "medreport-portal", "medreport-api"
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name       string
		claims     jwt.MapClaims
		secret     string
		wantStatus int
		wantUser   string
	}{
		{
			name:       "preferred username",
			claims:     jwt.MapClaims{"iss": "medreport-portal", "aud": "medreport-api", "exp": exp, "sub": "u1", "email": "e@x.com", "preferred_username": "ana"},
			secret:     "s3cret",
			wantStatus: http.StatusOK,
			wantUser:   "ana",
		},
		{
			name:       "subject only",
			claims:     jwt.MapClaims{"iss": "medreport-portal", "aud": "medreport-api", "exp": exp, "sub": "u1"},
			secret:     "s3cret",
			wantStatus: http.StatusOK,
			wantUser:   "u1",
		},
		{
			name:       "wrong audience",
			claims:     jwt.MapClaims{"iss": "medreport-portal", "aud": "other", "exp": exp, "sub": "u1"},
			secret:     "s3cret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong secret",
			claims:     jwt.MapClaims{"iss": "medreport-portal", "aud": "medreport-api", "exp": exp, "sub": "u1"},
			secret:     "other",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blobs := &fakeBlobs{}
			h := newTestHandler(cfg, blobs, nil)
			req := uploadRequest(t, "a.pdf", "application/pdf", []byte("%PDF"))
			req.Header.Set("Authorization", "Bearer "+signToken(t, tt.secret, tt.claims))
			rec := httptest.NewRecorder()
			h.Upload(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantUser != "" {
				require.Len(t, blobs.puts, 1)
				assert.Equal(t, tt.wantUser, blobs.puts[0].opts.Metadata["user_id"])
			} else {
				assert.Empty(t, blobs.puts)
			}
		})
	}
}

func TestHistory(t *testing.T) {
	index := &fakeIndex{records: []models.IndexRecord{
		{"id": "h2", "upload_timestamp": "2024-03-11T00:00:00Z"},
		{"id": "h1", "upload_timestamp": "2024-03-10T00:00:00Z"},
	}}
	h := newTestHandler(testConfig(), &fakeBlobs{}, index)

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.Header.Set("X-MS-CLIENT-PRINCIPAL", principal(t, map[string]any{"userDetails": "ana@example.com"}))
	rec := httptest.NewRecorder()
	h.History(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ana@example.com", index.gotUser)
	assert.Equal(t, 50, index.gotLimit)

	var resp models.HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, "h2", resp.Documents[0]["id"])
}

func TestHistory_Errors(t *testing.T) {
	auth := principal(t, map[string]any{"userDetails": "ana@example.com"})

	t.Run("unauthenticated", func(t *testing.T) {
		h := newTestHandler(testConfig(), &fakeBlobs{}, &fakeIndex{})
		rec := httptest.NewRecorder()
		h.History(rec, httptest.NewRequest(http.MethodGet, "/api/history", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("index failure", func(t *testing.T) {
		h := newTestHandler(testConfig(), &fakeBlobs{}, &fakeIndex{err: errors.New("deadline exceeded")})
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set("X-MS-CLIENT-PRINCIPAL", auth)
		rec := httptest.NewRecorder()
		h.History(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("no index configured", func(t *testing.T) {
		h := newTestHandler(testConfig(), &fakeBlobs{}, nil)
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set("X-MS-CLIENT-PRINCIPAL", auth)
		rec := httptest.NewRecorder()
		h.History(rec, req)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("empty history", func(t *testing.T) {
		h := newTestHandler(testConfig(), &fakeBlobs{}, &fakeIndex{})
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.Header.Set("X-MS-CLIENT-PRINCIPAL", auth)
		rec := httptest.NewRecorder()
		h.History(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"documents": []}`, rec.Body.String())
	})
}

func TestRouter(t *testing.T) {
	srv := httptest.NewServer(NewRouter(newTestHandler(testConfig(), &fakeBlobs{}, &fakeIndex{})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/upload")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
