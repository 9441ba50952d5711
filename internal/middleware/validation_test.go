package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "fxbuckets/internal/errors"
)

type pairInput struct {
	A     string   `json:"a" validate:"required,label"`
	B     string   `json:"b" validate:"required,label,nefield=A"`
	Value *float64 `json:"value" validate:"required"`
}

type pairsRequest struct {
	Pairs   []pairInput `json:"pairs" validate:"required,min=1,dive"`
	Buckets int         `json:"buckets" validate:"gte=0,lte=50"`
}

func decode(t *testing.T, body string, limit int64) (*pairsRequest, error) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if limit > 0 {
		req.Body = http.MaxBytesReader(httptest.NewRecorder(), req.Body, limit)
	}
	var dst pairsRequest
	err := NewValidator(quietLogger()).DecodeJSON(req, &dst)
	return &dst, err
}

func TestDecodeJSONAcceptsValidRequest(t *testing.T) {
	got, err := decode(t, `{"pairs":[{"a":"EURUSD","b":"XAU/USD","value":-12.5}],"buckets":3}`, 0)
	require.NoError(t, err)
	require.Len(t, got.Pairs, 1)
	assert.Equal(t, "XAU/USD", got.Pairs[0].B)
	assert.Equal(t, -12.5, *got.Pairs[0].Value)
}

func TestDecodeJSONRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		limit  int64
		status int
		code   string
		field  string
	}{
		{"empty body", ``, 0, http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"malformed", `{"pairs": [`, 0, http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"unknown field", `{"pairs":[{"a":"X","b":"Y","value":1}],"extra":true}`, 0, http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"too large", `{"pairs":[{"a":"X","b":"Y","value":1}]}`, 8, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", ""},
		{"no pairs", `{"pairs":[]}`, 0, http.StatusBadRequest, "VALIDATION_FAILED", "pairs"},
		{"missing value", `{"pairs":[{"a":"X","b":"Y"}]}`, 0, http.StatusBadRequest, "VALIDATION_FAILED", "pairs[0].value"},
		{"blank label", `{"pairs":[{"a":"X","b":"Y","value":1},{"a":"  ","b":"Y","value":1}]}`, 0, http.StatusBadRequest, "VALIDATION_FAILED", "pairs[1].a"},
		{"self pair", `{"pairs":[{"a":"X","b":"X","value":1}]}`, 0, http.StatusBadRequest, "VALIDATION_FAILED", "pairs[0].b"},
		{"buckets out of range", `{"pairs":[{"a":"X","b":"Y","value":1}],"buckets":99}`, 0, http.StatusBadRequest, "VALIDATION_FAILED", "buckets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decode(t, tt.body, tt.limit)
			require.Error(t, err)

			var apiErr *apierrors.APIError
			require.True(t, errors.As(err, &apiErr), "got %T", err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.ErrorCode)

			if tt.field != "" {
				details, ok := apiErr.Details.(apierrors.ValidationErrors)
				require.True(t, ok)
				var fields []string
				for _, fe := range details.Errors {
					fields = append(fields, fe.Field)
				}
				assert.Contains(t, fields, tt.field)
			}
		})
	}
}

func TestContentTypeValidator(t *testing.T) {
	h := ContentTypeValidator("application/json")(okHandler)

	tests := []struct {
		name        string
		method      string
		contentType string
		status      int
	}{
		{"json", http.MethodPost, "application/json", http.StatusOK},
		{"json with charset", http.MethodPost, "application/json; charset=utf-8", http.StatusOK},
		{"plain text", http.MethodPost, "text/plain", http.StatusUnsupportedMediaType},
		{"missing", http.MethodPost, "", http.StatusUnsupportedMediaType},
		{"get without body", http.MethodGet, "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)

			if tt.status == http.StatusUnsupportedMediaType {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, "UNSUPPORTED_MEDIA_TYPE", body["error_code"])
			}
		})
	}
}
