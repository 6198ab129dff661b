//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"bookmarks/internal/admission/principal"
	id "bookmarks/pkg/domain"
)

const devSigningKey = "dev-secret-key-change-in-production"

// TestContext holds state between test steps
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	Subject      string
	SessionToken string
	PAT          string
	PATID        string

	signing principal.Config
}

// NewTestContext creates a new test context. The server under test must share
// JWT_SIGNING_KEY (and issuer/audience when set) with this process.
func NewTestContext() *TestContext {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	return &TestContext{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		signing: principal.Config{
			SigningKey: envOr("JWT_SIGNING_KEY", devSigningKey),
			Issuer:     envOr("JWT_ISSUER", "bookmarks"),
			Audience:   os.Getenv("JWT_AUDIENCE"),
		},
	}
}

// NewSession mints a session for a fresh subject so every scenario starts
// with untouched quota pools.
func (tc *TestContext) NewSession(email string) error {
	subject := "e2e|" + uuid.NewString()
	token, err := principal.IssueSession(tc.signing, id.SubjectID(subject), email, time.Now(), 15*time.Minute)
	if err != nil {
		return fmt.Errorf("failed to mint session: %w", err)
	}
	tc.Subject = subject
	tc.SessionToken = token
	tc.PAT = ""
	tc.PATID = ""
	return nil
}

// Do makes a request and stores the response
func (tc *TestContext) Do(method, path string, body any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, tc.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string, headers map[string]string) error {
	return tc.Do(http.MethodGet, path, nil, headers)
}

// POST makes a POST request and stores the response
func (tc *TestContext) POST(path string, body any, headers map[string]string) error {
	return tc.Do(http.MethodPost, path, body, headers)
}

// SessionHeaders returns the Authorization header for the current session.
func (tc *TestContext) SessionHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + tc.SessionToken}
}

// PATHeaders returns the Authorization header for the current access token.
func (tc *TestContext) PATHeaders() map[string]string {
	return map[string]string{"Authorization": "Bearer " + tc.PAT}
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}

// ResponseContains checks if the response body contains a field or text
func (tc *TestContext) ResponseContains(text string) bool {
	if strings.Contains(string(tc.LastResponseBody), text) {
		return true
	}

	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err == nil {
		if _, ok := data[text]; ok {
			return true
		}
	}
	return false
}

// Getter methods for step package interfaces

func (tc *TestContext) GetSubject() string {
	return tc.Subject
}

func (tc *TestContext) GetPAT() (string, string) {
	return tc.PAT, tc.PATID
}

func (tc *TestContext) SetPAT(token, tokenID string) {
	tc.PAT = token
	tc.PATID = tokenID
}

func (tc *TestContext) GetLastResponseStatus() int {
	if tc.LastResponse == nil {
		return 0
	}
	return tc.LastResponse.StatusCode
}

func (tc *TestContext) GetLastResponseHeader(name string) string {
	if tc.LastResponse == nil {
		return ""
	}
	return tc.LastResponse.Header.Get(name)
}

func (tc *TestContext) GetLastResponseBody() []byte {
	return tc.LastResponseBody
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
