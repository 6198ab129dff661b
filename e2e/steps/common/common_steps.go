package common

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	NewSession(email string) error
	Do(method, path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	POST(path string, body any, headers map[string]string) error
	SessionHeaders() map[string]string
	PATHeaders() map[string]string
	GetSubject() string
	GetPAT() (string, string)
	SetPAT(token, tokenID string)
	GetResponseField(field string) (any, error)
	ResponseContains(field string) bool
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
	GetLastResponseBody() []byte
}

// RegisterSteps registers common step definitions used across features
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	// Background steps
	ctx.Step(`^the bookmarks API is running$`, steps.apiIsRunning)

	// Credential steps
	ctx.Step(`^I have a session as a new user$`, steps.newSession)
	ctx.Step(`^I have a session as a new user with email "([^"]*)"$`, steps.newSessionWithEmail)
	ctx.Step(`^I create a personal access token named "([^"]*)"$`, steps.createToken)
	ctx.Step(`^I revoke my access token$`, steps.revokeToken)

	// Generic request steps
	ctx.Step(`^I GET "([^"]*)" without authorization$`, steps.getWithoutAuth)
	ctx.Step(`^I GET "([^"]*)" with token "([^"]*)"$`, steps.getWithToken)
	ctx.Step(`^I GET "([^"]*)" with my session$`, steps.getWithSession)
	ctx.Step(`^I GET "([^"]*)" with my access token$`, steps.getWithPAT)
	ctx.Step(`^I POST to "([^"]*)" with my session and body:$`, steps.postWithSession)

	// Response assertion steps
	ctx.Step(`^the response status should be (\d+)$`, steps.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, steps.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.responseFieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be my subject$`, steps.responseFieldShouldBeSubject)
	ctx.Step(`^the response header "([^"]*)" should equal "([^"]*)"$`, steps.headerShouldEqual)
	ctx.Step(`^the response header "([^"]*)" should be present$`, steps.headerShouldBePresent)
	ctx.Step(`^the response header "([^"]*)" should be absent$`, steps.headerShouldBeAbsent)

	ctx.Step(`^log "([^"]*)"$`, steps.logMessage)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) apiIsRunning(ctx context.Context) error {
	if err := s.tc.GET("/health/live", nil); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return fmt.Errorf("liveness probe returned %d", status)
	}
	return nil
}

func (s *commonSteps) newSession(ctx context.Context) error {
	return s.tc.NewSession("")
}

func (s *commonSteps) newSessionWithEmail(ctx context.Context, email string) error {
	return s.tc.NewSession(email)
}

func (s *commonSteps) createToken(ctx context.Context, name string) error {
	if err := s.tc.POST("/tokens", map[string]string{"name": name}, s.tc.SessionHeaders()); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusCreated {
		return fmt.Errorf("token creation returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	var resp struct {
		ID    string `json:"id"`
		Token string `json:"token"`
	}
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &resp); err != nil {
		return fmt.Errorf("failed to parse token response: %w", err)
	}
	s.tc.SetPAT(resp.Token, resp.ID)
	return nil
}

func (s *commonSteps) revokeToken(ctx context.Context) error {
	_, tokenID := s.tc.GetPAT()
	if tokenID == "" {
		return fmt.Errorf("no access token to revoke")
	}
	return s.tc.Do(http.MethodDelete, "/tokens/"+tokenID, nil, s.tc.SessionHeaders())
}

func (s *commonSteps) getWithoutAuth(ctx context.Context, path string) error {
	return s.tc.GET(path, nil)
}

func (s *commonSteps) getWithToken(ctx context.Context, path, token string) error {
	return s.tc.GET(path, map[string]string{"Authorization": "Bearer " + token})
}

func (s *commonSteps) getWithSession(ctx context.Context, path string) error {
	return s.tc.GET(path, s.tc.SessionHeaders())
}

func (s *commonSteps) getWithPAT(ctx context.Context, path string) error {
	return s.tc.GET(path, s.tc.PATHeaders())
}

func (s *commonSteps) postWithSession(ctx context.Context, path string, body *godog.DocString) error {
	var payload any
	if err := json.Unmarshal([]byte(body.Content), &payload); err != nil {
		return fmt.Errorf("invalid JSON body in step: %w", err)
	}
	return s.tc.POST(path, payload, s.tc.SessionHeaders())
}

func (s *commonSteps) responseStatusShouldBe(ctx context.Context, expectedStatus int) error {
	actualStatus := s.tc.GetLastResponseStatus()
	if actualStatus != expectedStatus {
		return fmt.Errorf("expected status %d but got %d\nResponse: %s", expectedStatus, actualStatus, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *commonSteps) responseShouldContain(ctx context.Context, field string) error {
	if !s.tc.ResponseContains(field) {
		return fmt.Errorf("response does not contain field: %s\nResponse: %s", field, string(s.tc.GetLastResponseBody()))
	}
	return nil
}

func (s *commonSteps) responseFieldShouldEqual(ctx context.Context, field, expectedValue string) error {
	actualValue, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if fmt.Sprint(actualValue) != expectedValue {
		return fmt.Errorf("field %s: expected %s but got %v", field, expectedValue, actualValue)
	}
	return nil
}

func (s *commonSteps) responseFieldShouldBeSubject(ctx context.Context, field string) error {
	return s.responseFieldShouldEqual(ctx, field, s.tc.GetSubject())
}

func (s *commonSteps) headerShouldEqual(ctx context.Context, name, expected string) error {
	if actual := s.tc.GetLastResponseHeader(name); actual != expected {
		return fmt.Errorf("header %s: expected %q but got %q", name, expected, actual)
	}
	return nil
}

func (s *commonSteps) headerShouldBePresent(ctx context.Context, name string) error {
	if strings.TrimSpace(s.tc.GetLastResponseHeader(name)) == "" {
		return fmt.Errorf("header %s missing", name)
	}
	return nil
}

func (s *commonSteps) headerShouldBeAbsent(ctx context.Context, name string) error {
	if v := s.tc.GetLastResponseHeader(name); v != "" {
		return fmt.Errorf("header %s should be absent, got %q", name, v)
	}
	return nil
}

func (s *commonSteps) logMessage(ctx context.Context, message string) error {
	fmt.Println(message)
	return nil
}
