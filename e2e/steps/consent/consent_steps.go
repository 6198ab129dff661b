package consent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/cucumber/godog"
)

// consentVersionEnv names the version the server was started with as
// REQUIRED_CONSENT_VERSION. Empty means the server does not gate on consent.
const consentVersionEnv = "E2E_CONSENT_VERSION"

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Do(method, path string, body any, headers map[string]string) error
	GET(path string, headers map[string]string) error
	POST(path string, body any, headers map[string]string) error
	SessionHeaders() map[string]string
	GetLastResponseStatus() int
	GetLastResponseBody() []byte
}

// RegisterSteps registers consent and profile step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &consentSteps{tc: tc, required: os.Getenv(consentVersionEnv)}

	ctx.Step(`^the server requires consent$`, steps.serverRequiresConsent)
	ctx.Step(`^I have accepted the required consent$`, steps.acceptRequiredConsent)
	ctx.Step(`^I accept consent version "([^"]*)"$`, steps.acceptConsentVersion)
	ctx.Step(`^I update my email to "([^"]*)"$`, steps.updateEmail)
	ctx.Step(`^I clear my email$`, steps.clearEmail)
	ctx.Step(`^my profile should show email "([^"]*)"$`, steps.profileShouldShowEmail)
	ctx.Step(`^my profile should show no email$`, steps.profileShouldShowNoEmail)
	ctx.Step(`^my profile should show the required consent version$`, steps.profileShouldShowRequiredConsent)
}

type consentSteps struct {
	tc       TestContext
	required string
}

func (s *consentSteps) serverRequiresConsent(ctx context.Context) error {
	if s.required == "" {
		return godog.ErrSkip
	}
	return nil
}

// acceptRequiredConsent is a no-op against servers that do not gate on consent.
func (s *consentSteps) acceptRequiredConsent(ctx context.Context) error {
	if s.required == "" {
		return nil
	}
	if err := s.acceptConsentVersion(ctx, s.required); err != nil {
		return err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return fmt.Errorf("recording consent returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	return nil
}

func (s *consentSteps) acceptConsentVersion(ctx context.Context, version string) error {
	return s.tc.POST("/consent", map[string]string{"version": version}, s.tc.SessionHeaders())
}

func (s *consentSteps) updateEmail(ctx context.Context, email string) error {
	return s.tc.Do(http.MethodPatch, "/users/me", map[string]string{"email": email}, s.tc.SessionHeaders())
}

func (s *consentSteps) clearEmail(ctx context.Context) error {
	return s.tc.Do(http.MethodPatch, "/users/me", map[string]any{"email": nil}, s.tc.SessionHeaders())
}

func (s *consentSteps) profile() (map[string]any, error) {
	if err := s.tc.GET("/me", s.tc.SessionHeaders()); err != nil {
		return nil, err
	}
	if status := s.tc.GetLastResponseStatus(); status != http.StatusOK {
		return nil, fmt.Errorf("GET /me returned %d: %s", status, s.tc.GetLastResponseBody())
	}
	var me map[string]any
	if err := json.Unmarshal(s.tc.GetLastResponseBody(), &me); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return me, nil
}

func (s *consentSteps) profileShouldShowEmail(ctx context.Context, email string) error {
	me, err := s.profile()
	if err != nil {
		return err
	}
	if got, _ := me["email"].(string); got != email {
		return fmt.Errorf("profile email: expected %q but got %v", email, me["email"])
	}
	return nil
}

func (s *consentSteps) profileShouldShowNoEmail(ctx context.Context) error {
	me, err := s.profile()
	if err != nil {
		return err
	}
	if v, ok := me["email"]; !ok || v != nil {
		return fmt.Errorf("profile email: expected null but got %v", v)
	}
	return nil
}

func (s *consentSteps) profileShouldShowRequiredConsent(ctx context.Context) error {
	me, err := s.profile()
	if err != nil {
		return err
	}
	if got, _ := me["consent_version"].(string); got != s.required {
		return fmt.Errorf("profile consent_version: expected %q but got %v", s.required, me["consent_version"])
	}
	return nil
}
