package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string, headers map[string]string) error
	SessionHeaders() map[string]string
	GetLastResponseStatus() int
	GetLastResponseHeader(name string) string
}

// RegisterSteps registers rate-limiting step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ratelimitSteps{tc: tc}

	ctx.Step(`^I exhaust the quota on "([^"]*)" with my session$`, steps.exhaustQuota)
	ctx.Step(`^I make (\d+) requests to "([^"]*)" with my session$`, steps.makeNRequests)
	ctx.Step(`^all (\d+) requests should succeed with status (\d+)$`, steps.allNRequestsShouldSucceedWithStatus)
	ctx.Step(`^each admitted request should report one less remaining$`, steps.remainingShouldDropByOne)
	ctx.Step(`^the response should carry a Retry-After of at most (\d+) seconds$`, steps.retryAfterAtMost)
}

type ratelimitSteps struct {
	tc TestContext
	// State for tracking across steps
	remaining      []int
	requestResults []int
}

// exhaustQuota repeats the request until it is denied. The first response's
// X-RateLimit-Limit bounds the loop so a fail-open server cannot spin forever.
func (s *ratelimitSteps) exhaustQuota(ctx context.Context, path string) error {
	s.remaining = nil
	maxRequests := -1
	for i := 0; maxRequests < 0 || i <= maxRequests; i++ {
		if err := s.tc.GET(path, s.tc.SessionHeaders()); err != nil {
			return err
		}
		status := s.tc.GetLastResponseStatus()
		if status == http.StatusTooManyRequests {
			return nil
		}
		if s.tc.GetLastResponseHeader("X-RateLimit-Status") == "degraded" {
			return fmt.Errorf("limiter is degraded; quota cannot be exhausted")
		}
		if status >= 300 {
			return fmt.Errorf("request %d returned %d before the quota ran out", i+1, status)
		}
		remaining, err := s.intHeader("X-RateLimit-Remaining")
		if err != nil {
			return err
		}
		s.remaining = append(s.remaining, remaining)
		if maxRequests < 0 {
			if maxRequests, err = s.intHeader("X-RateLimit-Limit"); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("no 429 after %d requests", maxRequests+1)
}

func (s *ratelimitSteps) makeNRequests(ctx context.Context, count int, path string) error {
	s.requestResults = make([]int, 0, count)
	for i := 0; i < count; i++ {
		if err := s.tc.GET(path, s.tc.SessionHeaders()); err != nil {
			return err
		}
		s.requestResults = append(s.requestResults, s.tc.GetLastResponseStatus())
	}
	return nil
}

func (s *ratelimitSteps) allNRequestsShouldSucceedWithStatus(ctx context.Context, count, expectedStatus int) error {
	if len(s.requestResults) < count {
		return fmt.Errorf("only %d requests were made", len(s.requestResults))
	}
	for i := 0; i < count; i++ {
		if s.requestResults[i] != expectedStatus {
			return fmt.Errorf("request %d returned %d, want %d", i+1, s.requestResults[i], expectedStatus)
		}
	}
	return nil
}

// remainingShouldDropByOne allows a single upward jump where the short
// window rolled over mid-run.
func (s *ratelimitSteps) remainingShouldDropByOne(ctx context.Context) error {
	if len(s.remaining) == 0 {
		return fmt.Errorf("no admitted requests recorded")
	}
	rollovers := 0
	for i := 1; i < len(s.remaining); i++ {
		prev, cur := s.remaining[i-1], s.remaining[i]
		if cur > prev {
			rollovers++
			continue
		}
		if cur != prev-1 {
			return fmt.Errorf("remaining went %d -> %d at request %d", prev, cur, i+1)
		}
	}
	if rollovers > 1 {
		return fmt.Errorf("remaining reset %d times", rollovers)
	}
	if last := s.remaining[len(s.remaining)-1]; last != 0 {
		return fmt.Errorf("last admitted request reported %d remaining, want 0", last)
	}
	return nil
}

func (s *ratelimitSteps) retryAfterAtMost(ctx context.Context, maxSeconds int) error {
	retry, err := s.intHeader("Retry-After")
	if err != nil {
		return err
	}
	if retry <= 0 || retry > maxSeconds {
		return fmt.Errorf("Retry-After %d outside (0, %d]", retry, maxSeconds)
	}
	return nil
}

func (s *ratelimitSteps) intHeader(name string) (int, error) {
	raw := s.tc.GetLastResponseHeader(name)
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("header %s: %q is not an integer", name, raw)
	}
	return v, nil
}
