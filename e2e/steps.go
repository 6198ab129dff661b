//go:build e2e

package e2e

import (
	"github.com/cucumber/godog"

	"bookmarks/e2e/steps/common"
	"bookmarks/e2e/steps/consent"
	"bookmarks/e2e/steps/ratelimit"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	ratelimit.RegisterSteps(ctx, tc)
	consent.RegisterSteps(ctx, tc)
}
