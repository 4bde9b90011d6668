package e2e

import (
	"github.com/cucumber/godog"

	"certledger/e2e/steps/certificate"
	"certledger/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Register common steps (generic requests, assertions)
	common.RegisterSteps(ctx, tc)

	// Register publish and verify steps
	certificate.RegisterSteps(ctx, tc)
}
