package certificate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"github.com/cucumber/godog"

	"certledger/internal/ledger/memory"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string) error
	GetResponseField(field string) (interface{}, error)
	Save(key, value string)
	Saved(key string) string
	Ledger() *memory.Ledger
}

// RegisterSteps registers publish and verify step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &certificateSteps{tc: tc}

	ctx.Step(`^I publish a certificate for "([^"]*)" named "([^"]*)" with code "([^"]*)"$`, steps.publish)
	ctx.Step(`^I publish a certificate for "([^"]*)" with code "([^"]*)" and no name$`, steps.publishWithoutName)
	ctx.Step(`^I save the certificate hash$`, steps.saveHash)
	ctx.Step(`^I verify the saved certificate hash$`, steps.verifySaved)
	ctx.Step(`^I verify a random unpublished certificate hash$`, steps.verifyRandom)
	ctx.Step(`^the ledger is unreachable$`, steps.ledgerDown)
}

type certificateSteps struct {
	tc TestContext
}

func (s *certificateSteps) publish(ctx context.Context, awardee, name, code string) error {
	return s.tc.POST("/publish", map[string]string{
		"awardee_name":     awardee,
		"certificate_name": name,
		"certificate_code": code,
	})
}

func (s *certificateSteps) publishWithoutName(ctx context.Context, awardee, code string) error {
	return s.tc.POST("/publish", map[string]string{
		"awardee_name":     awardee,
		"certificate_code": code,
	})
}

func (s *certificateSteps) saveHash(ctx context.Context) error {
	v, err := s.tc.GetResponseField("certificate_hash")
	if err != nil {
		return err
	}
	hash, ok := v.(string)
	if !ok || hash == "" {
		return fmt.Errorf("certificate_hash missing from response")
	}
	s.tc.Save("certificate_hash", hash)
	return nil
}

func (s *certificateSteps) verifySaved(ctx context.Context) error {
	return s.verify(s.tc.Saved("certificate_hash"))
}

func (s *certificateSteps) verifyRandom(ctx context.Context) error {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return err
	}
	return s.verify(hex.EncodeToString(buf))
}

func (s *certificateSteps) verify(hash string) error {
	return s.tc.GET("/verify_certificate?certificate_hash=" + url.QueryEscape(hash))
}

func (s *certificateSteps) ledgerDown(ctx context.Context) error {
	l := s.tc.Ledger()
	if l == nil {
		return godog.ErrSkip
	}
	l.SetReachable(false)
	return nil
}
