package common

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	GET(path string) error
	GetLastStatus() int
	GetLastBody() []byte
	GetResponseField(field string) (interface{}, error)
}

// RegisterSteps registers generic request and assertion steps
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &commonSteps{tc: tc}

	ctx.Step(`^I GET "([^"]*)"$`, steps.get)
	ctx.Step(`^the response status should be (\d+)$`, steps.statusShouldBe)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, steps.fieldShouldEqual)
	ctx.Step(`^the response field "([^"]*)" should be (true|false)$`, steps.fieldShouldBeBool)
	ctx.Step(`^the response field "([^"]*)" should contain "([^"]*)"$`, steps.fieldShouldContain)
	ctx.Step(`^the response field "([^"]*)" should match "([^"]*)"$`, steps.fieldShouldMatch)
	ctx.Step(`^the response field "([^"]*)" should be a base64 image$`, steps.fieldShouldBeBase64Image)
}

type commonSteps struct {
	tc TestContext
}

func (s *commonSteps) get(ctx context.Context, path string) error {
	return s.tc.GET(path)
}

func (s *commonSteps) statusShouldBe(ctx context.Context, expected int) error {
	if got := s.tc.GetLastStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, s.tc.GetLastBody())
	}
	return nil
}

func (s *commonSteps) stringField(field string) (string, error) {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is %T, not a string", field, v)
	}
	return str, nil
}

func (s *commonSteps) fieldShouldEqual(ctx context.Context, field, expected string) error {
	got, err := s.stringField(field)
	if err != nil {
		return err
	}
	if got != expected {
		return fmt.Errorf("field %q: expected %q, got %q", field, expected, got)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeBool(ctx context.Context, field, expected string) error {
	v, err := s.tc.GetResponseField(field)
	if err != nil {
		return err
	}
	want, _ := strconv.ParseBool(expected)
	got, ok := v.(bool)
	if !ok || got != want {
		return fmt.Errorf("field %q: expected %v, got %v", field, want, v)
	}
	return nil
}

func (s *commonSteps) fieldShouldContain(ctx context.Context, field, substr string) error {
	got, err := s.stringField(field)
	if err != nil {
		return err
	}
	if !strings.Contains(got, substr) {
		return fmt.Errorf("field %q: %q does not contain %q", field, got, substr)
	}
	return nil
}

func (s *commonSteps) fieldShouldMatch(ctx context.Context, field, pattern string) error {
	got, err := s.stringField(field)
	if err != nil {
		return err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	if !re.MatchString(got) {
		return fmt.Errorf("field %q: %q does not match %s", field, got, pattern)
	}
	return nil
}

func (s *commonSteps) fieldShouldBeBase64Image(ctx context.Context, field string) error {
	got, err := s.stringField(field)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		return fmt.Errorf("field %q is not base64: %w", field, err)
	}
	if len(raw) < 8 || string(raw[1:4]) != "PNG" {
		return fmt.Errorf("field %q does not decode to a PNG", field)
	}
	return nil
}
