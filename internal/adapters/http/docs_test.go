package http_test

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	handler "github.com/korope-ng/korope/internal/adapters/http"
)

func TestDocs_PointsAtOpenAPIDocument(t *testing.T) {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupDocs(app)

	resp := do(t, app, "GET", "/docs", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	page := string(readBody(t, resp.Body))
	for _, want := range []string{
		"url: '/docs/openapi.yaml'",
		"Korope Transit API v" + handler.APIVersion,
		"build " + handler.Version,
		handler.HeaderUserID,
	} {
		if !strings.Contains(page, want) {
			t.Errorf("docs page missing %q", want)
		}
	}
}

func TestDocs_ServesOpenAPIDocument(t *testing.T) {
	orig := handler.OpenAPIFile
	t.Cleanup(func() { handler.OpenAPIFile = orig })
	handler.OpenAPIFile = findOpenAPISpec(t)

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupDocs(app)

	resp := do(t, app, "GET", "/docs/openapi.yaml", "", "")
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/yaml" {
		t.Errorf("content type = %q", ct)
	}
	body := string(readBody(t, resp.Body))
	if !strings.Contains(body, "version: "+handler.APIVersion) {
		t.Errorf("served document does not declare version %s", handler.APIVersion)
	}
}

func TestDocs_MissingOpenAPIDocument(t *testing.T) {
	orig := handler.OpenAPIFile
	t.Cleanup(func() { handler.OpenAPIFile = orig })
	handler.OpenAPIFile = filepath.Join(t.TempDir(), "missing.yaml")

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	handler.SetupDocs(app)

	resp := do(t, app, "GET", "/docs/openapi.yaml", "", "")
	expectError(t, resp, 404, "not_found")
}
