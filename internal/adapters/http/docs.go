package http

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
)

// APIVersion is the contract version published in api/openapi.yaml.
const APIVersion = "1.0.0"

// OpenAPIFile is the spec served under /docs, relative to the working
// directory. Deployments running outside the repo root override it.
var OpenAPIFile = "api/openapi.yaml"

const openAPIRoute = "/docs/openapi.yaml"

// Verbs: API version, build version, spec URL, user header.
const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>Korope Transit API v%[1]s (build %[2]s)</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css">
  <style>body{margin:0;background:#fafafa}</style>
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({
      url: '%[3]s',
      dom_id: '#swagger-ui',
      deepLinking: true,
      tryItOutEnabled: true,
      requestInterceptor: function (req) {
        var user = window.localStorage.getItem('korope.userId');
        if (user) { req.headers['%[4]s'] = user; }
        return req;
      },
    });
  </script>
</body>
</html>`

// SetupDocs registers Swagger UI at /docs and the OpenAPI document it
// renders at /docs/openapi.yaml.
func SetupDocs(app *fiber.App) {
	page := fmt.Sprintf(swaggerUIHTML, APIVersion, Version, openAPIRoute, HeaderUserID)

	app.Get("/docs", func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(page)
	})

	app.Get(openAPIRoute, func(c *fiber.Ctx) error {
		data, err := os.ReadFile(OpenAPIFile)
		if err != nil {
			return newError(c, fiber.StatusNotFound, "not_found", "openapi document unavailable")
		}
		c.Set(fiber.HeaderContentType, "application/yaml")
		c.Set("X-API-Version", APIVersion)
		return c.Send(data)
	})
}
