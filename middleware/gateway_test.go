package middleware

import (
	"net/http/httptest"
	"testing"

	"lexicard-progression/config"
	"lexicard-progression/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

func newGatewayApp(t *testing.T) *fiber.App {
	t.Helper()
	utils.Logger = zap.NewNop()
	utils.Sugar = utils.Logger.Sugar()

	if _, err := config.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}
	app := fiber.New()
	app.Use(GatewayAuthMiddleware())
	app.Get("/ping", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestGatewayAuthRequiresToken(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lexicard_test")
	t.Setenv("PROGRESSION_SERVICE_TOKEN", "shared-secret")
	app := newGatewayApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("no header: status = %d, want 401", resp.StatusCode)
	}

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer wrong-secret")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Fatalf("wrong token: status = %d, want 401", resp.StatusCode)
	}

	req = httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer shared-secret")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", resp.StatusCode)
	}
}

func TestGatewayAuthExplicitDisable(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/lexicard_test")
	t.Setenv("GATEWAY_AUTH_DISABLED", "true")
	app := newGatewayApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("disabled auth: status = %d, want 200", resp.StatusCode)
	}
}
