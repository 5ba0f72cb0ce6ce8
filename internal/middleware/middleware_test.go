package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentlift_backend/pkg/utils/jwt"
)

func authApp(signer *jwt.Signer) *fiber.App {
	app := fiber.New()
	app.Get("/me", AuthMiddleware(signer), func(c *fiber.Ctx) error {
		return c.SendString(Claims(c).AccountID)
	})
	return app
}

func TestAuthMiddleware(t *testing.T) {
	signer := jwt.NewSigner("test-secret")
	app := authApp(signer)
	token, err := signer.GenerateToken("acct-1", "owner@example.com")
	require.NoError(t, err)

	cases := []struct {
		name   string
		header string
		code   int
	}{
		{"valid", "Bearer " + token, fiber.StatusOK},
		{"missing", "", fiber.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, fiber.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", fiber.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

type observation struct {
	method, route string
	code          int
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (r *recordingObserver) ObserveHTTP(method, route string, code int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, observation{method, route, code})
}

func TestMetricsUsesRoutePatternAndRenderedStatus(t *testing.T) {
	rec := &recordingObserver{}
	app := fiber.New()
	app.Use(Metrics(rec))
	app.Get("/invoices/:id", func(c *fiber.Ctx) error {
		if c.Params("id") == "missing" {
			return fiber.NewError(fiber.StatusNotFound, "not found")
		}
		return c.SendStatus(fiber.StatusOK)
	})

	for _, id := range []string{"in_1", "missing"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/invoices/"+id, nil), -1)
		require.NoError(t, err)
		resp.Body.Close()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []observation{
		{http.MethodGet, "/invoices/:id", fiber.StatusOK},
		{http.MethodGet, "/invoices/:id", fiber.StatusNotFound},
	}, rec.obs)
}
