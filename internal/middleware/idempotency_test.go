package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lgota-app/lgota_auth/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int32) {
	t.Helper()
	mr := miniredis.RunT(t)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls atomic.Int32
	app := fiber.New()
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := calls.Add(1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": n})
	})
	app.Post("/fails", func(c *fiber.Ctx) error {
		calls.Add(1)
		return fiber.NewError(fiber.StatusBadRequest, "nope")
	})
	return app, &calls
}

func post(t *testing.T, app *fiber.App, path, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(payload)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls := setupTestApp(t)

	for i := 0; i < 2; i++ {
		status, _ := post(t, app, "/resource", "", "{}")
		if status != fiber.StatusCreated {
			t.Fatalf("expected %d got %d", fiber.StatusCreated, status)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("expected handler to run twice, ran %d", calls.Load())
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, calls := setupTestApp(t)

	status, payload := post(t, app, "/resource", "abc123", "{}")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cached := post(t, app, "/resource", "abc123", "{}")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected handler to run once, ran %d", calls.Load())
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyRejectsDifferentBody(t *testing.T) {
	app, _ := setupTestApp(t)

	if status, _ := post(t, app, "/resource", "key-1", `{"a":1}`); status != fiber.StatusCreated {
		t.Fatalf("first request status %d", status)
	}
	if status, _ := post(t, app, "/resource", "key-1", `{"a":2}`); status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d", fiber.StatusUnprocessableEntity, status)
	}
}

func TestIdempotencyDoesNotCacheFailures(t *testing.T) {
	app, calls := setupTestApp(t)

	for i := 0; i < 2; i++ {
		if status, _ := post(t, app, "/fails", "key-2", "{}"); status != fiber.StatusBadRequest {
			t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
		}
	}
	if calls.Load() != 2 {
		t.Fatalf("failed request should be retried, handler ran %d", calls.Load())
	}
}
