//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lugares/apiserver/config"
	"github.com/lugares/apiserver/internal/db"
	"github.com/lugares/apiserver/internal/logging"
	"github.com/lugares/apiserver/internal/server"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	serverPort = 18080
)

var baseURL = fmt.Sprintf("http://localhost:%d", serverPort)

func TestMain(m *testing.M) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	postgres, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "lugares",
			"POSTGRES_PASSWORD": "lugares",
			"POSTGRES_DB":       "lugares",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres: %v\n", err)
		os.Exit(1)
	}

	minio, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Cmd:          []string{"server", "/data"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		WaitingFor: wait.ForHTTP("/minio/health/live").
			WithPort("9000/tcp").
			WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start minio: %v\n", err)
		_ = postgres.Terminate(context.Background())
		os.Exit(1)
	}

	teardown := func() {
		_ = minio.Terminate(context.Background())
		_ = postgres.Terminate(context.Background())
	}

	if err := configureEnv(ctx, postgres, minio); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure environment: %v\n", err)
		teardown()
		os.Exit(1)
	}

	cfg := config.LoadConfig()
	if err := db.MigrateUp(db.DSN(cfg.Database)); err != nil {
		fmt.Fprintf(os.Stderr, "failed to run migrations: %v\n", err)
		teardown()
		os.Exit(1)
	}

	srv, err := server.New(ctx, cfg, logging.New(cfg.Env, "warn"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start server: %v\n", err)
		teardown()
		os.Exit(1)
	}
	go func() {
		_ = srv.Start()
	}()

	if err := waitForHealth(ctx, baseURL+"/healthz"); err != nil {
		fmt.Fprintf(os.Stderr, "server not healthy: %v\n", err)
		_ = srv.Shutdown(context.Background())
		teardown()
		os.Exit(1)
	}

	code := m.Run()

	_ = srv.Shutdown(context.Background())
	teardown()
	os.Exit(code)
}

func TestPlaceLifecycle(t *testing.T) {
	suffix := time.Now().UnixNano()
	author := register(t, fmt.Sprintf("author_%d@example.com", suffix), "Author", "emprendedor")
	consumer := register(t, fmt.Sprintf("consumer_%d@example.com", suffix), "Consumer", "cliente")

	home := struct {
		View string `json:"view"`
	}{}
	expectStatus(t, call(t, http.MethodGet, "/home", author, nil, ""), http.StatusOK, &home)
	if home.View != "author" {
		t.Fatalf("unexpected author view: %q", home.View)
	}

	var created placeResponse
	resp := createPlace(t, author, "Café del Parque", false)
	expectStatus(t, resp, http.StatusCreated, &created)
	if created.ID == 0 {
		t.Fatalf("expected place ID to be set")
	}
	if created.ImageURL == nil || *created.ImageURL == "" {
		t.Fatalf("expected image URL to be set")
	}

	path := fmt.Sprintf("/places/%d", created.ID)
	expectStatus(t, call(t, http.MethodGet, path, consumer, nil, ""), http.StatusNotFound, nil)

	var updated placeResponse
	patch := strings.NewReader(`{"active": true}`)
	expectStatus(t, call(t, http.MethodPatch, path, author, patch, "application/json"), http.StatusOK, &updated)
	if !updated.Active {
		t.Fatalf("expected place to be active after update")
	}

	var fetched placeResponse
	expectStatus(t, call(t, http.MethodGet, path, consumer, nil, ""), http.StatusOK, &fetched)
	if fetched.Name != "Café del Parque" {
		t.Fatalf("unexpected place name: %q", fetched.Name)
	}

	comment := strings.NewReader(`{"text": "Muy buen café"}`)
	var posted struct {
		AuthorName string `json:"author_name"`
	}
	expectStatus(t, call(t, http.MethodPost, path+"/comments", consumer, comment, "application/json"), http.StatusCreated, &posted)
	if posted.AuthorName != "Consumer" {
		t.Fatalf("unexpected comment author: %q", posted.AuthorName)
	}

	var thread struct {
		Items []struct {
			Text string `json:"text"`
		} `json:"items"`
	}
	expectStatus(t, call(t, http.MethodGet, path+"/comments", author, nil, ""), http.StatusOK, &thread)
	if len(thread.Items) != 1 || thread.Items[0].Text != "Muy buen café" {
		t.Fatalf("unexpected comment thread: %+v", thread.Items)
	}

	expectStatus(t, createPlace(t, consumer, "Not mine", true), http.StatusForbidden, nil)
	expectStatus(t, createPlace(t, author, "Second", true), http.StatusCreated, nil)
	expectStatus(t, createPlace(t, author, "Third", true), http.StatusConflict, nil)
}

type placeResponse struct {
	ID       int64   `json:"id"`
	Name     string  `json:"name"`
	Active   bool    `json:"active"`
	ImageURL *string `json:"image_url"`
}

func register(t *testing.T, email, name, role string) string {
	t.Helper()

	payload, err := json.Marshal(map[string]string{
		"email":           email,
		"password":        "testpass123!",
		"repeat_password": "testpass123!",
		"display_name":    name,
		"role":            role,
	})
	if err != nil {
		t.Fatalf("marshal register payload: %v", err)
	}

	var parsed struct {
		Token string `json:"token"`
	}
	resp := call(t, http.MethodPost, "/auth/register", "", bytes.NewReader(payload), "application/json")
	expectStatus(t, resp, http.StatusCreated, &parsed)
	if parsed.Token == "" {
		t.Fatalf("missing token in register response")
	}
	return parsed.Token
}

func createPlace(t *testing.T, token, name string, active bool) *http.Response {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	_ = writer.WriteField("name", name)
	_ = writer.WriteField("description", "Lugar de prueba")
	_ = writer.WriteField("schedule", "Lun-Vie 9:00-18:00")
	_ = writer.WriteField("latitude", "-12.0464")
	_ = writer.WriteField("longitude", "-77.0428")
	_ = writer.WriteField("active", fmt.Sprintf("%t", active))

	part, err := writer.CreateFormFile("image", "place.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if err := png.Encode(part, testImage()); err != nil {
		t.Fatalf("encode image: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	return call(t, http.MethodPost, "/places", token, &body, writer.FormDataContentType())
}

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	return img
}

func call(t *testing.T, method, path, token string, body io.Reader, contentType string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, baseURL+path, body)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, status int, out any) {
	t.Helper()
	defer resp.Body.Close()

	if resp.StatusCode != status {
		msg, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: expected status %d, got %d: %s",
			resp.Request.Method, resp.Request.URL.Path, status, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest) (testcontainers.Container, error) {
	return testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
}

func configureEnv(ctx context.Context, postgres, minio testcontainers.Container) error {
	pgHost, err := postgres.Host(ctx)
	if err != nil {
		return err
	}
	pgPort, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		return err
	}
	minioHost, err := minio.Host(ctx)
	if err != nil {
		return err
	}
	minioPort, err := minio.MappedPort(ctx, "9000")
	if err != nil {
		return err
	}

	env := map[string]string{
		"ENV":              "production",
		"JWT_SECRET":       "test-secret",
		"SERVER_PORT":      fmt.Sprintf("%d", serverPort),
		"DB_HOST":          pgHost,
		"DB_PORT":          pgPort.Port(),
		"DB_USER":          "lugares",
		"DB_PASSWORD":      "lugares",
		"DB_NAME":          "lugares",
		"DB_USE_SSL":       "false",
		"STORAGE_BACKEND":  "minio",
		"MINIO_ENDPOINT":   fmt.Sprintf("%s:%s", minioHost, minioPort.Port()),
		"MINIO_ACCESS_KEY": "minioadmin",
		"MINIO_SECRET_KEY": "minioadmin",
		"MINIO_BUCKET":     "lugares",
		"MQ_BACKEND":       "memory",
	}
	for key, value := range env {
		if err := os.Setenv(key, value); err != nil {
			return err
		}
	}
	return nil
}

func waitForHealth(ctx context.Context, url string) error {
	client := &http.Client{Timeout: 2 * time.Second}
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			return fmt.Errorf("health check failed with status")
		case <-ticker.C:
		}
	}
}
