package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/photosync-io/photosync/pkg/api/auth"
	"github.com/photosync-io/photosync/pkg/classic"
	"github.com/photosync-io/photosync/pkg/cloud"
	"github.com/photosync-io/photosync/pkg/config"
	"github.com/photosync-io/photosync/pkg/layout"
	"github.com/photosync-io/photosync/pkg/metrics"
	"github.com/photosync-io/photosync/pkg/quota"
	"github.com/photosync-io/photosync/pkg/store"
	"github.com/photosync-io/photosync/pkg/subscription"
)

const testSecret = "integration-test-secret-with-32-chars!"

type testEnv struct {
	router http.Handler
	store  *store.Store
	layout *layout.Layout
	cfg    *config.Config
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.GetDefaultConfig()
	cfg.Auth.JWTSecret = testSecret
	cfg.Storage.DataDir = t.TempDir()
	cfg.Subscription.RevenueCatWebhookSecret = "test-webhook-secret"

	l, err := layout.Resolve(layout.Overrides{DataDir: cfg.Storage.DataDir})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := l.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}

	db, err := store.New(store.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	jwtService, err := auth.NewJWTService(auth.JWTConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}

	resolver := subscription.NewResolver(db, cfg.Subscription.GraceDays, cfg.Subscription.TrialDays)
	m := metrics.NewMetrics(prometheus.NewRegistry())

	router := NewRouter(Deps{
		Config:     cfg,
		Store:      db,
		Layout:     l,
		JWTService: jwtService,
		Resolver:   resolver,
		Quota:      quota.NewManager(db, int64(cfg.Quota.MarginBytes), true),
		Classic:    classic.New(db, l),
		Cloud:      cloud.New(db, l),
		Metrics:    m,
	})
	return &testEnv{router: router, store: db, layout: l, cfg: cfg}
}

type session struct {
	userID     uint
	token      string
	deviceUUID string
}

// register creates an account with a 100 GB trial plan and a bound
// device, returning the session from the register response.
func (e *testEnv) register(t *testing.T, email, deviceUUID string) *session {
	t.Helper()
	body, _ := json.Marshal(map[string]any{
		"email":       email,
		"password":    "hunter22",
		"plan_gb":     100,
		"device_uuid": deviceUUID,
		"device_name": "test device",
	})
	rec := e.do(t, http.MethodPost, "/api/register", nil, "application/json", bytes.NewReader(body), 0)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		UserID uint   `json:"userId"`
		Token  string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Token == "" {
		t.Fatal("register response missing token")
	}
	return &session{userID: resp.UserID, token: resp.Token, deviceUUID: deviceUUID}
}

func (e *testEnv) do(t *testing.T, method, path string, s *session, contentType string, body io.Reader, contentLength int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s != nil {
		req.Header.Set("Authorization", "Bearer "+s.token)
		req.Header.Set("X-Device-UUID", s.deviceUUID)
	}
	if contentLength != 0 {
		req.ContentLength = contentLength
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func (e *testEnv) usage(t *testing.T, s *session) (quotaBytes, usedBytes, remainingBytes int64) {
	t.Helper()
	rec := e.do(t, http.MethodGet, "/api/cloud/usage", s, "", nil, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("usage = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		QuotaBytes     int64 `json:"quotaBytes"`
		UsedBytes      int64 `json:"usedBytes"`
		RemainingBytes int64 `json:"remainingBytes"`
	}
	decodeBody(t, rec, &resp)
	return resp.QuotaBytes, resp.UsedBytes, resp.RemainingBytes
}

func (e *testEnv) uploadChunk(t *testing.T, s *session, chunkID string, body []byte, declaredLength int64) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/cloud/chunks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Chunk-Id", chunkID)
	req.Header.Set("Authorization", "Bearer "+s.token)
	req.Header.Set("X-Device-UUID", s.deviceUUID)
	if declaredLength != 0 {
		req.ContentLength = declaredLength
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterTrialAndUsageNumbers(t *testing.T) {
	e := setupEnv(t)
	s := e.register(t, "alice@x.io", "device-alice")

	rec := e.do(t, http.MethodGet, "/api/subscription/status", s, "", nil, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var st struct {
		Status     string `json:"status"`
		PlanGB     int    `json:"planGb"`
		TrialUntil *int64 `json:"trialUntil"`
	}
	decodeBody(t, rec, &st)
	if st.Status != "trial" || st.PlanGB != 100 {
		t.Errorf("status = %+v, want an active 100 GB trial", st)
	}
	if st.TrialUntil == nil {
		t.Fatal("trialUntil missing")
	}
	wantTrialEnd := time.Now().AddDate(0, 0, e.cfg.Subscription.TrialDays)
	got := time.UnixMilli(*st.TrialUntil)
	if d := got.Sub(wantTrialEnd); d < -time.Hour || d > time.Hour {
		t.Errorf("trialUntil = %v, want about %v", got, wantTrialEnd)
	}

	quotaBytes, usedBytes, remainingBytes := e.usage(t, s)
	wantQuota := int64(100)*quota.BytesPerGB + int64(e.cfg.Quota.MarginBytes)
	if quotaBytes != wantQuota {
		t.Errorf("quotaBytes = %d, want %d", quotaBytes, wantQuota)
	}
	if usedBytes != 0 || remainingBytes != 100*quota.BytesPerGB {
		t.Errorf("used = %d remaining = %d", usedBytes, remainingBytes)
	}
}

func TestChunkUploadIsIdempotent(t *testing.T) {
	e := setupEnv(t)
	s := e.register(t, "bob@x.io", "device-bob")

	body := []byte(strings.Repeat("ciphertext", 400))
	sum := sha256.Sum256(body)
	chunkID := hex.EncodeToString(sum[:])

	rec := e.uploadChunk(t, s, chunkID, body, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Stored bool `json:"stored"`
	}
	decodeBody(t, rec, &resp)
	if !resp.Stored {
		t.Errorf("response = %s", rec.Body.String())
	}
	_, used, _ := e.usage(t, s)
	if used != int64(len(body)) {
		t.Errorf("usedBytes = %d, want %d", used, len(body))
	}

	// Replay of the same chunk answers the same and counts nothing.
	rec = e.uploadChunk(t, s, chunkID, body, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("replay = %d: %s", rec.Code, rec.Body.String())
	}
	_, used, _ = e.usage(t, s)
	if used != int64(len(body)) {
		t.Errorf("usedBytes after replay = %d, want %d", used, len(body))
	}
}

func TestChunkHashMismatchRejected(t *testing.T) {
	e := setupEnv(t)
	s := e.register(t, "mallory@x.io", "device-mallory")

	chunkID := strings.Repeat("a", 64)
	rec := e.uploadChunk(t, s, chunkID, []byte("does not hash to all-a"), 0)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var problem struct {
		Detail string `json:"detail"`
	}
	decodeBody(t, rec, &problem)
	if problem.Detail != "Chunk hash mismatch" {
		t.Errorf("detail = %q", problem.Detail)
	}

	// Neither the chunk file nor any temp may survive.
	err := filepath.WalkDir(e.layout.CloudDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return fmt.Errorf("unexpected file %s", path)
		}
		return nil
	})
	if err != nil {
		t.Error(err)
	}
	if _, used, _ := e.usage(t, s); used != 0 {
		t.Errorf("usedBytes = %d, want 0", used)
	}
}

func TestQuotaExceededRejectsBeforeWrite(t *testing.T) {
	e := setupEnv(t)
	s := e.register(t, "carol@x.io", "device-carol")

	// 99 GB already indexed for the tenant.
	preloaded := strings.Repeat("b", 64)
	if err := e.store.InsertChunk(context.Background(), s.userID, preloaded, 99_000_000_000); err != nil {
		t.Fatal(err)
	}

	// A 2 GB declared body must be refused on arithmetic alone, before
	// any bytes are read.
	chunkID := strings.Repeat("c", 64)
	rec := e.uploadChunk(t, s, chunkID, []byte("tiny stand-in body"), 2_000_000_000)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var problem struct {
		Code string `json:"code"`
	}
	decodeBody(t, rec, &problem)
	if problem.Code != "QUOTA_EXCEEDED" {
		t.Errorf("code = %q", problem.Code)
	}

	if _, used, _ := e.usage(t, s); used != 99_000_000_000 {
		t.Errorf("usedBytes = %d, want unchanged", used)
	}
}

func TestWebhookActivatesSubscription(t *testing.T) {
	e := setupEnv(t)
	e.register(t, "erin@x.io", "device-erin")

	// Login supplies the billing app-user id; webhook events are keyed
	// by it.
	body, _ := json.Marshal(map[string]any{
		"email":       "erin@x.io",
		"password":    "hunter22",
		"device_uuid": "device-erin",
		"app_user_id": "rc-app-erin",
	})
	rec := e.do(t, http.MethodPost, "/api/login", nil, "application/json", bytes.NewReader(body), 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeBody(t, rec, &login)
	s := &session{token: login.Token, deviceUUID: "device-erin"}

	expires := time.Now().Add(30 * 24 * time.Hour).UnixMilli()
	event, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"type":             "INITIAL_PURCHASE",
			"app_user_id":      "rc-app-erin",
			"product_id":       "photosync_cloud_200gb_monthly",
			"expiration_at_ms": expires,
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/revenuecat/webhook", bytes.NewReader(event))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer test-webhook-secret")
	hookRec := httptest.NewRecorder()
	e.router.ServeHTTP(hookRec, req)
	if hookRec.Code != http.StatusOK {
		t.Fatalf("webhook = %d: %s", hookRec.Code, hookRec.Body.String())
	}

	rec = e.do(t, http.MethodGet, "/api/subscription/status", s, "", nil, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var st struct {
		Status string `json:"status"`
		PlanGB int    `json:"planGb"`
	}
	decodeBody(t, rec, &st)
	if st.Status != "active" || st.PlanGB != 200 {
		t.Errorf("status = %+v, want active 200 GB", st)
	}
}

func TestChunkUploadRequiresDeclaredLength(t *testing.T) {
	e := setupEnv(t)
	s := e.register(t, "frank@x.io", "device-frank")

	body := []byte("chunked-transfer body with no declared size")
	sum := sha256.Sum256(body)
	chunkID := hex.EncodeToString(sum[:])

	// ContentLength -1 models chunked transfer encoding.
	rec := e.uploadChunk(t, s, chunkID, body, -1)
	if rec.Code != http.StatusLengthRequired {
		t.Fatalf("upload = %d, want 411: %s", rec.Code, rec.Body.String())
	}

	if _, used, _ := e.usage(t, s); used != 0 {
		t.Errorf("usedBytes = %d, want 0", used)
	}
}

func multipartFile(t *testing.T, field, filename string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return w.FormDataContentType(), &buf
}

func TestClassicDedupByHash(t *testing.T) {
	e := setupEnv(t)
	s := e.register(t, "dave@x.io", "device-dave")

	content := bytes.Repeat([]byte{0xfe, 0xed}, 1<<19) // 1 MiB

	contentType, body := multipartFile(t, "file", "IMG_0001.HEIC", content)
	rec := e.do(t, http.MethodPost, "/api/upload", s, contentType, body, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var first classic.UploadResult
	decodeBody(t, rec, &first)
	if first.Duplicate || first.Filename != "IMG_0001.HEIC" {
		t.Errorf("first = %+v", first)
	}

	// Same bytes under a different name: duplicate by hash, reported
	// under the original filename.
	contentType, body = multipartFile(t, "file", "img_0001.heic", content)
	rec = e.do(t, http.MethodPost, "/api/upload", s, contentType, body, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("second upload = %d: %s", rec.Code, rec.Body.String())
	}
	var second classic.UploadResult
	decodeBody(t, rec, &second)
	if !second.Duplicate || second.Filename != "IMG_0001.HEIC" {
		t.Errorf("second = %+v", second)
	}

	rec = e.do(t, http.MethodGet, "/api/files", s, "", nil, 0)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Files []classic.Entry `json:"files"`
		Total int             `json:"total"`
	}
	decodeBody(t, rec, &list)
	if list.Total != 1 || len(list.Files) != 1 {
		t.Fatalf("list = %+v, want exactly one file", list)
	}
	if list.Files[0].Size != int64(len(content)) {
		t.Errorf("size = %d, want %d", list.Files[0].Size, len(content))
	}
}

func TestRootIsForbiddenAndHealthOpen(t *testing.T) {
	e := setupEnv(t)

	rec := e.do(t, http.MethodGet, "/", nil, "", nil, 0)
	if rec.Code != http.StatusForbidden {
		t.Errorf("GET / = %d, want 403", rec.Code)
	}

	rec = e.do(t, http.MethodGet, "/health", nil, "", nil, 0)
	if rec.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rec.Code)
	}
	var health struct {
		OK bool `json:"ok"`
	}
	decodeBody(t, rec, &health)
	if !health.OK {
		t.Errorf("health = %s", rec.Body.String())
	}
}
