package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/Moises833/StudyHub/internal/api/middleware"
	"github.com/Moises833/StudyHub/internal/bus"
	"github.com/Moises833/StudyHub/internal/config"
	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// newTestServer 组装一个只依赖 miniredis 的服务器。
//
// 关系库路径（加固版注册、healthz）在这里不可用，测试只打
// KV 路径的接口。
func newTestServer(t *testing.T) *Server {
	t.Helper()
	metrics.InitMetrics()

	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	kv, err := store.NewRedisKV(rdb)
	if err != nil {
		t.Fatalf("new kv: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	changes := bus.New()

	cfg := &config.Config{}
	cfg.App.HTTPAddr = ":0"
	cfg.Security.JWTSecret = "test-secret"

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	srv := &Server{
		cfg:      cfg,
		logger:   logger,
		rdb:      rdb,
		router:   r,
		users:    store.NewAuth(kv, changes, logger),
		projects: store.NewProjects(kv, changes, logger),
		changes:  changes,
	}
	srv.registerRoutes()
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

// registerAndLogin 注册用户并返回 JWT。
func registerAndLogin(t *testing.T, srv *Server, name, email string) string {
	t.Helper()
	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		`{"name":"`+name+`","email":"`+email+`","password":"secreta"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
		`{"email":"`+email+`","password":"secreta"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login status %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	decode(t, w, &resp)
	if resp.Token == "" {
		t.Fatal("expected a token")
	}
	return resp.Token
}

func TestServer_RegisterRejectsDuplicates(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		`{"name":"Ana","email":"ana@uni.edu","password":"secreta"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register status %d: %s", w.Code, w.Body.String())
	}
	var user model.User
	decode(t, w, &user)
	if user.ID == 0 || user.Email != "ana@uni.edu" {
		t.Fatalf("unexpected user: %+v", user)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		`{"name":"Otra","email":"ana@uni.edu","password":"distinta"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register status %d: %s", w.Code, w.Body.String())
	}
}

func TestServer_RegisterValidatesPayload(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/register", "", `{"email":"x@y.z"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing fields, got %d", w.Code)
	}
}

func TestServer_LoginAndSession(t *testing.T) {
	srv := newTestServer(t)

	doJSON(t, srv, http.MethodPost, "/api/auth/register", "",
		`{"name":"Ana","email":"ana@uni.edu","password":"secreta"}`)

	w := doJSON(t, srv, http.MethodPost, "/api/auth/login", "",
		`{"email":"ana@uni.edu","password":"mala"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status %d", w.Code)
	}

	token := registerAndLogin(t, srv, "Luis", "luis@uni.edu")

	w = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("me status %d: %s", w.Code, w.Body.String())
	}
	var sess model.Session
	decode(t, w, &sess)
	if sess.Email != "luis@uni.edu" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/auth/logout", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("logout status %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", w.Code)
	}
}

func TestServer_RequiresToken(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/projects", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/projects", "not-a-token", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with garbage token, got %d", w.Code)
	}
}

func TestServer_ProjectLifecycle(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "Ana", "ana@uni.edu")

	w := doJSON(t, srv, http.MethodPost, "/api/projects", token,
		`{"nombre":"Tesis","descripcion":"Capítulo 1","fechaEntrega":"2026-12-01"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create project status %d: %s", w.Code, w.Body.String())
	}
	var project model.Project
	decode(t, w, &project)
	if project.Estado != model.EstadoActivo {
		t.Fatalf("estado must default to activo: %+v", project)
	}
	pid := strconv.FormatInt(project.ID, 10)

	// 任务：添加、翻转、列表
	w = doJSON(t, srv, http.MethodPost, "/api/projects/"+pid+"/tasks", token, `{"nombre":"Escribir intro"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("add task status %d: %s", w.Code, w.Body.String())
	}
	decode(t, w, &project)
	if len(project.Tareas) != 1 || project.TareasTotales != 1 {
		t.Fatalf("unexpected project after add task: %+v", project)
	}
	if project.Tareas[0].Creador != "Ana" {
		t.Fatalf("creador must default to the actor, got %q", project.Tareas[0].Creador)
	}
	tid := strconv.FormatInt(project.Tareas[0].ID, 10)

	w = doJSON(t, srv, http.MethodPost, "/api/projects/"+pid+"/tasks/"+tid+"/toggle", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status %d", w.Code)
	}
	decode(t, w, &project)
	if project.Progreso != 100 {
		t.Fatalf("expected 100%% after completing the only task, got %d", project.Progreso)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/tasks", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list tasks status %d", w.Code)
	}
	var tasks []model.TaskView
	decode(t, w, &tasks)
	if len(tasks) != 1 || tasks[0].ProjectName != "Tesis" {
		t.Fatalf("unexpected flattened tasks: %+v", tasks)
	}

	// 项目创建时合成的交付事件可见
	w = doJSON(t, srv, http.MethodGet, "/api/events", token, "")
	var events []model.Event
	decode(t, w, &events)
	if len(events) != 1 || events[0].Title != "Entrega: Tesis" {
		t.Fatalf("unexpected events: %+v", events)
	}

	w = doJSON(t, srv, http.MethodDelete, "/api/projects/"+pid, token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/projects/"+pid, token, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestServer_OwnershipAndCollaboration(t *testing.T) {
	srv := newTestServer(t)
	owner := registerAndLogin(t, srv, "Ana", "ana@uni.edu")
	guest := registerAndLogin(t, srv, "Luis", "luis@uni.edu")

	w := doJSON(t, srv, http.MethodPost, "/api/projects", owner, `{"nombre":"Compartido"}`)
	var project model.Project
	decode(t, w, &project)
	pid := strconv.FormatInt(project.ID, 10)

	// 非协作者既看不到也改不了
	w = doJSON(t, srv, http.MethodGet, "/api/projects", guest, "")
	var visible []model.Project
	decode(t, w, &visible)
	if len(visible) != 0 {
		t.Fatalf("guest must see no projects, got %d", len(visible))
	}
	w = doJSON(t, srv, http.MethodPatch, "/api/projects/"+pid, guest, `{"nombre":"Robado"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-owner patch must be 403, got %d", w.Code)
	}

	// 所有者按邮箱邀请协作者
	w = doJSON(t, srv, http.MethodPost, "/api/projects/"+pid+"/collaborators", owner, `{"email":"luis@uni.edu"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add collaborator status %d: %s", w.Code, w.Body.String())
	}
	w = doJSON(t, srv, http.MethodPost, "/api/projects/"+pid+"/collaborators", owner, `{"email":"nadie@uni.edu"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown email must be 404, got %d", w.Code)
	}

	// 协作者可见、可加任务，但不能删项目也不能管理协作者
	w = doJSON(t, srv, http.MethodGet, "/api/projects", guest, "")
	decode(t, w, &visible)
	if len(visible) != 1 {
		t.Fatalf("collaborator must see the shared project, got %d", len(visible))
	}
	w = doJSON(t, srv, http.MethodPost, "/api/projects/"+pid+"/tasks", guest, `{"nombre":"Aporte"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("collaborator add task status %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodDelete, "/api/projects/"+pid, guest, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("collaborator delete must be 403, got %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodDelete, "/api/projects/"+pid+"/collaborators/999", guest, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("collaborator managing members must be 403, got %d", w.Code)
	}
}

func TestServer_ProfileUpdate(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "Ana", "ana@uni.edu")

	w := doJSON(t, srv, http.MethodPatch, "/api/users/me", token,
		`{"carrera":"Ingeniería","semestre":"6"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update status %d: %s", w.Code, w.Body.String())
	}
	var user model.User
	decode(t, w, &user)
	if user.Carrera != "Ingeniería" || user.Semestre != "6" {
		t.Fatalf("unexpected profile: %+v", user)
	}
	if user.Password != "" {
		t.Fatal("password must never be serialized in responses")
	}

	w = doJSON(t, srv, http.MethodPut, "/api/users/me/avatar", token,
		`{"avatar":"data:image/png;base64,abc"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("avatar status %d", w.Code)
	}

	// 资料变更同步进会话投影
	w = doJSON(t, srv, http.MethodGet, "/api/auth/me", token, "")
	var sess model.Session
	decode(t, w, &sess)
	if sess.Carrera != "Ingeniería" || sess.Avatar == "" {
		t.Fatalf("session not synced: %+v", sess)
	}
}

func TestServer_CreateEvent(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "Ana", "ana@uni.edu")

	w := doJSON(t, srv, http.MethodPost, "/api/events", token,
		`{"title":"Parcial de redes","date":"2026-09-15","time":"10:00","type":"examen"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create event status %d: %s", w.Code, w.Body.String())
	}
	var ev model.Event
	decode(t, w, &ev)
	if ev.ID == 0 || ev.Type != model.EventTypeExamen {
		t.Fatalf("unexpected event: %+v", ev)
	}

	// 缺 type 时退回 tarea
	w = doJSON(t, srv, http.MethodPost, "/api/events", token,
		`{"title":"Leer paper","date":"2026-09-16"}`)
	decode(t, w, &ev)
	if ev.Type != model.EventTypeTarea {
		t.Fatalf("expected default type tarea, got %q", ev.Type)
	}

	w = doJSON(t, srv, http.MethodGet, "/api/events", token, "")
	var events []model.Event
	decode(t, w, &events)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestServer_ChangeFeedDeliversNotification(t *testing.T) {
	srv := newTestServer(t)
	token := registerAndLogin(t, srv, "Ana", "ana@uni.edu")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/changes", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.router.ServeHTTP(w, req)
	}()

	// 等订阅建立后触发一次数据变更
	deadline := time.Now().Add(2 * time.Second)
	for srv.changes.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	doJSON(t, srv, http.MethodPost, "/api/projects", token, `{"nombre":"Notifica"}`)

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	if !strings.Contains(w.Body.String(), "change") {
		t.Fatalf("no change event in stream: %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); !strings.Contains(got, "text/event-stream") {
		t.Fatalf("unexpected content type %q", got)
	}
}
