package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Moises833/StudyHub/internal/api/auth"
	"github.com/Moises833/StudyHub/internal/api/middleware"
	"github.com/Moises833/StudyHub/internal/api/scheduler"
	"github.com/Moises833/StudyHub/internal/bus"
	"github.com/Moises833/StudyHub/internal/config"
	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/pkg/metrics"
	"github.com/Moises833/StudyHub/internal/pkg/notify"
	"github.com/Moises833/StudyHub/internal/pkg/ratelimit"
	"github.com/Moises833/StudyHub/internal/store"
	"github.com/Moises833/StudyHub/internal/tabguard"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有数据库连接、Redis 客户端、KV 存储层以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *gorm.DB
	rdb      *redis.Client
	router   *gin.Engine
	users    *store.Auth
	projects *store.Projects
	changes  *bus.Bus
	guard    *tabguard.Guard
	auth     *auth.Handler
	limiter  *ratelimit.Limiter
	sched    *scheduler.Scheduler
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 数据库并执行自动迁移（usuarios 表）
// 2. 连接 Redis 并建立 KV 存储层
// 3. 初始化调度器与限流器
// 4. 初始化 Gin 路由引擎
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象
//	logger: 日志记录器
//	guard: 单实例守卫（可为 nil，测试时不启用）
//
// 返回值:
//
//	*Server: 初始化完成的服务器实例
//	error: 初始化失败返回错误
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger, guard *tabguard.Guard) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&model.Account{}); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	kv, err := store.NewRedisKV(rdb)
	if err != nil {
		return nil, err
	}

	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)

	changes := bus.New()
	users := store.NewAuth(kv, changes, logger)
	projects := store.NewProjects(kv, changes, logger)

	sched := scheduler.NewScheduler(
		projects,
		users,
		rdb,
		logger,
		emailNotifier,
		cfg.App.ReminderInterval,
		cfg.App.ReminderWindow,
		cfg.App.ReminderWorkers,
		cfg.App.ReminderCapacity,
	)

	limiter := ratelimit.New(rdb, cfg.App.RateLimitWindow, cfg.App.RateLimitMax)

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		users:    users,
		projects: projects,
		changes:  changes,
		guard:    guard,
		auth:     auth.NewHandler(db, emailNotifier, logger),
		limiter:  limiter,
		sched:    sched,
	}
	s.registerRoutes()
	return s, nil
}

// Run 启动 HTTP 服务器并开始监听请求。
func (s *Server) Run() error {
	s.StartScheduler(context.Background())

	s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
	return s.router.Run(s.cfg.App.HTTPAddr)
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Users 返回 KV 用户存储，供启动期写入演示数据。
func (s *Server) Users() *store.Auth {
	return s.users
}

// Projects 返回 KV 项目存储。
func (s *Server) Projects() *store.Projects {
	return s.projects
}

// StartScheduler 启动事件提醒调度器。
func (s *Server) StartScheduler(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in reminder scheduler", slog.Any("panic", r))
			}
		}()
		s.sched.Run(ctx)
	}()
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "StudyHub API is running")
	})

	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)
	s.router.GET("/api/test-db", s.handleTestDB)

	// 加固版注册接口，带 IP 限流
	public := s.router.Group("/api")
	public.Use(middleware.RateLimit(s.limiter, s.logger))
	public.POST("/register", s.auth.Register)
	public.POST("/login", s.auth.Login)
	public.POST("/verify", s.auth.VerifyEmail)
	public.POST("/resend", s.auth.ResendCode)

	// KV 路径的应用内认证
	s.router.POST("/api/auth/register", s.handleAppRegister)
	s.router.POST("/api/auth/login", s.handleAppLogin)

	authed := s.router.Group("/api")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/auth/logout", s.handleLogout)
	authed.GET("/auth/me", s.handleMe)

	authed.GET("/users", s.handleListUsers)
	authed.PATCH("/users/me", s.handleUpdateMe)
	authed.PUT("/users/me/avatar", s.handleSetAvatar)

	authed.GET("/projects", s.handleListProjects)
	authed.POST("/projects", s.handleCreateProject)
	authed.GET("/projects/:id", s.handleGetProject)
	authed.PATCH("/projects/:id", s.handleUpdateProject)
	authed.DELETE("/projects/:id", s.handleDeleteProject)

	authed.POST("/projects/:id/tasks", s.handleAddTask)
	authed.POST("/projects/:id/tasks/:taskId/toggle", s.handleToggleTask)
	authed.DELETE("/projects/:id/tasks/:taskId", s.handleDeleteTask)

	authed.POST("/projects/:id/collaborators", s.handleAddCollaborator)
	authed.DELETE("/projects/:id/collaborators/:userId", s.handleRemoveCollaborator)

	authed.POST("/projects/:id/files", s.handleAddFile)

	authed.GET("/tasks", s.handleListTasks)

	authed.GET("/events", s.handleListEvents)
	authed.POST("/events", s.handleCreateEvent)

	authed.GET("/changes", s.handleChanges)

	authed.GET("/lock", s.handleLockStatus)
	authed.POST("/lock/takeover", s.handleLockTakeover)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleTestDB 验证数据库连通性，返回数据库当前时间。
func (s *Server) handleTestDB(c *gin.Context) {
	var now time.Time
	if err := s.db.WithContext(c.Request.Context()).Raw("SELECT NOW()").Scan(&now).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Error conectando a la base de datos"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "time": now})
}

// appRegisterRequest KV 路径注册请求。
type appRegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type appLoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// handleAppRegister 在 KV 用户列表中创建用户。
//
// 注册不会建立会话，客户端需要随后调用登录接口。
func (s *Server) handleAppRegister(c *gin.Context) {
	var req appRegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user, err := s.users.Register(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, user)
}

// handleAppLogin 校验 KV 用户并签发 JWT。
func (s *Server) handleAppLogin(c *gin.Context) {
	var req appLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sess, err := s.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	token, err := s.issueToken(sess)
	if err != nil {
		s.logger.Error("sign token failed", slog.String("email", sess.Email), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sign token failed"})
		return
	}

	s.logger.Info("user logged in", slog.String("email", sess.Email))
	c.JSON(http.StatusOK, gin.H{"token": token, "user": sess})
}

func (s *Server) issueToken(sess *model.Session) (string, error) {
	claims := middleware.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(sess.ID, 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Name:  sess.Name,
		Email: sess.Email,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.Security.JWTSecret))
}

// handleLogout 清除当前会话。
func (s *Server) handleLogout(c *gin.Context) {
	s.users.Logout(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// handleMe 返回当前活跃会话。
func (s *Server) handleMe(c *gin.Context) {
	sess := s.users.CurrentUser(c.Request.Context())
	if sess == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no hay sesión activa"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

// handleListUsers 返回所有用户（不含密码），用于协作者选择。
func (s *Server) handleListUsers(c *gin.Context) {
	users := s.users.AllUsers(c.Request.Context())
	out := make([]model.User, 0, len(users))
	for _, u := range users {
		u.Password = ""
		out = append(out, u)
	}
	c.JSON(http.StatusOK, out)
}

type updateMeRequest struct {
	Name        *string `json:"name"`
	Password    *string `json:"password"`
	Avatar      *string `json:"avatar"`
	Telefono    *string `json:"telefono"`
	Universidad *string `json:"universidad"`
	Carrera     *string `json:"carrera"`
	Semestre    *string `json:"semestre"`
	Bio         *string `json:"bio"`
}

// handleUpdateMe 更新当前用户资料。
func (s *Server) handleUpdateMe(c *gin.Context) {
	var req updateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	upd := store.UserUpdate{
		Name:        req.Name,
		Password:    req.Password,
		Avatar:      req.Avatar,
		Telefono:    req.Telefono,
		Universidad: req.Universidad,
		Carrera:     req.Carrera,
		Semestre:    req.Semestre,
		Bio:         req.Bio,
	}
	user := s.users.UpdateUser(c.Request.Context(), getUserID(c), upd)
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "usuario no encontrado"})
		return
	}
	user.Password = ""
	c.JSON(http.StatusOK, user)
}

type setAvatarRequest struct {
	Avatar string `json:"avatar" binding:"required"`
}

// handleSetAvatar 更新当前用户头像。
func (s *Server) handleSetAvatar(c *gin.Context) {
	var req setAvatarRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := s.users.SetAvatar(c.Request.Context(), getUserID(c), req.Avatar)
	if user == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "usuario no encontrado"})
		return
	}
	user.Password = ""
	c.JSON(http.StatusOK, user)
}

// handleListProjects 返回当前用户可见的项目（所有者或协作者）。
func (s *Server) handleListProjects(c *gin.Context) {
	projects := s.projects.ProjectsByUser(c.Request.Context(), getUserID(c))
	c.JSON(http.StatusOK, projects)
}

type createProjectRequest struct {
	Nombre       string `json:"nombre" binding:"required"`
	Descripcion  string `json:"descripcion"`
	Estado       string `json:"estado"`
	FechaEntrega string `json:"fechaEntrega"`
}

// handleCreateProject 创建项目并生成对应的交付日历事件。
func (s *Server) handleCreateProject(c *gin.Context) {
	var req createProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project := s.projects.CreateProject(c.Request.Context(), store.ProjectInput{
		UserID:       getUserID(c),
		Nombre:       strings.TrimSpace(req.Nombre),
		Descripcion:  req.Descripcion,
		Estado:       req.Estado,
		FechaEntrega: req.FechaEntrega,
	})
	c.JSON(http.StatusCreated, project)
}

func (s *Server) handleGetProject(c *gin.Context) {
	project, ok := s.loadAccessibleProject(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, project)
}

// handleUpdateProject 部分更新项目，只有所有者可以修改。
func (s *Server) handleUpdateProject(c *gin.Context) {
	project, ok := s.loadOwnedProject(c)
	if !ok {
		return
	}

	var upd store.ProjectUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated := s.projects.UpdateProject(c.Request.Context(), project.ID, upd)
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// handleDeleteProject 删除项目，只有所有者可以删除。
func (s *Server) handleDeleteProject(c *gin.Context) {
	project, ok := s.loadOwnedProject(c)
	if !ok {
		return
	}

	s.projects.DeleteProject(c.Request.Context(), project.ID)
	c.JSON(http.StatusOK, gin.H{"deleted": project.ID})
}

type addTaskRequest struct {
	Nombre      string `json:"nombre" binding:"required"`
	Descripcion string `json:"descripcion"`
	Creador     string `json:"creador"`
}

// handleAddTask 向项目追加任务并重算进度。
func (s *Server) handleAddTask(c *gin.Context) {
	project, ok := s.loadAccessibleProject(c)
	if !ok {
		return
	}

	var req addTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	creador := req.Creador
	if creador == "" {
		creador = c.GetString("userName")
	}

	updated := s.projects.AddTask(c.Request.Context(), project.ID, store.TaskInput{
		Nombre:      strings.TrimSpace(req.Nombre),
		Descripcion: req.Descripcion,
		Creador:     creador,
	})
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusCreated, updated)
}

// handleToggleTask 翻转任务完成状态。
func (s *Server) handleToggleTask(c *gin.Context) {
	project, ok := s.loadAccessibleProject(c)
	if !ok {
		return
	}
	taskID, err := parseID(c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	updated := s.projects.ToggleTask(c.Request.Context(), project.ID, taskID)
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleDeleteTask(c *gin.Context) {
	project, ok := s.loadAccessibleProject(c)
	if !ok {
		return
	}
	taskID, err := parseID(c.Param("taskId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	updated := s.projects.DeleteTask(c.Request.Context(), project.ID, taskID)
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

type addCollaboratorRequest struct {
	Email string `json:"email" binding:"required"`
}

// handleAddCollaborator 按邮箱查找用户并加入项目协作者。
//
// 协作者记录是加入时刻的快照，之后用户改名不会同步。
func (s *Server) handleAddCollaborator(c *gin.Context) {
	project, ok := s.loadOwnedProject(c)
	if !ok {
		return
	}

	var req addCollaboratorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var target *model.User
	for _, u := range s.users.AllUsers(c.Request.Context()) {
		if u.Email == req.Email {
			target = &u
			break
		}
	}
	if target == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "usuario no encontrado"})
		return
	}

	updated := s.projects.AddCollaborator(c.Request.Context(), project.ID, model.Collaborator{
		ID:    target.ID,
		Name:  target.Name,
		Email: target.Email,
	})
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *Server) handleRemoveCollaborator(c *gin.Context) {
	project, ok := s.loadOwnedProject(c)
	if !ok {
		return
	}
	userID, err := parseID(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	updated := s.projects.RemoveCollaborator(c.Request.Context(), project.ID, userID)
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

type addFileRequest struct {
	Nombre string `json:"nombre" binding:"required"`
	Tipo   string `json:"tipo"`
	Size   int64  `json:"size"`
	Data   string `json:"data"`
}

// handleAddFile 在项目上登记交付文件。
func (s *Server) handleAddFile(c *gin.Context) {
	project, ok := s.loadAccessibleProject(c)
	if !ok {
		return
	}

	var req addFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated := s.projects.AddProjectFile(c.Request.Context(), project.ID, model.ProjectFile{
		Nombre: req.Nombre,
		Tipo:   req.Tipo,
		Size:   req.Size,
		Data:   req.Data,
	})
	if updated == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return
	}
	c.JSON(http.StatusCreated, updated)
}

// handleListTasks 返回当前用户可见项目的全部任务（扁平化）。
func (s *Server) handleListTasks(c *gin.Context) {
	tasks := s.projects.AllTasksByUser(c.Request.Context(), getUserID(c))
	c.JSON(http.StatusOK, tasks)
}

// handleListEvents 返回当前用户可见的日历事件。
func (s *Server) handleListEvents(c *gin.Context) {
	events := s.projects.EventsByUser(c.Request.Context(), getUserID(c))
	c.JSON(http.StatusOK, events)
}

type createEventRequest struct {
	Title     string `json:"title" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Time      string `json:"time"`
	Type      string `json:"type"`
	ProjectID int64  `json:"projectId"`
}

// handleCreateEvent 创建日历事件。
func (s *Server) handleCreateEvent(c *gin.Context) {
	var req createEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	evType := req.Type
	if evType == "" {
		evType = model.EventTypeTarea
	}

	ev := s.projects.AddEvent(c.Request.Context(), model.Event{
		Title:     strings.TrimSpace(req.Title),
		Date:      req.Date,
		Time:      req.Time,
		Type:      evType,
		ProjectID: req.ProjectID,
		UserID:    getUserID(c),
	})
	c.JSON(http.StatusCreated, ev)
}

// handleChanges 以 SSE 推送数据变更通知。
//
// 通知不携带负载，客户端收到后应重新拉取所需数据。
func (s *Server) handleChanges(c *gin.Context) {
	ch, cancel := s.changes.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-ch:
			fmt.Fprint(c.Writer, "event: change\ndata: {}\n\n")
			c.Writer.Flush()
		case <-keepalive.C:
			fmt.Fprint(c.Writer, ": ping\n\n")
			c.Writer.Flush()
		}
	}
}

// handleLockStatus 返回当前实例锁信息。
func (s *Server) handleLockStatus(c *gin.Context) {
	if s.guard == nil {
		c.JSON(http.StatusOK, gin.H{"enabled": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": true, "instanceId": s.guard.InstanceID()})
}

// handleLockTakeover 强制接管实例锁。
func (s *Server) handleLockTakeover(c *gin.Context) {
	if s.guard == nil {
		c.JSON(http.StatusOK, gin.H{"takeover": false})
		return
	}
	if err := s.guard.ForceTakeover(c.Request.Context()); err != nil {
		s.logger.Error("force takeover failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "takeover failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"takeover": true})
}

// loadAccessibleProject 加载路径参数指定的项目并校验可见性。
//
// 失败时已写入响应，调用方直接返回即可。
func (s *Server) loadAccessibleProject(c *gin.Context) (*model.Project, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return nil, false
	}
	project := s.projects.ProjectByID(c.Request.Context(), id)
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return nil, false
	}
	if !canAccess(project, getUserID(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "sin acceso al proyecto"})
		return nil, false
	}
	return project, true
}

// loadOwnedProject 加载项目并校验当前用户是所有者。
func (s *Server) loadOwnedProject(c *gin.Context) (*model.Project, bool) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid project id"})
		return nil, false
	}
	project := s.projects.ProjectByID(c.Request.Context(), id)
	if project == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "proyecto no encontrado"})
		return nil, false
	}
	if project.UserID != getUserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "solo el propietario puede hacer esto"})
		return nil, false
	}
	return project, true
}

func canAccess(project *model.Project, userID int64) bool {
	if project.UserID == userID {
		return true
	}
	for _, col := range project.Colaboradores {
		if col.ID == userID {
			return true
		}
	}
	return false
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func getUserID(c *gin.Context) int64 {
	return c.GetInt64("userID")
}
