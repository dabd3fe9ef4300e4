package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Moises833/StudyHub/internal/bus"
	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/pkg/metrics"
)

var (
	// ErrUserExists 注册时邮箱已被占用。
	ErrUserExists = errors.New("el usuario ya existe")
	// ErrInvalidCredentials 登录凭据不匹配。
	//
	// 未知邮箱和密码错误返回同一个错误，不区分。
	ErrInvalidCredentials = errors.New("credenciales inválidas")
)

// UserUpdate 是 UpdateUser 的部分字段集合，nil 字段不修改。
type UserUpdate struct {
	Name        *string
	Password    *string
	Avatar      *string
	Telefono    *string
	Universidad *string
	Carrera     *string
	Semestre    *string
	Bio         *string
}

// Auth 管理 KV 存储中的用户集合与当前会话。
type Auth struct {
	kv     KV
	bus    *bus.Bus
	logger *slog.Logger

	mu  sync.Mutex // 串行化 读全量-改-写全量 循环
	ids seq
}

// NewAuth 创建用户存储。
func NewAuth(kv KV, b *bus.Bus, logger *slog.Logger) *Auth {
	return &Auth{kv: kv, bus: b, logger: logger}
}

// Register 注册新用户。
//
// 邮箱与已有用户精确匹配（区分大小写）时返回 ErrUserExists，
// 否则追加一条新记录并持久化整个用户集合。
// 注册不会自动登录。
func (a *Auth) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.readUsers(ctx)
	for _, u := range users {
		if u.Email == email {
			return nil, ErrUserExists
		}
	}

	user := model.User{
		ID:        a.ids.Next(),
		Name:      name,
		Email:     email,
		Password:  password,
		CreatedAt: time.Now(),
	}
	users = append(users, user)
	a.writeUsers(ctx, users)

	metrics.StoreMutationsTotal.WithLabelValues("register").Inc()
	return &user, nil
}

// Login 校验凭据并写入会话投影。
//
// 邮箱和密码都精确匹配才算命中；不命中返回 ErrInvalidCredentials。
func (a *Auth) Login(ctx context.Context, email, password string) (*model.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, u := range a.readUsers(ctx) {
		if u.Email == email && u.Password == password {
			sess := model.Session{
				ID:     u.ID,
				Name:   u.Name,
				Email:  u.Email,
				Avatar: u.Avatar,
			}
			a.writeSession(ctx, &sess)
			return &sess, nil
		}
	}
	return nil, ErrInvalidCredentials
}

// Logout 清除会话。对用户集合没有影响。
func (a *Auth) Logout(ctx context.Context) {
	if err := a.kv.Del(ctx, KeyCurrentUser); err != nil {
		a.logger.Warn("clear session failed", slog.String("error", err.Error()))
	}
}

// CurrentUser 返回当前会话，未登录时返回 nil。
func (a *Auth) CurrentUser(ctx context.Context) *model.Session {
	raw, ok, err := a.kv.Get(ctx, KeyCurrentUser)
	if err != nil {
		a.logger.Warn("read session failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		a.logger.Warn("parse session failed", slog.String("error", err.Error()))
		return nil
	}
	return &sess
}

// AllUsers 返回全部用户（协作者按邮箱查找用的就是这份全量扫描）。
func (a *Auth) AllUsers(ctx context.Context) []model.User {
	return a.readUsers(ctx)
}

// UpdateUser 把部分字段合并进指定用户。
//
// 如果命中的是当前会话用户，会话投影也会同步合并。
// 找不到用户时返回 nil。变更后发布通知。
func (a *Auth) UpdateUser(ctx context.Context, id int64, upd UserUpdate) *model.User {
	a.mu.Lock()
	defer a.mu.Unlock()

	users := a.readUsers(ctx)
	idx := -1
	for i := range users {
		if users[i].ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	u := &users[idx]
	applyString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	applyString(&u.Name, upd.Name)
	applyString(&u.Password, upd.Password)
	applyString(&u.Avatar, upd.Avatar)
	applyString(&u.Telefono, upd.Telefono)
	applyString(&u.Universidad, upd.Universidad)
	applyString(&u.Carrera, upd.Carrera)
	applyString(&u.Semestre, upd.Semestre)
	applyString(&u.Bio, upd.Bio)

	a.writeUsers(ctx, users)

	if sess := a.CurrentUser(ctx); sess != nil && sess.ID == id {
		sess.Name = u.Name
		sess.Avatar = u.Avatar
		sess.Telefono = u.Telefono
		sess.Universidad = u.Universidad
		sess.Carrera = u.Carrera
		sess.Semestre = u.Semestre
		sess.Bio = u.Bio
		a.writeSession(ctx, sess)
	}

	metrics.StoreMutationsTotal.WithLabelValues("update_user").Inc()
	a.bus.Publish()
	metrics.ChangeNotificationsTotal.Inc()

	out := users[idx]
	return &out
}

// SetAvatar 是 UpdateUser 针对头像字段的便捷包装。
func (a *Auth) SetAvatar(ctx context.Context, id int64, avatar string) *model.User {
	return a.UpdateUser(ctx, id, UserUpdate{Avatar: &avatar})
}

// readUsers 读取用户集合。读失败或解析失败时记日志并按空集合处理。
func (a *Auth) readUsers(ctx context.Context) []model.User {
	raw, ok, err := a.kv.Get(ctx, KeyUsers)
	if err != nil {
		a.logger.Warn("read users failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var users []model.User
	if err := json.Unmarshal([]byte(raw), &users); err != nil {
		a.logger.Warn("parse users failed", slog.String("error", err.Error()))
		return nil
	}
	return users
}

// writeUsers 持久化用户集合。失败时记日志后吞掉，
// 内存中已应用的状态可能领先于实际落盘的数据。
func (a *Auth) writeUsers(ctx context.Context, users []model.User) {
	data, err := json.Marshal(users)
	if err != nil {
		a.logger.Error("marshal users failed", slog.String("error", err.Error()))
		return
	}
	if err := a.kv.Set(ctx, KeyUsers, string(data)); err != nil {
		a.logger.Error("write users failed", slog.String("error", err.Error()))
	}
}

func (a *Auth) writeSession(ctx context.Context, sess *model.Session) {
	data, err := json.Marshal(sess)
	if err != nil {
		a.logger.Error("marshal session failed", slog.String("error", err.Error()))
		return
	}
	if err := a.kv.Set(ctx, KeyCurrentUser, string(data)); err != nil {
		a.logger.Error("write session failed", slog.String("error", err.Error()))
	}
}
