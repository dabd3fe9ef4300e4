package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Moises833/StudyHub/internal/bus"
	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/pkg/metrics"
)

// maxEmbeddedFileSize 超过这个大小的文件只保留元数据，不内嵌内容。
const maxEmbeddedFileSize = 1 << 20 // 1MB

// ProjectInput 是 CreateProject 的输入。
type ProjectInput struct {
	UserID       int64
	Nombre       string
	Descripcion  string
	Estado       string
	FechaEntrega string // YYYY-MM-DD，可为空
}

// TaskInput 是 AddTask 的输入。
type TaskInput struct {
	Nombre      string
	Descripcion string
	Creador     string // 创建者显示名快照
}

// ProjectUpdate 是 UpdateProject 的部分字段集合，nil 字段不修改。
//
// 注意：UpdateProject 不重算派生计数，调用方改状态时要自己
// 传入一致的派生字段。
type ProjectUpdate struct {
	Nombre            *string `json:"nombre"`
	Descripcion       *string `json:"descripcion"`
	Estado            *string `json:"estado"`
	FechaEntrega      *string `json:"fechaEntrega"`
	Progreso          *int    `json:"progreso"`
	TareasCompletadas *int    `json:"tareasCompletadas"`
	TareasTotales     *int    `json:"tareasTotales"`
}

// Projects 管理项目（含内嵌任务/协作者/文件）和独立的事件集合。
//
// 每个变更操作都会整体重写受影响的集合并发布一次变更通知。
// 存储层不做所有权校验：拿到项目 ID 的调用方就能改它，
// 权限控制是 API 层的事。
type Projects struct {
	kv     KV
	bus    *bus.Bus
	logger *slog.Logger

	mu  sync.Mutex
	ids seq
}

// NewProjects 创建项目存储。
func NewProjects(kv KV, b *bus.Bus, logger *slog.Logger) *Projects {
	return &Projects{kv: kv, bus: b, logger: logger}
}

// CreateProject 创建项目并自动合成一条配套的日历事件。
//
// 事件的日期取 fechaEntrega，缺省时退回创建日期；
// 通过 projectId 关联，type 固定为 proyecto。
func (p *Projects) CreateProject(ctx context.Context, in ProjectInput) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	estado := in.Estado
	if estado == "" {
		estado = model.EstadoActivo
	}
	project := model.Project{
		ID:            p.ids.Next(),
		UserID:        in.UserID,
		Nombre:        in.Nombre,
		Descripcion:   in.Descripcion,
		Estado:        estado,
		FechaCreacion: now.Format("2006-01-02"),
		FechaEntrega:  in.FechaEntrega,
		CreatedAt:     now,
		Tareas:        []model.Task{},
		Colaboradores: []model.Collaborator{},
	}

	projects := p.readProjects(ctx)
	projects = append(projects, project)
	p.writeProjects(ctx, projects)

	eventDate := in.FechaEntrega
	if eventDate == "" {
		eventDate = now.Format("2006-01-02")
	}
	events := p.readEvents(ctx)
	events = append(events, model.Event{
		ID:        p.ids.Next(),
		Title:     "Entrega: " + in.Nombre,
		Date:      eventDate,
		Type:      model.EventTypeProyecto,
		ProjectID: project.ID,
		UserID:    in.UserID,
	})
	p.writeEvents(ctx, events)

	metrics.StoreMutationsTotal.WithLabelValues("create_project").Inc()
	p.notify()
	return &project
}

// ProjectsByUser 返回用户拥有或参与协作的全部项目。
func (p *Projects) ProjectsByUser(ctx context.Context, userID int64) []model.Project {
	var out []model.Project
	for _, project := range p.readProjects(ctx) {
		if p.accessible(project, userID) {
			out = append(out, project)
		}
	}
	return out
}

// ProjectByID 按 ID 查找项目，不存在时返回 nil。
func (p *Projects) ProjectByID(ctx context.Context, id int64) *model.Project {
	for _, project := range p.readProjects(ctx) {
		if project.ID == id {
			out := project
			return &out
		}
	}
	return nil
}

// UpdateProject 把部分字段浅合并进项目。
//
// 不重算派生计数。找不到项目时返回 nil。
func (p *Projects) UpdateProject(ctx context.Context, id int64, upd ProjectUpdate) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, id)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	if upd.Nombre != nil {
		project.Nombre = *upd.Nombre
	}
	if upd.Descripcion != nil {
		project.Descripcion = *upd.Descripcion
	}
	if upd.Estado != nil {
		project.Estado = *upd.Estado
	}
	if upd.FechaEntrega != nil {
		project.FechaEntrega = *upd.FechaEntrega
	}
	if upd.Progreso != nil {
		project.Progreso = *upd.Progreso
	}
	if upd.TareasCompletadas != nil {
		project.TareasCompletadas = *upd.TareasCompletadas
	}
	if upd.TareasTotales != nil {
		project.TareasTotales = *upd.TareasTotales
	}

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("update_project").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// DeleteProject 从集合中硬删除项目。
//
// 不级联：项目合成的事件和其他地方的引用保持原样。
func (p *Projects) DeleteProject(ctx context.Context, id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	filtered := projects[:0]
	for _, project := range projects {
		if project.ID != id {
			filtered = append(filtered, project)
		}
	}
	p.writeProjects(ctx, filtered)
	metrics.StoreMutationsTotal.WithLabelValues("delete_project").Inc()
	p.notify()
}

// AddTask 向项目追加一条未完成任务并重算派生计数。
//
// 找不到项目时返回 nil。
func (p *Projects) AddTask(ctx context.Context, projectID int64, in TaskInput) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, projectID)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	project.Tareas = append(project.Tareas, model.Task{
		ID:          p.ids.Next(),
		Nombre:      in.Nombre,
		Descripcion: in.Descripcion,
		Creador:     in.Creador,
		Completada:  false,
		CreatedAt:   time.Now(),
	})
	recalcProgress(project)

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("add_task").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// ToggleTask 翻转任务的完成状态并重算派生计数。
//
// 项目或任务不存在时返回 nil。
func (p *Projects) ToggleTask(ctx context.Context, projectID, taskID int64) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, projectID)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	found := false
	for i := range project.Tareas {
		if project.Tareas[i].ID == taskID {
			project.Tareas[i].Completada = !project.Tareas[i].Completada
			found = true
			break
		}
	}
	if !found {
		return nil
	}
	recalcProgress(project)

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("toggle_task").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// DeleteTask 删除任务并重算派生计数。
//
// 项目不存在时返回 nil；任务不存在时等同于无操作。
func (p *Projects) DeleteTask(ctx context.Context, projectID, taskID int64) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, projectID)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	tareas := project.Tareas[:0]
	for _, t := range project.Tareas {
		if t.ID != taskID {
			tareas = append(tareas, t)
		}
	}
	project.Tareas = tareas
	recalcProgress(project)

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("delete_task").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// AddCollaborator 把用户快照追加为项目协作者。
//
// 同一用户 ID 已在协作者列表时返回 nil（无操作，不报错）。
func (p *Projects) AddCollaborator(ctx context.Context, projectID int64, user model.Collaborator) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, projectID)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	for _, c := range project.Colaboradores {
		if c.ID == user.ID {
			return nil
		}
	}
	project.Colaboradores = append(project.Colaboradores, model.Collaborator{
		ID:    user.ID,
		Name:  user.Name,
		Email: user.Email,
	})

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("add_collaborator").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// RemoveCollaborator 从项目中移除协作者。
func (p *Projects) RemoveCollaborator(ctx context.Context, projectID, userID int64) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, projectID)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	cols := project.Colaboradores[:0]
	for _, c := range project.Colaboradores {
		if c.ID != userID {
			cols = append(cols, c)
		}
	}
	project.Colaboradores = cols

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("remove_collaborator").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// AddProjectFile 追加文件元数据，超过 1MB 的内容不内嵌。
//
// 上传任何文件都会把项目置为 100% 完成——这是原始实现的
// 已记录行为，与任务完成状态无关，按原样保留。
func (p *Projects) AddProjectFile(ctx context.Context, projectID int64, file model.ProjectFile) *model.Project {
	p.mu.Lock()
	defer p.mu.Unlock()

	projects := p.readProjects(ctx)
	idx := p.indexOf(projects, projectID)
	if idx == -1 {
		return nil
	}

	project := &projects[idx]
	file.ID = p.ids.Next()
	file.CreatedAt = time.Now()
	if int64(len(file.Data)) > maxEmbeddedFileSize {
		file.Data = ""
	}
	project.Files = append(project.Files, file)
	project.Progreso = 100

	p.writeProjects(ctx, projects)
	metrics.StoreMutationsTotal.WithLabelValues("add_project_file").Inc()
	p.notify()

	out := projects[idx]
	return &out
}

// AddEvent 追加一条事件并分配 ID。
func (p *Projects) AddEvent(ctx context.Context, ev model.Event) model.Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev.ID = p.ids.Next()
	events := p.readEvents(ctx)
	events = append(events, ev)
	p.writeEvents(ctx, events)

	metrics.StoreMutationsTotal.WithLabelValues("add_event").Inc()
	p.notify()
	return ev
}

// AllEvents 返回全部事件。
func (p *Projects) AllEvents(ctx context.Context) []model.Event {
	return p.readEvents(ctx)
}

// EventsByUser 返回用户可见的事件。
//
// 可见规则：事件直接属于该用户，或者事件挂在一个
// 该用户拥有或参与协作的项目上。
func (p *Projects) EventsByUser(ctx context.Context, userID int64) []model.Event {
	projects := p.readProjects(ctx)
	visible := make(map[int64]bool)
	for _, project := range projects {
		if p.accessible(project, userID) {
			visible[project.ID] = true
		}
	}

	var out []model.Event
	for _, ev := range p.readEvents(ctx) {
		if ev.UserID == userID || (ev.ProjectID != 0 && visible[ev.ProjectID]) {
			out = append(out, ev)
		}
	}
	return out
}

// AllTasksByUser 把用户可见项目的任务拉平成一个列表。
//
// 每条任务都带上项目 ID/名称/状态/所有者，调用方靠
// projectUserId 区分"自己的项目"和"协作的项目"。
func (p *Projects) AllTasksByUser(ctx context.Context, userID int64) []model.TaskView {
	var out []model.TaskView
	for _, project := range p.ProjectsByUser(ctx, userID) {
		for _, t := range project.Tareas {
			out = append(out, model.TaskView{
				Task:          t,
				ProjectID:     project.ID,
				ProjectName:   project.Nombre,
				ProjectStatus: project.Estado,
				ProjectUserID: project.UserID,
			})
		}
	}
	return out
}

// accessible 判断用户是项目所有者还是协作者。
func (p *Projects) accessible(project model.Project, userID int64) bool {
	if project.UserID == userID {
		return true
	}
	for _, c := range project.Colaboradores {
		if c.ID == userID {
			return true
		}
	}
	return false
}

func (p *Projects) indexOf(projects []model.Project, id int64) int {
	for i := range projects {
		if projects[i].ID == id {
			return i
		}
	}
	return -1
}

// recalcProgress 重算派生计数。
//
// 不变式：tareasCompletadas == 已完成任务数，
// progreso == round(100*completadas/totales)，无任务时为 0。
func recalcProgress(project *model.Project) {
	total := len(project.Tareas)
	done := 0
	for _, t := range project.Tareas {
		if t.Completada {
			done++
		}
	}
	project.TareasTotales = total
	project.TareasCompletadas = done
	if total == 0 {
		project.Progreso = 0
	} else {
		project.Progreso = int(math.Round(float64(done) / float64(total) * 100))
	}
}

func (p *Projects) notify() {
	p.bus.Publish()
	metrics.ChangeNotificationsTotal.Inc()
}

// readProjects 读取项目集合。读失败或解析失败时记日志并按空集合处理。
func (p *Projects) readProjects(ctx context.Context) []model.Project {
	raw, ok, err := p.kv.Get(ctx, KeyProjects)
	if err != nil {
		p.logger.Warn("read projects failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var projects []model.Project
	if err := json.Unmarshal([]byte(raw), &projects); err != nil {
		p.logger.Warn("parse projects failed", slog.String("error", err.Error()))
		return nil
	}
	return projects
}

func (p *Projects) writeProjects(ctx context.Context, projects []model.Project) {
	data, err := json.Marshal(projects)
	if err != nil {
		p.logger.Error("marshal projects failed", slog.String("error", err.Error()))
		return
	}
	if err := p.kv.Set(ctx, KeyProjects, string(data)); err != nil {
		p.logger.Error("write projects failed", slog.String("error", err.Error()))
	}
}

func (p *Projects) readEvents(ctx context.Context) []model.Event {
	raw, ok, err := p.kv.Get(ctx, KeyEvents)
	if err != nil {
		p.logger.Warn("read events failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var events []model.Event
	if err := json.Unmarshal([]byte(raw), &events); err != nil {
		p.logger.Warn("parse events failed", slog.String("error", err.Error()))
		return nil
	}
	return events
}

func (p *Projects) writeEvents(ctx context.Context, events []model.Event) {
	data, err := json.Marshal(events)
	if err != nil {
		p.logger.Error("marshal events failed", slog.String("error", err.Error()))
		return
	}
	if err := p.kv.Set(ctx, KeyEvents, string(data)); err != nil {
		p.logger.Error("write events failed", slog.String("error", err.Error()))
	}
}
