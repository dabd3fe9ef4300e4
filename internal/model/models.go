package model

import "time"

// Project 的 estado 取值。
//
// 状态机完全由用户驱动，任意状态之间可以互相切换，存储层不做限制。
const (
	EstadoActivo     = "activo"
	EstadoPausado    = "pausado"
	EstadoCompletado = "completado"
)

// Event 的 type 取值。
const (
	EventTypeTarea        = "tarea"
	EventTypeProyecto     = "proyecto"
	EventTypeExamen       = "examen"
	EventTypeReunion      = "reunion"
	EventTypePresentacion = "presentacion"
)

// User 表示 KV 存储中的用户记录（studyhub_users 集合）。
//
// 注意：KV 路径下密码以明文保存，这是被记录在案的原始行为；
// 走 HTTP 注册接口的账号（model.Account）才会做 bcrypt 哈希。
type User struct {
	ID        int64     `json:"id"`               // 毫秒级整数 ID
	Name      string    `json:"name"`             // 显示名
	Email     string    `json:"email"`            // 邮箱（通过全量扫描保证唯一）
	Password  string    `json:"password"`         // 明文密码
	Avatar    string    `json:"avatar,omitempty"` // 头像（data URI 或 URL）
	CreatedAt time.Time `json:"createdAt"`        // 创建时间

	// 个人资料字段
	Telefono    string `json:"telefono,omitempty"`
	Universidad string `json:"universidad,omitempty"`
	Carrera     string `json:"carrera,omitempty"`
	Semestre    string `json:"semestre,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// Session 是 User 的精简投影（studyhub_current_user 键）。
//
// 登录时写入，注销时清除；它是"当前操作者"的唯一凭据。
// UpdateUser 命中当前会话用户时会把资料字段合并进来。
type Session struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Avatar string `json:"avatar,omitempty"`

	Telefono    string `json:"telefono,omitempty"`
	Universidad string `json:"universidad,omitempty"`
	Carrera     string `json:"carrera,omitempty"`
	Semestre    string `json:"semestre,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// Project 表示一个学业项目（studyhub_projects 集合的元素）。
//
// 任务内嵌在项目里，没有独立身份；协作者是添加时刻的用户快照，
// 之后用户改名/换邮箱不会回写（快照语义，见 DESIGN.md）。
type Project struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"` // 项目所有者
	Nombre        string    `json:"nombre"`
	Descripcion   string    `json:"descripcion,omitempty"`
	Estado        string    `json:"estado"`                  // activo / pausado / completado
	FechaCreacion string    `json:"fechaCreacion,omitempty"` // YYYY-MM-DD
	FechaEntrega  string    `json:"fechaEntrega,omitempty"`  // YYYY-MM-DD
	CreatedAt     time.Time `json:"createdAt"`

	// 派生计数，每次任务变更后重算
	Progreso          int `json:"progreso"`          // 0-100
	TareasCompletadas int `json:"tareasCompletadas"` // 已完成任务数
	TareasTotales     int `json:"tareasTotales"`     // 任务总数

	Tareas        []Task         `json:"tareas"`
	Colaboradores []Collaborator `json:"colaboradores"`
	Files         []ProjectFile  `json:"files,omitempty"`
}

// Task 表示项目内嵌的一条待办任务。
type Task struct {
	ID          int64     `json:"id"`
	Nombre      string    `json:"nombre"`
	Descripcion string    `json:"descripcion,omitempty"`
	Creador     string    `json:"creador,omitempty"` // 创建者显示名快照
	Completada  bool      `json:"completada"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Collaborator 是项目协作者的反规范化快照。
type Collaborator struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ProjectFile 表示项目文件的元数据，小文件（≤1MB）内容内嵌为 data URI。
type ProjectFile struct {
	ID        int64     `json:"id"`
	Nombre    string    `json:"nombre"`
	Tipo      string    `json:"tipo,omitempty"` // MIME 类型
	Size      int64     `json:"size"`
	Data      string    `json:"data,omitempty"` // data URI，仅小文件
	CreatedAt time.Time `json:"createdAt"`
}

// Event 表示一条日历事件（studyhub_events 集合的元素）。
//
// 事件要么由用户直接创建，要么在创建项目时自动合成一条
// type=proyecto、日期取 fechaEntrega 的事件。
// 事件与项目之间没有强制的引用完整性：删除项目不会级联删除事件。
type Event struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Date      string `json:"date"` // YYYY-MM-DD
	Time      string `json:"time,omitempty"`
	Type      string `json:"type"`
	ProjectID int64  `json:"projectId,omitempty"`
	UserID    int64  `json:"userId,omitempty"`
}

// TaskView 是跨项目拉平后的任务视图。
//
// ProjectUserID 专门用于让调用方区分"自己项目的任务"和
// "参与协作项目的任务"。
type TaskView struct {
	Task

	ProjectID     int64  `json:"projectId"`
	ProjectName   string `json:"projectName"`
	ProjectStatus string `json:"projectStatus"`
	ProjectUserID int64  `json:"projectUserId"`
}
