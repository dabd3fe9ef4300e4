package api

import (
	"context"
	"log/slog"

	"github.com/Moises833/StudyHub/internal/model"
	"github.com/Moises833/StudyHub/internal/store"
)

// SeedDemoData 初始化演示数据。
//
// 幂等：演示用户已存在时直接返回，不重复写入项目和事件。
func (s *Server) SeedDemoData(ctx context.Context) error {
	const demoEmail = "demo@studyhub.com"

	for _, u := range s.users.AllUsers(ctx) {
		if u.Email == demoEmail {
			return nil
		}
	}

	user, err := s.users.Register(ctx, "Estudiante Demo", demoEmail, "demo123")
	if err != nil {
		if err == store.ErrUserExists {
			return nil
		}
		return err
	}

	project := s.projects.CreateProject(ctx, store.ProjectInput{
		UserID:       user.ID,
		Nombre:       "Proyecto de ejemplo",
		Descripcion:  "Un proyecto de muestra para explorar StudyHub",
		Estado:       model.EstadoActivo,
		FechaEntrega: "",
	})

	s.projects.AddTask(ctx, project.ID, store.TaskInput{
		Nombre:  "Revisar el panel de proyectos",
		Creador: user.Name,
	})
	s.projects.AddTask(ctx, project.ID, store.TaskInput{
		Nombre:  "Invitar a un colaborador",
		Creador: user.Name,
	})

	s.projects.AddEvent(ctx, model.Event{
		Title:  "Explorar el calendario",
		Date:   project.FechaCreacion,
		Type:   model.EventTypeReunion,
		UserID: user.ID,
	})

	s.logger.Info("demo data seeded", slog.String("email", demoEmail))
	return nil
}
