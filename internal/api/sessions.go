package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/camback/internal/api/models"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/sessions",
		Summary:     "List Sessions",
		Description: "Frontend sessions currently bound, ordered by domain and device index",
		Tags:        []string{"sessions"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.SessionListResponse, error) {
		var list []models.SessionData
		if s.options.Sessions != nil {
			for _, info := range s.options.Sessions.Sessions() {
				list = append(list, models.SessionData{
					SessionID: info.ID,
					DomID:     info.DomID,
					DevID:     info.DevID,
					UniqueID:  info.UniqueID,
					Controls:  info.Controls,
					Buffers:   info.Buffers,
					Queued:    info.Queued,
					Streaming: info.Streaming,
					Sequence:  info.Sequence,
					Opened:    info.Opened,
				})
			}
		}
		if list == nil {
			list = []models.SessionData{}
		}
		return &models.SessionListResponse{
			Body: models.SessionListData{Sessions: list, Count: len(list)},
		}, nil
	})
}
