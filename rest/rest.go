// Package rest exposes read-only snapshots for dashboard style
// consumers: leaderboards, guild configuration and pending tasks.
// Mutations only happen through the bot itself.
package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/arkanite/keeper/modules"
	"github.com/arkanite/keeper/scheduler"
	"github.com/emicklei/go-restful"
)

var taskScheduler *scheduler.Scheduler

// NewRestServices builds the read-only services. $s backs the pending
// task snapshot.
func NewRestServices(s *scheduler.Scheduler) []*restful.WebService {
	taskScheduler = s

	services := make([]*restful.WebService, 0)

	service := new(restful.WebService)
	service.
		Path("/rankings").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)
	service.Route(service.GET("/{guild-id}").To(GetRankings))
	services = append(services, service)

	service = new(restful.WebService)
	service.
		Path("/config").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)
	service.Route(service.GET("/{guild-id}").To(GetConfig))
	services = append(services, service)

	service = new(restful.WebService)
	service.
		Path("/tasks").
		Consumes(restful.MIME_JSON).
		Produces(restful.MIME_JSON)
	service.Route(service.GET("/{guild-id}").To(GetPendingTasks))
	services = append(services, service)

	return services
}

type rankingsResponse struct {
	GuildID string
	Metric  string
	Entries []rankingEntry
}

// rankingEntry keeps the response shape stable if the plugin type grows fields
type rankingEntry struct {
	Rank     int
	UserID   string
	Level    int
	Exp      int64
	Messages int64
	Balance  int64
}

func GetRankings(request *restful.Request, response *restful.Response) {
	guildID := request.PathParameter("guild-id")

	metric := request.QueryParameter("metric")
	if metric == "" {
		metric = "level"
	}
	limit := 50
	if text := request.QueryParameter("limit"); text != "" {
		if parsed, err := strconv.Atoi(text); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	board, err := modules.Levels().Leaderboard(guildID, metric, limit)
	if err != nil {
		response.WriteError(http.StatusBadRequest, err)
		return
	}

	result := rankingsResponse{GuildID: guildID, Metric: metric}
	for _, entry := range board {
		result.Entries = append(result.Entries, rankingEntry{
			Rank:     entry.Rank,
			UserID:   entry.UserID,
			Level:    entry.Level,
			Exp:      entry.Exp,
			Messages: entry.Messages,
			Balance:  entry.Balance,
		})
	}

	response.WriteEntity(result)
}

func GetConfig(request *restful.Request, response *restful.Response) {
	guildID := request.PathParameter("guild-id")

	config, ok := helpers.GuildSettingsGetCached(guildID)
	if !ok {
		response.WriteError(http.StatusNotFound, helpers.ErrUnknownGuild)
		return
	}

	response.WriteEntity(config)
}

type pendingTaskResponse struct {
	TaskID   string
	Kind     models.TaskKind
	GuildID  string
	UserID   string
	FireAt   time.Time
	Interval string
}

func GetPendingTasks(request *restful.Request, response *restful.Response) {
	guildID := request.PathParameter("guild-id")

	if _, ok := helpers.GuildSettingsGetCached(guildID); !ok {
		response.WriteError(http.StatusNotFound, helpers.ErrUnknownGuild)
		return
	}

	result := make([]pendingTaskResponse, 0)
	if taskScheduler != nil {
		for _, entry := range taskScheduler.Pending(guildID) {
			result = append(result, pendingTaskResponse{
				TaskID:   entry.TaskID,
				Kind:     entry.Kind,
				GuildID:  entry.GuildID,
				UserID:   entry.UserID,
				FireAt:   entry.FireAt,
				Interval: entry.Interval.String(),
			})
		}
	}

	response.WriteEntity(result)
}
