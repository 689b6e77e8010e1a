package plugins

import (
	"strings"
	"time"

	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/arkanite/keeper/events"
	"github.com/arkanite/keeper/helpers"
	"github.com/arkanite/keeper/models"
	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// AutoRoles handles the join automations of a guild: the welcome
// message, immediate auto roles, delayed auto roles (through the task
// queue so they survive restarts) and keyword auto responses.
type AutoRoles struct {
	discord     helpers.Discord
	queueAction func(signature *tasks.Signature) error
	now         func() time.Time
}

func NewAutoRoles() *AutoRoles {
	a := &AutoRoles{
		discord: helpers.NewDiscord(),
		now:     time.Now,
	}
	a.queueAction = queueMachineryTask
	return a
}

func (a *AutoRoles) Name() string {
	return "autorole"
}

func (a *AutoRoles) Categories() []events.Category {
	return []events.Category{events.CategoryMember, events.CategoryMessage}
}

func (a *AutoRoles) Init(session *discordgo.Session) {
}

func (a *AutoRoles) OnEvent(event events.Event) {
	switch event.Type {
	case events.TypeMemberJoin:
		a.onJoin(event)
	case events.TypeMessageCreate:
		a.onMessage(event)
	}
}

func (a *AutoRoles) onJoin(event events.Event) {
	if event.Member == nil || event.Member.User == nil || event.Member.User.Bot {
		return
	}

	config, ok := helpers.GuildSettingsGetCached(event.GuildID)
	if !ok {
		return
	}

	if config.WelcomeEnabled && config.WelcomeChannelID != "" && config.WelcomeText != "" {
		_, err := a.discord.SendMessage(config.WelcomeChannelID,
			RenderWelcome(config.WelcomeText, event.GuildID, event.Member.User))
		helpers.RelaxLog(err)
	}

	for _, roleID := range config.AutoRoleIDs {
		err := a.discord.RoleAdd(event.GuildID, event.Member.User.ID, roleID)
		helpers.RelaxLog(err)
	}

	for _, delayed := range config.DelayedAutoRoles {
		err := a.queueAction(AutoroleApplySignature(
			event.GuildID, event.Member.User.ID, delayed.RoleID, a.now().Add(delayed.Delay)))
		helpers.RelaxLog(err)
	}
}

func (a *AutoRoles) onMessage(event events.Event) {
	message := event.Message
	if message == nil || message.Author == nil || message.Author.Bot {
		return
	}

	config, ok := helpers.GuildSettingsGetCached(event.GuildID)
	if !ok || len(config.AutoResponses) == 0 {
		return
	}

	content := strings.ToLower(message.Content)
	for _, response := range config.AutoResponses {
		if response.Trigger == "" {
			continue
		}
		if !strings.Contains(content, strings.ToLower(response.Trigger)) {
			continue
		}

		_, err := a.discord.SendMessage(message.ChannelID, response.Response)
		helpers.RelaxLog(err)
		// one reply per message, first matching trigger wins
		return
	}
}

// RenderWelcome fills the placeholders of a welcome template.
func RenderWelcome(template string, guildID string, user *discordgo.User) string {
	text := template
	text = strings.Replace(text, "{user}", "<@"+user.ID+">", -1)
	text = strings.Replace(text, "{username}", user.Username, -1)
	text = strings.Replace(text, "{guild}", guildID, -1)
	return text
}

// AutoroleApplySignature builds the queued task granting one delayed
// role. The ETA delays execution without keeping process state.
func AutoroleApplySignature(guildID string, userID string, roleID string, applyAt time.Time) *tasks.Signature {
	return &tasks.Signature{
		Name: "apply_autorole",
		Args: []tasks.Arg{
			{Type: "string", Value: guildID},
			{Type: "string", Value: userID},
			{Type: "string", Value: roleID},
		},
		ETA:        &applyAt,
		RetryCount: 3,
		OnError:    []*tasks.Signature{{Name: "log_error"}},
	}
}

// AutoroleApply runs on the task worker and grants one role.
func (a *AutoRoles) AutoroleApply(guildID string, userID string, roleID string) error {
	err := a.discord.RoleAdd(guildID, userID, roleID)

	// the member leaving or the role being deleted ends the task
	if helpers.IsDiscordNotFound(err) {
		return nil
	}
	return err
}

// SetWelcome configures the welcome message of a guild.
func (a *AutoRoles) SetWelcome(guildID string, enabled bool, channelID string, text string) error {
	if enabled && (channelID == "" || text == "") {
		return errors.Wrap(helpers.ErrInvalidAmount, "welcome channel and text are required")
	}

	_, err := helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		config.WelcomeEnabled = enabled
		config.WelcomeChannelID = channelID
		config.WelcomeText = text
	})
	return err
}

// SetAutoRoles replaces the auto role lists of a guild. Every role has
// to exist at configuration time.
func (a *AutoRoles) SetAutoRoles(guildID string, roleIDs []string, delayed []models.DelayedAutoRole) error {
	for _, roleID := range roleIDs {
		if err := a.discord.RoleExists(guildID, roleID); err != nil {
			return err
		}
	}
	for _, entry := range delayed {
		if entry.Delay <= 0 {
			return errors.Wrap(helpers.ErrInvalidAmount, "delay has to be positive")
		}
		if err := a.discord.RoleExists(guildID, entry.RoleID); err != nil {
			return err
		}
	}

	_, err := helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		config.AutoRoleIDs = roleIDs
		config.DelayedAutoRoles = delayed
	})
	return err
}

// SetAutoResponses replaces the keyword response table of a guild.
func (a *AutoRoles) SetAutoResponses(guildID string, responses []models.AutoResponseEntry) error {
	for _, response := range responses {
		if response.Trigger == "" || response.Response == "" {
			return errors.Wrap(helpers.ErrInvalidAmount, "trigger and response are required")
		}
	}

	_, err := helpers.GuildSettingsUpdate(guildID, func(config *models.GuildConfig) {
		config.AutoResponses = responses
	})
	return err
}
