package helpers

import (
	"net"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
)

// Validation errors are surfaced to the command-facing caller and never
// retried. Outbound errors are classified below instead.
var (
	ErrUnknownGuild      = errors.New("unknown guild")
	ErrCooldownActive    = errors.New("cooldown active")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrStaleBinding      = errors.New("stale reaction role binding")
)

// IsDiscordPermission reports whether err is a terminal permission
// rejection from the platform.
func IsDiscordPermission(err error) bool {
	if errors.Cause(err) == ErrPermissionDenied {
		return true
	}
	if errD, ok := errors.Cause(err).(*discordgo.RESTError); ok && errD.Message != nil {
		switch errD.Message.Code {
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	return false
}

// IsDiscordNotFound reports whether err means the target entity
// (message, role, channel, member) no longer exists.
func IsDiscordNotFound(err error) bool {
	if errD, ok := errors.Cause(err).(*discordgo.RESTError); ok && errD.Message != nil {
		switch errD.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeUnknownMessage,
			discordgo.ErrCodeUnknownRole, discordgo.ErrCodeUnknownMember,
			discordgo.ErrCodeUnknownUser:
			return true
		}
	}
	return false
}

// IsDiscordTransient reports whether an outbound call may be retried.
// Network errors and 5xx responses qualify, permission and not-found
// rejections do not.
func IsDiscordTransient(err error) bool {
	if err == nil {
		return false
	}
	if IsDiscordPermission(err) || IsDiscordNotFound(err) {
		return false
	}
	cause := errors.Cause(err)
	if _, ok := cause.(net.Error); ok {
		return true
	}
	if errD, ok := cause.(*discordgo.RESTError); ok {
		if errD.Response != nil && errD.Response.StatusCode >= 500 {
			return true
		}
		return false
	}
	// unknown error shapes get one retry cycle rather than silent loss
	return true
}
