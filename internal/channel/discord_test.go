package channel

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestInteractionSender_Guild(t *testing.T) {
	i := &discordgo.Interaction{
		Member: &discordgo.Member{User: &discordgo.User{ID: "42"}},
	}
	if got := interactionSender(i); got != "42" {
		t.Errorf("expected member user ID, got %q", got)
	}
}

func TestInteractionSender_DirectMessage(t *testing.T) {
	// DM interactions have no Member, only User.
	i := &discordgo.Interaction{
		User: &discordgo.User{ID: "99"},
	}
	if got := interactionSender(i); got != "99" {
		t.Errorf("expected DM user ID, got %q", got)
	}
}

func TestInteractionSender_Neither(t *testing.T) {
	if got := interactionSender(&discordgo.Interaction{}); got != "" {
		t.Errorf("expected empty sender, got %q", got)
	}
}
