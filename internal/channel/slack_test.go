package channel

import (
	"testing"
	"time"

	"github.com/slack-go/slack/slackevents"

	"parsebot/internal/bus"
)

func newTestSlack(t *testing.T) (*Slack, *bus.InMemoryBus) {
	t.Helper()
	mb := bus.New(4, testWebhookLogger())
	t.Cleanup(mb.Close)
	return &Slack{botUID: "UBOT", bus: mb, logger: testWebhookLogger()}, mb
}

func callbackEvent(data any) slackevents.EventsAPIEvent {
	return slackevents.EventsAPIEvent{
		Type:       slackevents.CallbackEvent,
		InnerEvent: slackevents.EventsAPIInnerEvent{Data: data},
	}
}

func TestSlackMessage_Published(t *testing.T) {
	s, mb := newTestSlack(t)

	s.handleEventsAPI(callbackEvent(&slackevents.MessageEvent{
		User: "U123", Channel: "C1", Text: "https://www.douyin.com/video/1",
	}))

	select {
	case msg := <-mb.Subscribe():
		if msg.Content != "https://www.douyin.com/video/1" || msg.SenderID != "U123" {
			t.Errorf("unexpected message: %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message not published")
	}
}

func TestSlackMention_PublishedOnce(t *testing.T) {
	s, mb := newTestSlack(t)

	// A channel message mentioning the bot arrives as both a MessageEvent and
	// an AppMentionEvent; only the mention handler may publish.
	text := "<@UBOT> https://www.douyin.com/video/1"
	s.handleEventsAPI(callbackEvent(&slackevents.MessageEvent{
		User: "U123", Channel: "C1", Text: text,
	}))
	s.handleEventsAPI(callbackEvent(&slackevents.AppMentionEvent{
		User: "U123", Channel: "C1", Text: text,
	}))

	inbound := mb.Subscribe()
	select {
	case msg := <-inbound:
		if msg.Content != "https://www.douyin.com/video/1" {
			t.Errorf("mention prefix not stripped: %q", msg.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("mention not published")
	}

	select {
	case msg := <-inbound:
		t.Errorf("message published twice: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSlackMessage_OwnMessagesIgnored(t *testing.T) {
	s, mb := newTestSlack(t)

	s.handleEventsAPI(callbackEvent(&slackevents.MessageEvent{
		User: "UBOT", Channel: "C1", Text: "https://www.douyin.com/video/1",
	}))

	select {
	case msg := <-mb.Subscribe():
		t.Errorf("own message must not be published: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}
