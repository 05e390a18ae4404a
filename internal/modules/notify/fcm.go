// README: Firebase Cloud Messaging notifier; each user subscribes to the topic "user_<id>".
package notify

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"go.uber.org/zap"

	"fixit/internal/types"
)

type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMNotifier struct {
	client messageSender
	logger *zap.Logger
}

func NewFCMNotifier(ctx context.Context, app *firebase.App, logger *zap.Logger) (*FCMNotifier, error) {
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialising firebase messaging client: %w", err)
	}
	return &FCMNotifier{client: client, logger: logger}, nil
}

func (n *FCMNotifier) Notify(ctx context.Context, userID types.ID, ev Event) error {
	if userID == "" {
		return fmt.Errorf("empty user id for %s event", ev.Type)
	}
	msgID, err := n.client.Send(ctx, buildMessage(userID, ev))
	if err != nil {
		return fmt.Errorf("sending FCM to user %s: %w", userID, err)
	}
	n.logger.Debug("FCM sent",
		zap.String("user_id", string(userID)),
		zap.String("type", string(ev.Type)),
		zap.String("message_id", msgID),
	)
	return nil
}

func buildMessage(userID types.ID, ev Event) *messaging.Message {
	data := map[string]string{
		"type":               string(ev.Type),
		"service_request_id": string(ev.RequestID),
	}
	if ev.MatchID != "" {
		data["match_id"] = string(ev.MatchID)
	}
	for k, v := range ev.Data {
		data[k] = v
	}

	msg := &messaging.Message{
		Topic: "user_" + string(userID),
		Data:  data,
	}
	if title, body := notificationText(ev); title != "" {
		msg.Notification = &messaging.Notification{Title: title, Body: body}
		msg.Android = &messaging.AndroidConfig{Priority: "high"}
	}
	return msg
}

func notificationText(ev Event) (string, string) {
	switch ev.Type {
	case EventMatchOffered:
		return "New repair request", fmt.Sprintf("A nearby job is waiting, respond before %s", ev.Data["expires_at"])
	case EventMatchAccepted, EventTechnicianAssigned:
		return "Technician on the way", "A technician has been assigned to your request"
	case EventNoTechnician:
		return "Still searching", "No technician is available nearby yet"
	case EventRequestCancelled:
		return "Request cancelled", "The repair request was cancelled"
	default:
		return "", ""
	}
}
