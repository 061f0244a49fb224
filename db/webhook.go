package db

import (
	"context"
	"time"

	"bitbucket.org/parqueoasis/payments/models"
	"github.com/pkg/errors"
)

type WebhookEventStorage interface {
	InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error
	UpdateWebhookEventStatus(ctx context.Context, id string, status models.WebhookEventStatus, orderRef string, errMsg string) error
	GetWebhookEvents(ctx context.Context, status models.WebhookEventStatus, limit int) ([]models.WebhookEvent, error)
}

const (
	insertWebhookEvent = `
	INSERT INTO webhook_events (
		id, delivery_key, event_type, order_ref, payload, status, error, received_at
	) VALUES (
		:id, :delivery_key, :event_type, :order_ref, :payload, :status, :error, :received_at
	)`

	updateWebhookEventStatus = `
	UPDATE
		webhook_events
	SET
		status = ?,
		order_ref = COALESCE(?, order_ref),
		error = ?,
		processed_at = ?
	WHERE
		id = ?
	`

	getWebhookEventsByStatus = `
	SELECT
		id,
		delivery_key,
		event_type,
		order_ref,
		payload,
		status,
		error,
		received_at,
		processed_at
	FROM
		webhook_events
	WHERE
		status = ?
	ORDER BY
		received_at DESC
	LIMIT ?
	`
)

func (db *DB) InsertWebhookEvent(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == "" {
		event.ID = newID()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	if _, err := db.NamedExecContext(ctx, insertWebhookEvent, event); err != nil {
		return errors.Wrap(err, "failed inserting webhook event")
	}
	return nil
}

func (db *DB) UpdateWebhookEventStatus(ctx context.Context, id string, status models.WebhookEventStatus, orderRef string, errMsg string) error {
	var ref, msg *string
	if orderRef != "" {
		ref = &orderRef
	}
	if errMsg != "" {
		msg = &errMsg
	}

	result, err := db.ExecContext(ctx, db.Rebind(updateWebhookEventStatus), status, ref, msg, time.Now().UTC(), id)
	if err != nil {
		return errors.Wrap(err, "failed updating webhook event")
	}
	return expectOne(result, "updated")
}

func (db *DB) GetWebhookEvents(ctx context.Context, status models.WebhookEventStatus, limit int) ([]models.WebhookEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	events := []models.WebhookEvent{}
	if err := db.SelectContext(ctx, &events, db.Rebind(getWebhookEventsByStatus), status, limit); err != nil {
		return nil, err
	}
	return events, nil
}
