package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"licenseops/internal/models"
)

type NotificationRepository interface {
	CreateInApp(ctx context.Context, n models.Notification) (string, error)
}

type notificationRepo struct {
	store *DataStore
}

func NewNotificationRepo(store *DataStore) NotificationRepository {
	return &notificationRepo{store: store}
}

func (r *notificationRepo) CreateInApp(ctx context.Context, n models.Notification) (string, error) {
	metadata, err := json.Marshal(n.Metadata)
	if err != nil {
		return "", fmt.Errorf("encode notification metadata: %w", err)
	}
	query := `
		INSERT INTO notifications (tenant_id, type, title, message, urgency, action_url, category, metadata, created_at)
		VALUES (NULLIF($1, ''), $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, NOW())
		RETURNING id
	`
	var id string
	err = r.store.QueryRow(ctx, query, n.TenantID, n.Type, n.Title, n.Message, string(n.Urgency), n.ActionURL, n.Category, metadata).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return id, nil
}
