// Package remote talks to the remote data service that caregivers read from.
package remote

import (
	"context"

	"github.com/loopkit/nightscoutservice/internal/models"
)

// Collection is a remote document collection.
type Collection string

const (
	CollectionEntries      Collection = "entries"
	CollectionTreatments   Collection = "treatments"
	CollectionDeviceStatus Collection = "devicestatus"
	CollectionProfile      Collection = "profile"
)

// Client is the remote store. Payloads are JSON-encodable documents.
type Client interface {
	// CreateRecords stores payloads and returns one object id per payload,
	// in request order.
	CreateRecords(ctx context.Context, coll Collection, payloads []any) ([]string, error)
	// UpdateRecords replaces documents; every payload carries its object id.
	UpdateRecords(ctx context.Context, coll Collection, payloads []any) error
	DeleteRecords(ctx context.Context, coll Collection, ids []string) error

	// CheckAuth verifies that the site is reachable and accepts the secret.
	CheckAuth(ctx context.Context) error
	FetchCurrentProfile(ctx context.Context) (*models.ProfileSet, error)
}
