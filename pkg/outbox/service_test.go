package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/db/models"
	"github.com/angelmondragon/storefront-checkout/pkg/enums"
)

func newOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:outbox_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxEvent{}))
	return db
}

func TestServiceEmitWritesEnvelope(t *testing.T) {
	db := newOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)
	storeID := uuid.New()
	orderID := uuid.New()

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			StoreID:       &storeID,
			Data:          map[string]any{"orderId": orderID.String()},
		})
	})
	require.NoError(t, err)

	var rows []models.OutboxEvent
	require.NoError(t, db.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)
	assert.Nil(t, rows[0].PublishedAt)

	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &env))
	assert.Equal(t, 1, env.Version)
	assert.NotEmpty(t, env.EventID)
	require.NotNil(t, env.StoreID)
	assert.Equal(t, storeID, *env.StoreID)
	assert.JSONEq(t, `{"orderId":"`+orderID.String()+`"}`, string(env.Data))
}

func TestServiceEmitRollsBackWithCaller(t *testing.T) {
	db := newOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	boom := errors.New("boom")
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestServiceEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, DomainEvent{})
	require.Error(t, err)
}

func TestServiceEmitRejectsIncompleteEvents(t *testing.T) {
	db := newOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)

	cases := map[string]DomainEvent{
		"missing event type":     {AggregateType: enums.AggregateOrder, AggregateID: uuid.New()},
		"missing aggregate type": {EventType: enums.EventOrderPaid, AggregateID: uuid.New()},
		"missing aggregate id":   {EventType: enums.EventOrderPaid, AggregateType: enums.AggregateOrder},
		"unencodable data": {
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Data:          make(chan int),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			err := db.Transaction(func(tx *gorm.DB) error {
				return svc.Emit(context.Background(), tx, event)
			})
			require.Error(t, err)
		})
	}

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestServiceEmitKeepsCallerTimestampAndVersion(t *testing.T) {
	db := newOutboxTestDB(t)
	svc := NewService(NewRepository(db), nil)
	occurred := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	aggregateID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   aggregateID,
			Version:       2,
			OccurredAt:    occurred,
			Data:          map[string]any{},
		})
	}))

	var row models.OutboxEvent
	require.NoError(t, db.Where("aggregate_id = ?", aggregateID).First(&row).Error)
	var env PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &env))
	assert.Equal(t, 2, env.Version)
	assert.True(t, occurred.Equal(env.OccurredAt))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	db := newOutboxTestDB(t)
	repo := NewRepository(db)

	insert := func() uuid.UUID {
		row := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   uuid.New(),
			Payload:       json.RawMessage(`{}`),
		}
		require.NoError(t, repo.Insert(db, row))
		return row.ID
	}
	published := insert()
	failing := insert()
	terminal := insert()

	require.NoError(t, repo.MarkPublishedTx(db, published))
	require.NoError(t, repo.MarkFailedTx(db, failing, errors.New("transient")))
	require.NoError(t, repo.MarkTerminalTx(db, terminal, errors.New("poison"), 3))

	rows, err := repo.FetchUnpublishedForPublish(db, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, failing, rows[0].ID)
	assert.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	assert.Equal(t, "transient", *rows[0].LastError)

	var parked models.OutboxEvent
	require.NoError(t, db.First(&parked, "id = ?", terminal).Error)
	assert.Equal(t, 3, parked.AttemptCount)
	assert.Nil(t, parked.PublishedAt)
}
