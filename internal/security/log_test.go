package security

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentprobe_api/internal/clock"
	"agentprobe_api/internal/models"
	"agentprobe_api/internal/storage/storagetest"
	"agentprobe_api/internal/utils"
)

var (
	testTime   = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	testClient = ClientInfo{IPAddress: "203.0.113.7", UserAgent: "agentprobe/1.0", Endpoint: "GET /api/v1/results"}
)

func TestEventType(t *testing.T) {
	assert.Len(t, AllEventTypes, 12)
	for _, et := range AllEventTypes {
		parsed, ok := ParseEventType(et.String())
		assert.True(t, ok, et)
		assert.Equal(t, et, parsed)
	}

	for _, bad := range []string{"", "AUTH_SUCCESS", "auth_success ", "auth_success' OR '1'='1", "unknown"} {
		_, ok := ParseEventType(bad)
		assert.False(t, ok, bad)
	}
}

func TestRecord(t *testing.T) {
	store := &fakeStore{}
	log := NewLog(store, clock.NewFake(testTime))

	log.Record(context.Background(), EventRateLimitExceeded, "ap_abc", testClient, map[string]interface{}{"limit": 5, "remaining": 0})

	events := store.snapshot()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, "rate_limit_exceeded", e.EventType)
	assert.Equal(t, "ap_abc", e.KeyID)
	assert.Equal(t, "203.0.113.7", e.IPAddress)
	assert.Equal(t, "agentprobe/1.0", e.UserAgent)
	assert.Equal(t, "GET /api/v1/results", e.Endpoint)
	assert.Equal(t, testTime, e.Timestamp)
	assert.Equal(t, 5, e.Details["limit"])
}

func TestRecord_SwallowsStoreFailure(t *testing.T) {
	store := &fakeStore{alwaysFailOne: true}
	log := NewLog(store, clock.NewFake(testTime))

	assert.NotPanics(t, func() {
		log.Record(context.Background(), EventAuthMissing, "", testClient, nil)
	})
	assert.Empty(t, store.snapshot())
}

func TestRecord_DropsUnknownType(t *testing.T) {
	store := &fakeStore{}
	log := NewLog(store, clock.NewFake(testTime))

	log.Record(context.Background(), EventType("made_up"), "", testClient, nil)
	assert.Empty(t, store.snapshot())
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name      string
		limit     string
		offset    string
		eventType string
		want      models.SecurityEventFilter
		wantErr   bool
	}{
		{name: "defaults", want: models.SecurityEventFilter{Limit: 100}},
		{name: "explicit", limit: "25", offset: "50", want: models.SecurityEventFilter{Limit: 25, Offset: 50}},
		{name: "limit capped", limit: "5000", want: models.SecurityEventFilter{Limit: 1000}},
		{name: "zero limit", limit: "0", want: models.SecurityEventFilter{Limit: 100}},
		{name: "negative limit", limit: "-3", want: models.SecurityEventFilter{Limit: 100}},
		{name: "garbage limit", limit: "ten", want: models.SecurityEventFilter{Limit: 100}},
		{name: "negative offset", offset: "-1", want: models.SecurityEventFilter{Limit: 100}},
		{name: "garbage offset", offset: "x", want: models.SecurityEventFilter{Limit: 100}},
		{name: "valid type", eventType: "auth_success", want: models.SecurityEventFilter{Limit: 100, EventType: "auth_success"}},
		{name: "injection attempt", eventType: "auth_success'; DROP TABLE security_events;--", wantErr: true},
		{name: "unknown type", eventType: "login", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseQuery(tt.limit, tt.offset, tt.eventType)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, utils.IsKind(err, utils.KindValidation))
				appErr, _ := utils.AsAppError(err)
				assert.Equal(t, "INVALID_EVENT_TYPE", appErr.Code)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuery_RejectsInvalidTypeBeforeStore(t *testing.T) {
	store := &fakeStore{}
	log := NewLog(store, clock.NewFake(testTime))

	_, err := log.Query(context.Background(), models.SecurityEventFilter{EventType: "nope", Limit: 10}, "ap_admin", testClient)
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindValidation))
	assert.Equal(t, 0, store.listCalls)
}

func TestQuery_ClampsFilter(t *testing.T) {
	store := &fakeStore{}
	log := NewLog(store, clock.NewFake(testTime))

	_, err := log.Query(context.Background(), models.SecurityEventFilter{Limit: 0, Offset: -5}, "ap_admin", testClient)
	require.NoError(t, err)
	assert.Equal(t, models.SecurityEventFilter{Limit: 100}, store.lastFilter)

	_, err = log.Query(context.Background(), models.SecurityEventFilter{Limit: 9999}, "ap_admin", testClient)
	require.NoError(t, err)
	assert.Equal(t, 1000, store.lastFilter.Limit)
}

func TestQuery_StoreFailureRecordsEvent(t *testing.T) {
	store := &fakeStore{failList: true}
	log := NewLog(store, clock.NewFake(testTime))

	_, err := log.Query(context.Background(), models.SecurityEventFilter{Limit: 10}, "ap_admin", testClient)
	require.Error(t, err)
	assert.True(t, utils.IsKind(err, utils.KindPersistence))

	events := store.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, "security_events_error", events[0].EventType)
	assert.Equal(t, "ap_admin", events[0].KeyID)
	assert.Equal(t, "database_error", events[0].Details["error"])
}

func TestLog_WithRepository(t *testing.T) {
	db := storagetest.NewDB(t)
	clk := clock.NewFake(testTime)
	log := NewLog(db.NewSecurityEventRepository(), clk)
	ctx := context.Background()

	log.Record(ctx, EventAuthMissing, "", testClient, nil)
	clk.Advance(time.Second)
	log.Record(ctx, EventAuthSuccess, "ap_1", testClient, nil)
	clk.Advance(time.Second)
	log.Record(ctx, EventAuthInvalidFormat, "", testClient, map[string]interface{}{"apiKey": "ap_123456..."})

	events, err := log.Query(ctx, models.SecurityEventFilter{Limit: 100}, "ap_admin", testClient)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "auth_invalid_format", events[0].EventType)
	assert.Equal(t, "ap_123456...", events[0].Details["apiKey"])

	filtered, err := log.Query(ctx, models.SecurityEventFilter{EventType: "auth_success", Limit: 100}, "ap_admin", testClient)
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, "ap_1", filtered[0].KeyID)
}
