package garden

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gardenbase/core/access"
	"github.com/relabs-tech/gardenbase/core/backend"
	"github.com/relabs-tech/gardenbase/core/client"
	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/mail"
)

var testNow = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestBackend(t *testing.T) (*backend.Backend, client.Client) {
	t.Helper()
	db, err := csql.OpenSQLite("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	router := mux.NewRouter()
	b := backend.New(&backend.Builder{
		DB:       db,
		Registry: Registry(),
		Router:   router,
		Verifier: access.VerifierFunc(func(ctx context.Context, token string) (*access.Identity, error) {
			return &access.Identity{UserID: "gardener"}, nil
		}),
		CreateTables: true,
	})
	Install(b)
	b.Gateway().Now = func() time.Time { return testNow }
	return b, client.NewWithRouter(router).WithToken("any")
}

func TestRegistry(t *testing.T) {
	r := Registry()
	assert.Equal(t, []string{TableUser, TableZone, TableDevice, TableSensorReading, TableNotification},
		func() []string {
			var names []string
			for _, table := range r.Tables() {
				names = append(names, table.Name)
			}
			return names
		}())

	readings, ok := r.Describe(TableSensorReading)
	require.True(t, ok)
	assert.Equal(t, "deviceId", readings.SerializeBy)
	require.NotNil(t, readings.OrderBy)
	assert.True(t, readings.OrderBy.Descending)
}

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		in   string
		out  string
		fail bool
	}{
		{in: "aa:bb:cc:dd:ee:ff", out: "AA:BB:CC:DD:EE:FF"},
		{in: "AA-BB-CC-DD-EE-0F", out: "AA:BB:CC:DD:EE:0F"},
		{in: "aabb.ccdd.eeff", out: "AA:BB:CC:DD:EE:FF"},
		{in: " aabbccddeeff ", out: "AA:BB:CC:DD:EE:FF"},
		{in: "aa:bb:cc:dd:ee", fail: true},
		{in: "00:00:00:00:fe:80:00:00:00:00:00:00:02:00:5e:10:00:00:00:01", fail: true},
		{in: "garden", fail: true},
		{in: "", fail: true},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			out, err := NormalizeMAC(test.in)
			if test.fail {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.out, out)
		})
	}
}

func TestDeviceHook(t *testing.T) {
	_, c := newTestBackend(t)

	var user struct {
		Data map[string]interface{} `json:"data"`
	}
	status, err := c.Table(TableUser).Insert(map[string]interface{}{
		"email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace",
	}, &user)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)

	var device struct {
		Data map[string]interface{} `json:"data"`
	}
	status, err = c.Table(TableDevice).Insert(map[string]interface{}{
		"userId": user.Data["id"], "macAddress": "a0-b1-c2-d3-e4-f5", "name": "bed sensor",
	}, &device)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "A0:B1:C2:D3:E4:F5", device.Data["macAddress"])

	// partial update without mac address
	status, err = c.Table(TableDevice).Update(map[string]interface{}{
		"id": device.Data["id"], "name": "greenhouse",
	}, &device)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "A0:B1:C2:D3:E4:F5", device.Data["macAddress"])

	var failure map[string]interface{}
	status, err = c.Table(TableDevice).Update(map[string]interface{}{
		"id": device.Data["id"], "macAddress": "not-a-mac",
	}, &failure)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

type fakeMailer struct {
	mutex sync.Mutex
	sent  []mail.Message
	fail  map[string]bool
}

func (m *fakeMailer) Send(ctx context.Context, message mail.Message) (mail.Result, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.fail[message.To] {
		return mail.Result{}, errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, message)
	return mail.Result{OK: true, ID: "msg-" + message.To}, nil
}

func TestDistributor(t *testing.T) {
	b, _ := newTestBackend(t)
	g := b.Gateway()
	ctx := context.Background()

	insert := func(table string, entry gateway.Entry) gateway.Row {
		row, err := g.Insert(ctx, table, entry)
		require.NoError(t, err)
		return row
	}
	ada := insert(TableUser, gateway.Entry{"email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace"})
	bob := insert(TableUser, gateway.Entry{"email": "bob@example.com", "firstName": "Bob", "lastName": "Builder"})

	due := insert(TableNotification, gateway.Entry{"userId": ada["id"], "subject": "water", "bodyHtml": "<p>water the roses</p>"})
	later := insert(TableNotification, gateway.Entry{"userId": ada["id"], "subject": "frost", "bodyHtml": "<p>frost</p>",
		"sendAt": testNow.Add(time.Hour)})
	bounced := insert(TableNotification, gateway.Entry{"userId": bob["id"], "subject": "water", "bodyHtml": "<p>water</p>"})
	sent := insert(TableNotification, gateway.Entry{"userId": ada["id"], "subject": "old", "bodyHtml": "old", "status": StatusSent})

	mailer := &fakeMailer{fail: map[string]bool{"bob@example.com": true}}
	d := NewDistributor(g, mailer)
	d.Now = func() time.Time { return testNow }

	report, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Sent: 1, Retried: 1, Deferred: 1}, report)

	require.Len(t, mailer.sent, 1)
	assert.Equal(t, mail.Message{To: "ada@example.com", Subject: "water", BodyHTML: "<p>water the roses</p>"}, mailer.sent[0])

	row, err := g.Get(ctx, TableNotification, due["id"])
	require.NoError(t, err)
	assert.Equal(t, StatusSent, row["status"])
	assert.Equal(t, "msg-ada@example.com", row["messageId"])
	assert.Equal(t, testNow, row["sentAt"])

	row, err = g.Get(ctx, TableNotification, later["id"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row["status"])
	assert.Equal(t, int64(3), row["attemptsLeft"])

	row, err = g.Get(ctx, TableNotification, bounced["id"])
	require.NoError(t, err)
	assert.Equal(t, StatusPending, row["status"])
	assert.Equal(t, int64(2), row["attemptsLeft"])

	// two more runs exhaust the attempts of the bounced notification
	for i := 0; i < 2; i++ {
		_, err = d.Run(ctx)
		require.NoError(t, err)
	}
	row, err = g.Get(ctx, TableNotification, bounced["id"])
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, row["status"])
	assert.Equal(t, int64(0), row["attemptsLeft"])

	// the frost notification becomes due
	d.Now = func() time.Time { return testNow.Add(2 * time.Hour) }
	report, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Sent: 1}, report)
	assert.Len(t, mailer.sent, 2)

	row, err = g.Get(ctx, TableNotification, sent["id"])
	require.NoError(t, err)
	assert.Nil(t, row["sentAt"])
}

func TestDistributorUserWithoutEmail(t *testing.T) {
	b, _ := newTestBackend(t)
	g := b.Gateway()
	ctx := context.Background()

	user, err := g.Insert(ctx, TableUser, gateway.Entry{"email": "", "firstName": "No", "lastName": "Mail"})
	require.NoError(t, err)
	notification, err := g.Insert(ctx, TableNotification, gateway.Entry{
		"userId": user["id"], "subject": "s", "bodyHtml": "b", "attemptsLeft": 1,
	})
	require.NoError(t, err)

	mailer := &fakeMailer{}
	d := NewDistributor(g, mailer)
	report, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Failed: 1}, report)
	assert.Empty(t, mailer.sent)

	row, err := g.Get(ctx, TableNotification, notification["id"])
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, row["status"])
}

func TestReportString(t *testing.T) {
	assert.Equal(t, "sent 1, retried 2, failed 3, deferred 4, errors 5",
		Report{Sent: 1, Retried: 2, Failed: 3, Deferred: 4, Errors: 5}.String())
}

func TestDistributorSendsDueBehindScheduled(t *testing.T) {
	b, _ := newTestBackend(t)
	g := b.Gateway()
	ctx := context.Background()

	user, err := g.Insert(ctx, TableUser, gateway.Entry{"email": "ada@example.com", "firstName": "Ada", "lastName": "Lovelace"})
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := g.Insert(ctx, TableNotification, gateway.Entry{
			"userId": user["id"], "subject": "tomorrow", "bodyHtml": "later", "sendAt": testNow.Add(24 * time.Hour),
		})
		require.NoError(t, err)
	}
	immediate, err := g.Insert(ctx, TableNotification, gateway.Entry{"userId": user["id"], "subject": "now", "bodyHtml": "now"})
	require.NoError(t, err)
	overdue, err := g.Insert(ctx, TableNotification, gateway.Entry{
		"userId": user["id"], "subject": "overdue", "bodyHtml": "overdue", "sendAt": testNow.Add(-time.Hour),
	})
	require.NoError(t, err)

	mailer := &fakeMailer{}
	d := NewDistributor(g, mailer)
	d.Now = func() time.Time { return testNow }
	d.BatchSize = 3

	report, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Len(t, mailer.sent, 2)

	for _, id := range []interface{}{immediate["id"], overdue["id"]} {
		row, err := g.Get(ctx, TableNotification, id)
		require.NoError(t, err)
		assert.Equal(t, StatusSent, row["status"])
	}

	pending, err := g.Query(ctx, TableNotification, gateway.Where("status", StatusPending), gateway.QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}
