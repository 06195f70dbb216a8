package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sivakasi-crackers/order-dashboard/pkg/models"
)

func TestPostgresLoadDecodesDocuments(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "doc"}).
		AddRow("-N1", []byte(`{"tokenNumber": 1, "customer": "Anu", "totalAmount": "120.00"}`)).
		AddRow("-N2", []byte(`{"tokenNumber": 2, "cart": {"0": {"productName": "Bijili", "quantity": 4}}}`)).
		AddRow("-N3", []byte(`"corrupt"`))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, doc FROM customer_orders`)).WillReturnRows(rows)

	src := NewPostgresSource(db, "", "", quietLogger())
	coll, err := src.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, coll, 2)
	assert.Equal(t, models.Text("Anu"), coll["-N1"].Customer)
	assert.Equal(t, "120.00", coll["-N1"].TotalAmount.StringFixed(2))
	require.Len(t, coll["-N2"].Cart, 1)
	assert.Equal(t, int64(4), coll["-N2"].Cart[0].Quantity.OrZero())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLoadQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT id, doc FROM customer_orders`).WillReturnError(errors.New("relation does not exist"))

	src := NewPostgresSource(db, "", "", quietLogger())
	_, err = src.Load(context.Background())
	assert.Error(t, err)
}

func TestPostgresEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS customer_orders`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`pg_notify\('orders_feed', TG_OP\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DROP TRIGGER IF EXISTS customer_orders_notify`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TRIGGER customer_orders_notify`).WillReturnResult(sqlmock.NewResult(0, 0))

	src := NewPostgresSource(db, "", "orders_feed", quietLogger())
	require.NoError(t, src.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPutUpsertsDocument(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO customer_orders`).
		WithArgs("-N9", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`DELETE FROM customer_orders WHERE id = \$1`).
		WithArgs("-N9").
		WillReturnResult(sqlmock.NewResult(0, 1))

	src := NewPostgresSource(db, "", "", quietLogger())
	require.NoError(t, src.Put(context.Background(), models.OrderRecord{ID: "-N9", Customer: "Ilango"}))
	require.NoError(t, src.Delete(context.Background(), "-N9"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

type fakeListener struct {
	mu        sync.Mutex
	channels  []string
	closed    bool
	listenErr error
	notify    chan *pq.Notification
}

func newFakeListener(buffer int) *fakeListener {
	return &fakeListener{notify: make(chan *pq.Notification, buffer)}
}

func (l *fakeListener) Listen(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels = append(l.channels, channel)
	return l.listenErr
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.notify }

func (l *fakeListener) Ping() error { return nil }

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeListener) listened() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.channels...)
}

func (l *fakeListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

func listeningSource(t *testing.T, listener *fakeListener) (*PostgresSource, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	src := NewPostgresSource(db, "postgres://orders", "orders_feed", quietLogger())
	src.newListener = func(string, pq.EventCallbackType) Listener { return listener }
	return src, mock
}

func orderRows(ids ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "doc"})
	for i, id := range ids {
		rows.AddRow(id, []byte(fmt.Sprintf(`{"tokenNumber": %d}`, i+1)))
	}
	return rows
}

const loadQuery = `SELECT id, doc FROM customer_orders`

func TestPostgresRunReloadsOnNotification(t *testing.T) {
	listener := newFakeListener(0)
	src, mock := listeningSource(t, listener)

	mock.ExpectQuery(loadQuery).WillReturnRows(orderRows("-N1"))
	mock.ExpectQuery(loadQuery).WillReturnRows(orderRows("-N1", "-N2"))

	r := &recorder{}
	unsubscribe := New(src, quietLogger()).Subscribe(r.onUpdate)

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"orders_feed"}, listener.listened())

	listener.notify <- &pq.Notification{Channel: "orders_feed", Extra: "INSERT"}
	require.Eventually(t, func() bool { return r.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, r.last(), 2)

	unsubscribe()
	assert.True(t, listener.isClosed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunFoldsBurstIntoOneReload(t *testing.T) {
	listener := newFakeListener(3)
	for i := 0; i < 3; i++ {
		listener.notify <- &pq.Notification{Channel: "orders_feed", Extra: "UPDATE"}
	}
	src, mock := listeningSource(t, listener)

	mock.ExpectQuery(loadQuery).WillReturnRows(orderRows("-N1"))
	mock.ExpectQuery(loadQuery).WillReturnRows(orderRows("-N1", "-N2", "-N3"))

	r := &recorder{}
	unsubscribe := New(src, quietLogger()).Subscribe(r.onUpdate)
	defer unsubscribe()

	require.Eventually(t, func() bool { return r.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, r.last(), 3)

	// Any further reload would hit an unexpected query and never publish.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 2, r.count())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunKeepsSnapshotWhenReloadFails(t *testing.T) {
	listener := newFakeListener(0)
	src, mock := listeningSource(t, listener)

	mock.ExpectQuery(loadQuery).WillReturnRows(orderRows("-N1"))
	mock.ExpectQuery(loadQuery).WillReturnError(errors.New("connection reset"))
	mock.ExpectQuery(loadQuery).WillReturnRows(orderRows("-N1", "-N2"))

	r := &recorder{}
	unsubscribe := New(src, quietLogger()).Subscribe(r.onUpdate)
	defer unsubscribe()

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)

	// The channel is unbuffered, so each send waits for the previous reload.
	listener.notify <- &pq.Notification{Channel: "orders_feed"}
	listener.notify <- &pq.Notification{Channel: "orders_feed"}

	require.Eventually(t, func() bool { return r.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Len(t, r.last(), 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunStartupFailureDeliversEmpty(t *testing.T) {
	tests := []struct {
		name      string
		listenErr error
		loadErr   error
	}{
		{"listen fails", errors.New("permission denied"), nil},
		{"initial load fails", nil, errors.New("relation does not exist")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			listener := newFakeListener(0)
			listener.listenErr = tt.listenErr
			src, mock := listeningSource(t, listener)
			if tt.loadErr != nil {
				mock.ExpectQuery(loadQuery).WillReturnError(tt.loadErr)
			}

			r := &recorder{}
			unsubscribe := New(src, quietLogger()).Subscribe(r.onUpdate)
			defer unsubscribe()

			require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
			assert.Empty(t, r.last())
			assert.True(t, listener.isClosed())
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
