package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gardenbase/core/csql"
	"github.com/relabs-tech/gardenbase/core/registry"
)

const testTables = `
tables:
  - name: owner
    required: [email, name]
    columns:
      - {name: email, type: text}
      - {name: name, type: text}
      - {name: createdAt, type: timestamp, generate: now}
  - name: probe
    order_by: receivedAt desc
    serialize_by: ownerId
    columns:
      - {name: ownerId, type: text, references: {table: owner, column: id}}
      - {name: moisture, type: number, nullable: true}
      - {name: count, type: integer, generate: static, static: 3}
      - {name: state, type: enum, enum: [active, retired], generate: static, static: active}
      - {name: receivedAt, type: timestamp, generate: now}
  - name: loose
    columns:
      - {name: label, type: text, nullable: true}
`

// newTestGateway returns a gateway on a private in-memory sqlite database. The
// "loose" table is created without primary key constraint, so that duplicate
// keys can be provoked.
func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	db, err := csql.OpenSQLite("file:" + uuid.New().String() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	r := registry.MustLoad([]byte(testTables))
	for _, statement := range r.CreateStatements(db) {
		if !strings.Contains(statement, db.Table("loose")) {
			_, err := db.Exec(statement)
			require.NoError(t, err, statement)
		}
	}
	_, err = db.Exec(`CREATE TABLE "loose" ("id" TEXT, "label" TEXT);`)
	require.NoError(t, err)

	g := New(db, r)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var mux sync.Mutex
	tick := 0
	g.Now = func() time.Time {
		mux.Lock()
		defer mux.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return g
}

func insertOwner(t *testing.T, g *Gateway, name string) Row {
	t.Helper()
	row, err := g.Insert(context.Background(), "owner", Entry{"email": name + "@example.com", "name": name})
	require.NoError(t, err)
	return row
}

func TestInsertGeneratesDefaults(t *testing.T) {
	g := newTestGateway(t)
	owner := insertOwner(t, g, "alice")

	id, ok := owner["id"].(string)
	require.True(t, ok)
	_, err := uuid.Parse(id)
	assert.NoError(t, err, "generated id must be a uuid")
	assert.Equal(t, "alice", owner["name"])
	assert.IsType(t, time.Time{}, owner["createdAt"])

	probe, err := g.Insert(context.Background(), "probe", Entry{"ownerId": id, "moisture": 42})
	require.NoError(t, err)
	assert.Equal(t, 42.0, probe["moisture"])
	assert.Equal(t, int64(3), probe["count"])
	assert.Equal(t, "active", probe["state"])
}

func TestInsertKeepsSuppliedPrimaryKey(t *testing.T) {
	g := newTestGateway(t)
	row, err := g.Insert(context.Background(), "owner", Entry{"id": "fixed", "email": "a@b.c", "name": "a"})
	require.NoError(t, err)
	assert.Equal(t, "fixed", row["id"])

	_, err = g.Insert(context.Background(), "owner", Entry{"id": "fixed", "email": "a@b.c", "name": "a"})
	assert.True(t, errors.Is(err, ErrInsertFailed), "duplicate key: %v", err)
}

func TestInsertNullGeneratedColumns(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	owner, err := g.Insert(ctx, "owner", Entry{"id": nil, "email": "a@b.c", "name": "a", "createdAt": nil})
	require.NoError(t, err)
	id, ok := owner["id"].(string)
	require.True(t, ok)
	_, err = uuid.Parse(id)
	assert.NoError(t, err)
	assert.IsType(t, time.Time{}, owner["createdAt"])

	probe, err := g.Insert(ctx, "probe", Entry{"ownerId": id, "moisture": nil, "count": nil, "state": nil})
	require.NoError(t, err)
	assert.Nil(t, probe["moisture"])
	assert.Equal(t, int64(3), probe["count"])
	assert.Equal(t, "active", probe["state"])
}

func TestInsertErrors(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()

	_, err := g.Insert(ctx, "unknownTable", Entry{})
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "Table unknownTable not found", err.Error())

	_, err = g.Insert(ctx, "owner", Entry{"email": "x", "name": "x", "shoeSize": 44})
	assert.True(t, errors.Is(err, ErrUnknownColumn))

	_, err = g.Insert(ctx, "probe", Entry{"ownerId": "nobody"})
	assert.True(t, errors.Is(err, ErrInsertFailed), "foreign key violation: %v", err)

	_, err = g.Insert(ctx, "owner", Entry{"email": "x"})
	assert.True(t, errors.Is(err, ErrInsertFailed), "not null violation: %v", err)

	owner := insertOwner(t, g, "bob")
	_, err = g.Insert(ctx, "probe", Entry{"ownerId": owner["id"], "state": "lost"})
	assert.True(t, errors.Is(err, ErrInvalidValue))
	_, err = g.Insert(ctx, "probe", Entry{"ownerId": owner["id"], "count": 2.5})
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestQuery(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	alice := insertOwner(t, g, "alice")
	bob := insertOwner(t, g, "bob")

	for i := 0; i < 5; i++ {
		_, err := g.Insert(ctx, "probe", Entry{"ownerId": alice["id"], "moisture": float64(i)})
		require.NoError(t, err)
	}
	_, err := g.Insert(ctx, "probe", Entry{"ownerId": bob["id"], "moisture": 1, "state": "retired"})
	require.NoError(t, err)

	t.Run("all", func(t *testing.T) {
		rows, err := g.Query(ctx, "probe", nil, QueryOptions{})
		require.NoError(t, err)
		assert.Len(t, rows, 6)
	})

	t.Run("ordered by receivedAt descending", func(t *testing.T) {
		rows, err := g.Query(ctx, "probe", Where("ownerId", alice["id"]), QueryOptions{})
		require.NoError(t, err)
		require.Len(t, rows, 5)
		for i := 1; i < len(rows); i++ {
			assert.True(t, rows[i-1]["receivedAt"].(time.Time).After(rows[i]["receivedAt"].(time.Time)))
		}
		assert.Equal(t, 4.0, rows[0]["moisture"])
	})

	t.Run("limit", func(t *testing.T) {
		rows, err := g.Query(ctx, "probe", nil, QueryOptions{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("conjunction", func(t *testing.T) {
		rows, err := g.Query(ctx, "probe", Where("moisture", 1).And("state", "retired"), QueryOptions{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, bob["id"], rows[0]["ownerId"])

		rows, err = g.Query(ctx, "probe", Where("moisture", 1).And("ownerId", alice["id"]), QueryOptions{})
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "active", rows[0]["state"])
	})

	t.Run("empty result", func(t *testing.T) {
		rows, err := g.Query(ctx, "probe", Where("moisture", 99), QueryOptions{})
		require.NoError(t, err)
		assert.NotNil(t, rows)
		assert.Len(t, rows, 0)
	})

	t.Run("explicit order", func(t *testing.T) {
		rows, err := g.Query(ctx, "probe", Where("ownerId", alice["id"]),
			QueryOptions{OrderBy: &registry.Ordering{Column: "moisture"}})
		require.NoError(t, err)
		require.Len(t, rows, 5)
		assert.Equal(t, 0.0, rows[0]["moisture"])
	})

	t.Run("unknown column", func(t *testing.T) {
		_, err := g.Query(ctx, "probe", Where("color", "red"), QueryOptions{})
		assert.True(t, errors.Is(err, ErrUnknownColumn))
	})
}

func TestUpdateByPrimaryKey(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	owner := insertOwner(t, g, "alice")

	updated, err := g.UpdateByPrimaryKey(ctx, "owner", Entry{"id": owner["id"], "name": "Alice"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated["name"])
	assert.Equal(t, owner["email"], updated["email"])
	assert.Equal(t, owner["createdAt"], updated["createdAt"])

	read, err := g.Get(ctx, "owner", owner["id"])
	require.NoError(t, err)
	assert.Equal(t, updated, read)

	_, err = g.UpdateByPrimaryKey(ctx, "owner", Entry{"name": "nobody"})
	assert.True(t, errors.Is(err, ErrMissingPrimaryKey))

	_, err = g.UpdateByPrimaryKey(ctx, "owner", Entry{"id": "does-not-exist", "name": "x"})
	assert.True(t, errors.Is(err, ErrNoMatch))

	_, err = g.UpdateByPrimaryKey(ctx, "owner", Entry{"id": owner["id"], "name": nil})
	assert.True(t, errors.Is(err, ErrInsertFailed), "not null violation: %v", err)
}

func TestAmbiguousMatch(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := g.db.Exec(`INSERT INTO "loose" ("id", "label") VALUES ('twin', ?);`, fmt.Sprint("copy", i))
		require.NoError(t, err)
	}

	_, err := g.UpdateByPrimaryKey(ctx, "loose", Entry{"id": "twin", "label": "x"})
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))
	_, err = g.DeleteByPrimaryKey(ctx, "loose", "twin")
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))
	_, err = g.Get(ctx, "loose", "twin")
	assert.True(t, errors.Is(err, ErrAmbiguousMatch))

	rows, err := g.Query(ctx, "loose", Where("id", "twin"), QueryOptions{})
	require.NoError(t, err)
	assert.Len(t, rows, 2, "nothing must have been modified")
	for _, row := range rows {
		assert.NotEqual(t, "x", row["label"])
	}
}

func TestDeleteByPrimaryKey(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	owner := insertOwner(t, g, "alice")

	deleted, err := g.DeleteByPrimaryKey(ctx, "owner", owner["id"])
	require.NoError(t, err)
	assert.Equal(t, owner, deleted)

	_, err = g.Get(ctx, "owner", owner["id"])
	assert.True(t, errors.Is(err, ErrNoMatch))
	_, err = g.DeleteByPrimaryKey(ctx, "owner", owner["id"])
	assert.True(t, errors.Is(err, ErrNoMatch))
	_, err = g.DeleteByPrimaryKey(ctx, "owner", "")
	assert.True(t, errors.Is(err, ErrMissingPrimaryKey))

	referenced := insertOwner(t, g, "bob")
	_, err = g.Insert(ctx, "probe", Entry{"ownerId": referenced["id"]})
	require.NoError(t, err)
	_, err = g.DeleteByPrimaryKey(ctx, "owner", referenced["id"])
	assert.True(t, errors.Is(err, ErrInsertFailed), "foreign key violation: %v", err)
}

func TestUpdateMany(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	alice := insertOwner(t, g, "alice")
	bob := insertOwner(t, g, "bob")

	result, err := g.UpdateMany(ctx, "owner", []Entry{
		{"id": alice["id"], "name": "Alice"},
		{"name": "no key"},
		{"id": "ghost", "name": "Ghost"},
		{"id": bob["id"], "name": "Bob"},
		{"id": bob["id"], "hat": "yes"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.ValidCount)
	require.Len(t, result.InvalidEntries, 3)
	assert.Equal(t, ErrMissingPrimaryKey.Error(), result.InvalidEntries[0].Reason)
	assert.Equal(t, ErrNoMatch.Error(), result.InvalidEntries[1].Reason)
	assert.Contains(t, result.InvalidEntries[2].Reason, "hat")

	read, err := g.Get(ctx, "owner", bob["id"])
	require.NoError(t, err)
	assert.Equal(t, "Bob", read["name"])

	result, err = g.UpdateMany(ctx, "owner", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ValidCount)
	assert.NotNil(t, result.InvalidEntries)

	_, err = g.UpdateMany(ctx, "unknownTable", nil)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestConcurrentUpdatesLastWriteWins(t *testing.T) {
	g := newTestGateway(t)
	ctx := context.Background()
	owner := insertOwner(t, g, "alice")
	probe, err := g.Insert(ctx, "probe", Entry{"ownerId": owner["id"]})
	require.NoError(t, err)

	// every writer sends a full payload whose fields identify the writer
	payload := func(i int) Entry {
		state := "active"
		if i%2 == 1 {
			state = "retired"
		}
		return Entry{"id": probe["id"], "moisture": float64(i), "count": int64(100 + i), "state": state}
	}

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.UpdateByPrimaryKey(ctx, "probe", payload(i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	read, err := g.Get(ctx, "probe", probe["id"])
	require.NoError(t, err)
	moisture, ok := read["moisture"].(float64)
	require.True(t, ok)
	require.True(t, moisture >= 0 && moisture < writers)

	winner := payload(int(moisture))
	for column, value := range winner {
		assert.Equal(t, value, read[column], "column %s must come from writer %v", column, moisture)
	}
	assert.Equal(t, 0, g.locks.size())
}

func TestBuildCondition(t *testing.T) {
	r := registry.MustLoad([]byte(testTables))
	probe, _ := r.Describe("probe")

	condition, err := BuildCondition(probe, map[string]string{"state": "active", "moisture": "12.5", "count": "3"})
	require.NoError(t, err)
	assert.Equal(t, Condition{
		{Column: "count", Value: int64(3)},
		{Column: "moisture", Value: 12.5},
		{Column: "state", Value: "active"},
	}, condition)

	condition, err = BuildCondition(probe, map[string]string{})
	require.NoError(t, err)
	assert.Len(t, condition, 0)

	_, err = BuildCondition(probe, map[string]string{"color": "red"})
	assert.True(t, errors.Is(err, ErrUnknownColumn))
	_, err = BuildCondition(probe, map[string]string{"count": "many"})
	assert.True(t, errors.Is(err, ErrInvalidValue))
	_, err = BuildCondition(probe, map[string]string{"receivedAt": "yesterday"})
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestWhere(t *testing.T) {
	pg := &csql.DB{Schema: "garden", Driver: csql.DriverPostgres}
	lite := &csql.DB{Schema: "main", Driver: csql.DriverSQLite}

	condition := Where("a", 1).And("b", nil).And("c", "x")
	where, parameters := condition.where(pg, 0)
	assert.Equal(t, ` WHERE "a" = $1 AND "b" IS NULL AND "c" = $2`, where)
	assert.Equal(t, []interface{}{1, "x"}, parameters)

	where, _ = condition.where(pg, 3)
	assert.Equal(t, ` WHERE "a" = $4 AND "b" IS NULL AND "c" = $5`, where)

	where, _ = Where("a", 1).where(lite, 0)
	assert.Equal(t, ` WHERE "a" = ?`, where)

	where, parameters = Condition{}.where(pg, 0)
	assert.Equal(t, "", where)
	assert.Nil(t, parameters)
}

func TestKeyLock(t *testing.T) {
	k := newKeyLock()
	unlock := k.lock("a")
	assert.Equal(t, 1, k.size())

	acquired := make(chan struct{})
	go func() {
		u := k.lock("a")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	other := k.lock("b")
	other()
	unlock()
	<-acquired
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, 10*time.Millisecond)
}
