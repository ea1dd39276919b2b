package client

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/gardenbase/core/access"
)

func TestTablePaths(t *testing.T) {
	client := NewWithRouter(nil)

	table := client.Table("sensorReading")
	if p := table.Path(); p != "/api/data/sensorReading" {
		t.Fatal("unexpected table path:", p)
	}
}

func TestClientAgainstRouter(t *testing.T) {
	router := mux.NewRouter()
	var seen struct {
		method   string
		uri      string
		auth     string
		identity *access.Identity
	}
	router.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.uri = r.URL.RequestURI()
		seen.auth = r.Header.Get("Authorization")
		seen.identity = access.IdentityFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/data/missing" {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"Table missing not found"}`))
			return
		}
		w.Write([]byte(`{"success":true}`))
	})

	identity := &access.Identity{UserID: "u1"}
	client := NewWithRouter(router).WithToken("secret").WithIdentity(identity)

	var result map[string]interface{}
	status, err := client.Table("zone").Query(map[string]string{"userId": "u1", "limit": "5"}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, http.MethodGet, seen.method)
	assert.Equal(t, "/api/data/zone?limit=5&userId=u1", seen.uri)
	assert.Equal(t, "Bearer secret", seen.auth)
	assert.Equal(t, identity, seen.identity)
	assert.Equal(t, true, result["success"])

	_, err = client.Table("zone").UpdateMany([]map[string]interface{}{{"id": "z1"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPatch, seen.method)
	assert.Equal(t, "/api/data/zone/batch", seen.uri)

	_, err = client.Table("zone").Delete("z 1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, seen.method)
	assert.Equal(t, "/api/data/zone/z%201", seen.uri)

	result = nil
	status, err = client.Table("missing").Insert(map[string]interface{}{}, &result)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "Table missing not found", result["error"])
}
