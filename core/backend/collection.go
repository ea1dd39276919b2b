// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/gardenbase/core"
	"github.com/relabs-tech/gardenbase/core/gateway"
	"github.com/relabs-tech/gardenbase/core/logger"
)

var errNotAnObject = errors.New("body must be a JSON object")

func (b *Backend) handleData(router *mux.Router) {
	nillog := logger.Default()
	nillog.Debugln("data api")
	nillog.Debugln("  handle data route: /api/data/{table} GET, POST, PATCH, PUT")
	nillog.Debugln("  handle data route: /api/data/{table}/batch PATCH")
	nillog.Debugln("  handle data route: /api/data/{table}/{id} GET, DELETE")

	router.HandleFunc("/data/{table}/batch", b.updateMany).Methods(http.MethodOptions, http.MethodPatch)
	router.HandleFunc("/data/{table}", b.insert).Methods(http.MethodOptions, http.MethodPost)
	router.HandleFunc("/data/{table}", b.query).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/data/{table}", b.update).Methods(http.MethodOptions, http.MethodPatch)
	router.HandleFunc("/data/{table}", b.replace).Methods(http.MethodOptions, http.MethodPut)
	router.HandleFunc("/data/{table}/{id}", b.get).Methods(http.MethodOptions, http.MethodGet)
	router.HandleFunc("/data/{table}/{id}", b.delete).Methods(http.MethodOptions, http.MethodDelete)
}

// storeContext detaches store operations from the client connection. A client
// which disconnects does not abort a write in flight.
func storeContext(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func decodeEntry(r *http.Request) (gateway.Entry, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var entry map[string]interface{}
	if err := decoder.Decode(&entry); err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, errNotAnObject
	}
	return entry, nil
}

func decodeEntries(r *http.Request) ([]gateway.Entry, error) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()
	var entries []map[string]interface{}
	if err := decoder.Decode(&entries); err != nil {
		return nil, err
	}
	result := make([]gateway.Entry, len(entries))
	for i, entry := range entries {
		if entry == nil {
			return nil, fmt.Errorf("entry %d: %w", i, errNotAnObject)
		}
		result[i] = entry
	}
	return result, nil
}

func (b *Backend) notify(ctx context.Context, table string, operation core.Operation, row gateway.Row) {
	if b.notifier == nil {
		return
	}
	rlog := logger.FromContext(ctx)
	payload, err := json.Marshal(row)
	if err != nil {
		rlog.WithError(err).Errorf("Error 4741: cannot marshal notification for %s", table)
		return
	}
	if err := b.notifier.Notify(ctx, table, operation, payload); err != nil {
		rlog.WithError(err).Errorf("Error 4742: cannot notify %s %s", operation, table)
	}
}

func (b *Backend) insert(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	ctx := storeContext(r)
	if _, err := b.gateway.Describe(table); err != nil {
		writeGatewayError(w, r, err, "Error 4731")
		return
	}

	entry, err := decodeEntry(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := b.runHooks(ctx, table, core.OperationCreate, entry); err != nil {
		writeGatewayError(w, r, hookError(err), "Error 4731")
		return
	}

	row, err := b.gateway.Insert(ctx, table, entry)
	if err != nil {
		writeGatewayError(w, r, err, "Error 4731")
		return
	}
	b.notify(ctx, table, core.OperationCreate, row)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "data": row})
}

func (b *Backend) query(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	ctx := storeContext(r)
	t, err := b.gateway.Describe(table)
	if err != nil {
		writeGatewayError(w, r, err, "Error 4732")
		return
	}

	options := gateway.QueryOptions{Limit: gateway.DefaultLimit}
	parameters := map[string]string{}
	for key, values := range r.URL.Query() {
		if len(values) != 1 {
			writeError(w, r, http.StatusBadRequest, "illegal parameter array '"+key+"'")
			return
		}
		value := values[0]
		if key == "limit" {
			limit, err := strconv.Atoi(value)
			if err != nil || limit < 1 || limit > maxLimit {
				writeError(w, r, http.StatusBadRequest,
					fmt.Sprintf("parameter 'limit': '%s' is not an integer between 1 and %d", value, maxLimit))
				return
			}
			options.Limit = limit
			continue
		}
		parameters[key] = value
	}

	condition, err := gateway.BuildCondition(t, parameters)
	if err != nil {
		writeGatewayError(w, r, err, "Error 4732")
		return
	}
	rows, err := b.gateway.Query(ctx, table, condition, options)
	if err != nil {
		writeGatewayError(w, r, err, "Error 4732")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": rows})
}

func (b *Backend) get(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	row, err := b.gateway.Get(storeContext(r), vars["table"], vars["id"])
	if err != nil {
		writeGatewayError(w, r, err, "Error 4733")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": row})
}

func (b *Backend) update(w http.ResponseWriter, r *http.Request) {
	b.updateOne(w, r, false)
}

func (b *Backend) replace(w http.ResponseWriter, r *http.Request) {
	b.updateOne(w, r, true)
}

// updateOne updates a single row. With required, the entry must carry all
// required fields of the table.
func (b *Backend) updateOne(w http.ResponseWriter, r *http.Request, required bool) {
	table := mux.Vars(r)["table"]
	ctx := storeContext(r)
	code := "Error 4734"
	if required {
		code = "Error 4735"
	}
	if _, err := b.gateway.Describe(table); err != nil {
		writeGatewayError(w, r, err, code)
		return
	}

	entry, err := decodeEntry(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if required {
		if err := b.validator.ValidateEntry(table, entry); err != nil {
			writeGatewayError(w, r, err, code)
			return
		}
	}
	if err := b.runHooks(ctx, table, core.OperationUpdate, entry); err != nil {
		writeGatewayError(w, r, hookError(err), code)
		return
	}

	row, err := b.gateway.UpdateByPrimaryKey(ctx, table, entry)
	if err != nil {
		writeGatewayError(w, r, err, code)
		return
	}
	b.notify(ctx, table, core.OperationUpdate, row)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "updated": true, "data": row})
}

func (b *Backend) updateMany(w http.ResponseWriter, r *http.Request) {
	table := mux.Vars(r)["table"]
	ctx := storeContext(r)
	if _, err := b.gateway.Describe(table); err != nil {
		writeGatewayError(w, r, err, "Error 4736")
		return
	}

	entries, err := decodeEntries(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}

	rejected := []gateway.InvalidEntry{}
	accepted := make([]gateway.Entry, 0, len(entries))
	for _, entry := range entries {
		if err := b.runHooks(ctx, table, core.OperationUpdate, entry); err != nil {
			rejected = append(rejected, gateway.InvalidEntry{Entry: entry, Reason: hookError(err).Error()})
			continue
		}
		accepted = append(accepted, entry)
	}

	result, err := b.gateway.UpdateMany(ctx, table, accepted)
	if err != nil {
		writeGatewayError(w, r, err, "Error 4736")
		return
	}
	for _, row := range result.Updated {
		b.notify(ctx, table, core.OperationUpdate, row)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"validCount":     result.ValidCount,
		"invalidEntries": append(rejected, result.InvalidEntries...),
	})
}

func (b *Backend) delete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	table := vars["table"]
	ctx := storeContext(r)
	row, err := b.gateway.DeleteByPrimaryKey(ctx, table, vars["id"])
	if err != nil {
		writeGatewayError(w, r, err, "Error 4737")
		return
	}
	b.notify(ctx, table, core.OperationDelete, row)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "deleted": true, "data": row})
}

// hookError makes sure hook errors are reported as invalid values
func hookError(err error) error {
	if gateway.IsExpected(err) {
		return err
	}
	return &gateway.InvalidValueError{Column: "entry", Reason: err.Error()}
}
