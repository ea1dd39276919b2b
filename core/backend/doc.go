/*
Package backend implements the generic data API

A backend serves the tables of a schema registry as RESTful resources. All data
routes live under /api/data and require a bearer token:

	POST   /api/data/{table}          insert an entry, 201 {success, data}
	GET    /api/data/{table}?col=val  query with equality conditions and optional limit
	GET    /api/data/{table}/{id}     read a single row
	PATCH  /api/data/{table}          partial update by primary key
	PUT    /api/data/{table}          update by primary key, requires all required fields
	PATCH  /api/data/{table}/batch    best-effort update of many rows
	DELETE /api/data/{table}/{id}     delete a single row

Errors are returned as {"error": "..."}. Unexpected errors are logged with a numbered
code and only the code is returned to the caller, e.g. {"error": "Error 4731"}.

Entry hooks can normalize entries before they are written, see HandleEntry. After a
successful write the optional notifier receives a change notification.

The routes /health and /version are not authenticated.
*/
package backend
