package backend

import (
	"database/sql"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/navdeck-io/navdeck/core/apierror"
	"github.com/navdeck-io/navdeck/core/logger"
)

// createEntityResource mounts the resource contract for one entity. This is
// the only code path: every entity, whatever its descriptor, goes through
// the same handlers.
func (b *Backend) createEntityResource(router *mux.Router, e *entityConfiguration) {
	nillog := logger.Default()
	nillog.Debugln("create entity resource:", e.Resource)
	if e.Description != "" {
		nillog.Debugln("  description:", e.Description)
	}

	collectionPath := "/" + e.Plural
	itemPath := collectionPath + "/{id:[0-9]+}"

	guardRead := func(h http.HandlerFunc) http.HandlerFunc {
		if e.ProtectedRead {
			return b.gate.Protect(h)
		}
		return h
	}

	var collectionAllow, itemAllow []string
	if e.supports(OperationList) {
		nillog.Debugln("  handle route:", collectionPath, "GET")
		router.HandleFunc(collectionPath, guardRead(func(w http.ResponseWriter, r *http.Request) {
			b.list(w, r, e)
		})).Methods(http.MethodGet)
		collectionAllow = append(collectionAllow, http.MethodGet)
	}
	if e.supports(OperationCreate) {
		nillog.Debugln("  handle route:", collectionPath, "POST")
		router.HandleFunc(collectionPath, b.gate.Protect(func(w http.ResponseWriter, r *http.Request) {
			b.create(w, r, e)
		})).Methods(http.MethodPost)
		collectionAllow = append(collectionAllow, http.MethodPost)
	}
	router.HandleFunc(collectionPath, methodNotAllowed(collectionAllow...))

	if e.supports(OperationRead) {
		nillog.Debugln("  handle route:", itemPath, "GET")
		router.HandleFunc(itemPath, guardRead(func(w http.ResponseWriter, r *http.Request) {
			b.read(w, r, e)
		})).Methods(http.MethodGet)
		itemAllow = append(itemAllow, http.MethodGet)
	}
	if e.supports(OperationUpdate) {
		nillog.Debugln("  handle route:", itemPath, "PUT")
		router.HandleFunc(itemPath, b.gate.Protect(func(w http.ResponseWriter, r *http.Request) {
			b.update(w, r, e)
		})).Methods(http.MethodPut)
		itemAllow = append(itemAllow, http.MethodPut)
	}
	if e.supports(OperationDelete) {
		nillog.Debugln("  handle route:", itemPath, "DELETE")
		router.HandleFunc(itemPath, b.gate.Protect(func(w http.ResponseWriter, r *http.Request) {
			b.delete(w, r, e)
		})).Methods(http.MethodDelete)
		itemAllow = append(itemAllow, http.MethodDelete)
	}
	if len(itemAllow) > 0 {
		router.HandleFunc(itemPath, methodNotAllowed(itemAllow...))
	}

	for _, embed := range e.Embeds {
		embed := embed
		child, ok := b.entities[embed.Entity]
		if !ok {
			panic("unknown embedded entity " + embed.Entity)
		}
		childPath := itemPath + "/" + child.Plural
		nillog.Debugln("  handle route:", childPath, "GET")
		router.HandleFunc(childPath, guardRead(func(w http.ResponseWriter, r *http.Request) {
			rlog := logger.FromContext(r.Context())
			id, apiErr := pathID(r)
			if apiErr != nil {
				apierror.Write(w, rlog, apiErr)
				return
			}
			children, err := b.listChildren(child, embed.Column, id)
			if err != nil {
				apierror.Write(w, rlog, apierror.FromDB(err, ""))
				return
			}
			writeJSON(w, http.StatusOK, children)
		})).Methods(http.MethodGet)
	}
}

func pathID(r *http.Request) (int64, *apierror.Error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, apierror.Validation("id must be an integer")
	}
	return id, nil
}

// listRange is the pagination mode of a list request. Without page and
// pageSize parameters every row is returned as a bare array. With either
// parameter present the response is the paged envelope; the literal
// pageSize "all" returns every row but reports the true total as pageSize.
type listRange struct {
	paged    bool
	all      bool
	page     int
	pageSize int
}

func parseListRange(query url.Values) listRange {
	pageValue, sizeValue := query.Get("page"), query.Get("pageSize")
	if pageValue == "" && sizeValue == "" {
		return listRange{}
	}
	lr := listRange{paged: true, page: 1, pageSize: 10}
	if n, err := strconv.Atoi(pageValue); err == nil && n > 0 {
		lr.page = n
	}
	if strings.EqualFold(sizeValue, "all") {
		lr.all = true
	} else if n, err := strconv.Atoi(sizeValue); err == nil && n > 0 {
		lr.pageSize = n
	}
	return lr
}

// scanValuesAndObject returns scan targets for one row of the entity plus a
// function assembling the response object from the scanned values.
func scanValuesAndObject(e *entityConfiguration) ([]interface{}, func() map[string]interface{}) {
	fields := e.visibleFields()
	values := make([]interface{}, 0, len(fields)+1)
	values = append(values, new(int64)) // id
	for _, f := range fields {
		switch {
		case f.Type == "integer":
			values = append(values, new(int))
		case f.Type == "reference" && f.Nullable:
			values = append(values, new(sql.NullInt64))
		case f.Type == "reference":
			values = append(values, new(int64))
		case f.Nullable:
			values = append(values, new(sql.NullString))
		default:
			values = append(values, new(string))
		}
	}
	assemble := func() map[string]interface{} {
		object := map[string]interface{}{"id": *(values[0].(*int64))}
		for i, f := range fields {
			switch value := values[i+1].(type) {
			case *int:
				object[f.Name] = *value
			case *int64:
				object[f.Name] = *value
			case *string:
				object[f.Name] = *value
			case *sql.NullInt64:
				if value.Valid {
					object[f.Name] = value.Int64
				} else {
					object[f.Name] = nil
				}
			case *sql.NullString:
				if value.Valid {
					object[f.Name] = value.String
				} else {
					object[f.Name] = nil
				}
			}
		}
		return object
	}
	return values, assemble
}

func (e *entityConfiguration) selectColumns() []string {
	columns := []string{`"id"`}
	for _, f := range e.visibleFields() {
		columns = append(columns, quote(f.Name))
	}
	return columns
}

func (b *Backend) selectBuilder(e *entityConfiguration) sq.SelectBuilder {
	builder := b.sb.Select(e.selectColumns()...).From(b.table(e))
	if e.OrderBy != "" {
		return builder.OrderBy(quote(e.OrderBy)+" ASC", `"id" ASC`)
	}
	return builder.OrderBy(`"id" ASC`)
}

// decorate applies the read-time derivations of the entity: the favicon
// fallback logo and embedded child listings. Nothing here is persisted.
func (b *Backend) decorate(e *entityConfiguration, object map[string]interface{}) error {
	if fc := e.FaviconFallback; fc != nil {
		logo, _ := object[fc.LogoField].(string)
		if logo == "" {
			logo = faviconFromURL(object[fc.URLField])
		}
		object[fc.Property] = logo
	}
	for _, embed := range e.Embeds {
		child := b.entities[embed.Entity]
		id, _ := object["id"].(int64)
		children, err := b.listChildren(child, embed.Column, id)
		if err != nil {
			return err
		}
		object[embed.Property] = children
	}
	return nil
}

// faviconFromURL derives <origin>/favicon.ico from a card's target URL.
// An unparsable URL yields the empty string.
func faviconFromURL(value interface{}) string {
	target, _ := value.(string)
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host + "/favicon.ico"
}

// listChildren returns the child entity's rows referencing parentID,
// ordered. This runs as an independent query per parent object.
func (b *Backend) listChildren(child *entityConfiguration, column string, parentID int64) ([]map[string]interface{}, error) {
	query, args, err := b.selectBuilder(child).Where(sq.Eq{quote(column): parentID}).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := b.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	objects := []map[string]interface{}{}
	for rows.Next() {
		values, assemble := scanValuesAndObject(child)
		if err := rows.Scan(values...); err != nil {
			return nil, err
		}
		object := assemble()
		if err := b.decorate(child, object); err != nil {
			return nil, err
		}
		objects = append(objects, object)
	}
	return objects, rows.Err()
}

func (b *Backend) list(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	query := r.URL.Query()

	// the first scope whose parameter is present wins
	var conditions []sq.Sqlizer
	for _, scope := range e.Scopes {
		value := query.Get(scope.Parameter)
		if value == "" {
			continue
		}
		id, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			apierror.Write(w, rlog, apierror.Validation("parameter %s must be an integer", scope.Parameter))
			return
		}
		conditions = append(conditions, sq.Eq{quote(scope.Column): id})
		if scope.NullColumn != "" {
			conditions = append(conditions, sq.Eq{quote(scope.NullColumn): nil})
		}
		break
	}

	lr := parseListRange(query)
	builder := b.selectBuilder(e)
	for _, condition := range conditions {
		builder = builder.Where(condition)
	}

	var total int
	if lr.paged && !lr.all {
		countBuilder := b.sb.Select("COUNT(*)").From(b.table(e))
		for _, condition := range conditions {
			countBuilder = countBuilder.Where(condition)
		}
		countQuery, args, err := countBuilder.ToSql()
		if err == nil {
			err = b.db.QueryRow(countQuery, args...).Scan(&total)
		}
		if err != nil {
			apierror.Write(w, rlog, apierror.FromDB(err, ""))
			return
		}
		builder = builder.
			Limit(uint64(lr.pageSize)).
			Offset(uint64((lr.page - 1) * lr.pageSize))
	}

	sqlQuery, args, err := builder.ToSql()
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot build query", err))
		return
	}
	rows, err := b.db.Query(sqlQuery, args...)
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	defer rows.Close()

	objects := []map[string]interface{}{}
	for rows.Next() {
		values, assemble := scanValuesAndObject(e)
		if err := rows.Scan(values...); err != nil {
			apierror.Write(w, rlog, apierror.Internal("cannot scan values", err))
			return
		}
		object := assemble()
		if err := b.decorate(e, object); err != nil {
			apierror.Write(w, rlog, apierror.FromDB(err, ""))
			return
		}
		objects = append(objects, object)
	}
	if err := rows.Err(); err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}

	if !lr.paged {
		writeJSON(w, http.StatusOK, objects)
		return
	}
	pageSize := lr.pageSize
	if lr.all {
		total = len(objects)
		pageSize = total
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total":    total,
		"page":     lr.page,
		"pageSize": pageSize,
		"data":     objects,
	})
}

func (b *Backend) read(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	id, apiErr := pathID(r)
	if apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	query, args, err := b.selectBuilder(e).Where(sq.Eq{`"id"`: id}).ToSql()
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot build query", err))
		return
	}
	values, assemble := scanValuesAndObject(e)
	err = b.db.QueryRow(query, args...).Scan(values...)
	if err == sql.ErrNoRows {
		apierror.Write(w, rlog, apierror.NotFound("%s does not exist", e.Resource))
		return
	}
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	object := assemble()
	if err := b.decorate(e, object); err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	writeJSON(w, http.StatusOK, object)
}

// decodeBody reads the request body as a JSON object.
func decodeBody(r *http.Request) (map[string]interface{}, *apierror.Error) {
	var body map[string]interface{}
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(&body); err != nil {
		return nil, apierror.Validation("invalid request body")
	}
	return body, nil
}

// validateBody applies the entity's JSON schema, if one is configured.
func (b *Backend) validateBody(e *entityConfiguration, body map[string]interface{}) *apierror.Error {
	if e.SchemaID == "" || !b.validator.HasSchema(e.SchemaID) {
		return nil
	}
	if err := b.validator.ValidateStruct(body, e.SchemaID); err != nil {
		return apierror.Validation("%s", err.Error())
	}
	return nil
}

// intValue coerces a JSON value to an integer; absent or non-numeric
// values default to 0.
func intValue(raw interface{}) int {
	switch value := raw.(type) {
	case float64:
		return int(value)
	case string:
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return 0
}

// referenceValue coerces a JSON value to a row id.
func referenceValue(raw interface{}) (int64, bool) {
	switch value := raw.(type) {
	case float64:
		return int64(value), true
	case string:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

// assembleRecord turns a request body into the full column/value set of the
// entity. Omitted optional fields take their defaults: 0 for integers, NULL
// for nullable fields, the empty string otherwise. Missing required fields
// are a validation error.
func (e *entityConfiguration) assembleRecord(body map[string]interface{}) ([]string, []interface{}, *apierror.Error) {
	var columns []string
	var values []interface{}
	for _, f := range e.visibleFields() {
		raw := body[f.Name]
		columns = append(columns, quote(f.Name))
		switch f.Type {
		case "integer":
			values = append(values, intValue(raw))
		case "reference":
			id, ok := referenceValue(raw)
			if !ok {
				if f.Required {
					return nil, nil, apierror.Validation("%s is required", f.Name)
				}
				values = append(values, nil)
				continue
			}
			values = append(values, id)
		default:
			s, _ := raw.(string)
			if f.Required && strings.TrimSpace(s) == "" {
				return nil, nil, apierror.Validation("%s is required", f.Name)
			}
			if s == "" && f.Nullable {
				values = append(values, nil)
				continue
			}
			values = append(values, s)
		}
	}
	return columns, values, nil
}

// presentValue returns the value for a merge update, or nil when the field
// is absent so COALESCE keeps the prior value.
func presentValue(body map[string]interface{}, f fieldConfiguration) interface{} {
	raw, ok := body[f.Name]
	if !ok || raw == nil {
		return nil
	}
	switch f.Type {
	case "integer":
		return intValue(raw)
	case "reference":
		if id, ok := referenceValue(raw); ok {
			return id
		}
		return nil
	default:
		if s, ok := raw.(string); ok {
			return s
		}
		return nil
	}
}

func (b *Backend) create(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	body, apiErr := decodeBody(r)
	if apiErr == nil {
		apiErr = b.validateBody(e, body)
	}
	if apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	columns, values, apiErr := e.assembleRecord(body)
	if apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	query, args, err := b.sb.Insert(b.table(e)).
		Columns(columns...).
		Values(values...).
		Suffix(`RETURNING "id"`).
		ToSql()
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot build query", err))
		return
	}
	var id int64
	if err := b.db.QueryRow(query, args...).Scan(&id); err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, e.ConflictMessage))
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (b *Backend) update(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	id, apiErr := pathID(r)
	if apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	body, apiErr := decodeBody(r)
	if apiErr == nil {
		apiErr = b.validateBody(e, body)
	}
	if apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}

	builder := b.sb.Update(b.table(e))
	if e.UpdateMode == "merge" {
		// coalescing update: absent fields keep their prior value
		for _, f := range e.visibleFields() {
			column := quote(f.Name)
			builder = builder.Set(column, sq.Expr("COALESCE(?, "+column+")", presentValue(body, f)))
		}
	} else {
		// whole-record replace: absent fields revert to their defaults
		columns, values, apiErr := e.assembleRecord(body)
		if apiErr != nil {
			apierror.Write(w, rlog, apiErr)
			return
		}
		for i := range columns {
			builder = builder.Set(columns[i], values[i])
		}
	}

	query, args, err := builder.Where(sq.Eq{`"id"`: id}).ToSql()
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot build query", err))
		return
	}
	result, err := b.db.Exec(query, args...)
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, e.ConflictMessage))
		return
	}
	changed, _ := result.RowsAffected()
	if changed == 0 {
		apierror.Write(w, rlog, apierror.NotFound("%s does not exist", e.Resource))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"changed": changed})
}

func (b *Backend) delete(w http.ResponseWriter, r *http.Request, e *entityConfiguration) {
	rlog := logger.FromContext(r.Context())
	id, apiErr := pathID(r)
	if apiErr != nil {
		apierror.Write(w, rlog, apiErr)
		return
	}
	query, args, err := b.sb.Delete(b.table(e)).Where(sq.Eq{`"id"`: id}).ToSql()
	if err != nil {
		apierror.Write(w, rlog, apierror.Internal("cannot build query", err))
		return
	}
	result, err := b.db.Exec(query, args...)
	if err != nil {
		apierror.Write(w, rlog, apierror.FromDB(err, ""))
		return
	}
	deleted, _ := result.RowsAffected()
	if deleted == 0 {
		apierror.Write(w, rlog, apierror.NotFound("%s does not exist", e.Resource))
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}
