package operator

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/theory/jsonpath"

	"github.com/deckrun/deck/internal/value"
)

var (
	// ErrDecode indicates a malformed operator payload.
	ErrDecode = errors.New("invalid operator expression")

	// ErrUnknownOperator indicates a `$`-key outside the closed set.
	ErrUnknownOperator = errors.New("unknown operator")
)

// Default binding names for collection operators when `as`/`acc` are
// omitted.
const (
	DefaultItemName = "item"
	DefaultAccName  = "acc"
)

// Node wraps an Expr so operator expressions can sit directly in
// JSON- and YAML-decoded structs.
type Node struct {
	Expr Expr
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	expr, err := Decode(raw)
	if err != nil {
		return err
	}
	n.Expr = expr
	return nil
}

func (n *Node) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}

	expr, err := Decode(raw)
	if err != nil {
		return err
	}
	n.Expr = expr
	return nil
}

// Decode turns a decoded JSON/YAML tree into an expression. An object
// with exactly one `$`-prefixed key is an operator; a single unknown
// `$`-key is a decode error so typos surface at load time, not during
// a request. Everything else is a literal.
func Decode(raw any) (Expr, error) {
	object, ok := raw.(map[string]any)
	if !ok || len(object) != 1 {
		return Literal{Value: raw}, nil
	}

	var name string
	var payload any
	for key, val := range object {
		name, payload = key, val
	}

	if !strings.HasPrefix(name, "$") {
		return Literal{Value: raw}, nil
	}

	return decodeOperator(name, payload)
}

func decodeOperator(name string, payload any) (Expr, error) {
	switch name {
	case "$get":
		path, err := stringPayload(name, payload)
		if err != nil {
			return nil, err
		}
		return Get{Path: path}, nil

	case "$jsonPath":
		path, err := stringPayload(name, payload)
		if err != nil {
			return nil, err
		}
		if _, err := jsonpath.Parse(path); err != nil {
			return nil, fmt.Errorf("%w: $jsonPath %q: %v", ErrDecode, path, err)
		}
		return JSONPathQuery{Path: path}, nil

	case "$if":
		return decodeIf(payload)

	case "$switch":
		return decodeSwitch(payload)

	case "$map":
		return decodeMap(payload)

	case "$filter":
		return decodeFilter(payload)

	case "$reduce":
		return decodeReduce(payload)

	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		left, right, err := decodePair(name, payload)
		if err != nil {
			return nil, err
		}
		return Compare{Op: CompareKind(name), Left: left, Right: right}, nil

	case "$and", "$or":
		operands, err := logicPayload(name, payload)
		if err != nil {
			return nil, err
		}
		return Logic{Op: LogicKind(name), Operands: operands}, nil

	case "$not":
		operand, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		return Not{Operand: operand}, nil

	case "$add", "$multiply":
		operands, err := exprListPayload(name, payload, 2)
		if err != nil {
			return nil, err
		}
		return Math{Op: MathKind(name), Operands: operands}, nil

	case "$subtract", "$divide":
		left, right, err := decodePair(name, payload)
		if err != nil {
			return nil, err
		}
		return Math{Op: MathKind(name), Operands: []Expr{left, right}}, nil

	case "$merge":
		objects, err := exprListPayload(name, payload, 1)
		if err != nil {
			return nil, err
		}
		return Merge{Objects: objects}, nil

	case "$exists":
		operand, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		return Exists{Value: operand}, nil

	case "$now":
		if object, ok := payload.(map[string]any); payload != nil && (!ok || len(object) > 0) {
			return nil, fmt.Errorf("%w: $now takes no arguments", ErrDecode)
		}
		return Now{}, nil

	case "$renderString":
		return decodeRenderString(payload)

	case "$return":
		operand, err := Decode(payload)
		if err != nil {
			return nil, err
		}
		return Return{Value: operand}, nil

	case "$validate":
		return decodeValidate(payload)

	case "$dbQuery":
		return decodeDBQuery(payload)

	case "$dbInsert":
		return decodeDBInsert(payload)

	case "$dbUpdate":
		return decodeDBUpdate(payload)

	case "$dbDelete":
		return decodeDBDelete(payload)

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, name)
	}
}

func decodeIf(payload any) (Expr, error) {
	object, err := objectPayload("$if", payload, "cond", "condition", "then", "else")
	if err != nil {
		return nil, err
	}

	cond, err := requiredExpr("$if", object, "cond", "condition")
	if err != nil {
		return nil, err
	}
	then, err := requiredExpr("$if", object, "then")
	if err != nil {
		return nil, err
	}
	elseBranch, err := optionalExpr(object, "else")
	if err != nil {
		return nil, err
	}

	return If{Cond: cond, Then: then, Else: elseBranch}, nil
}

func decodeSwitch(payload any) (Expr, error) {
	object, err := objectPayload("$switch", payload, "on", "cases", "default")
	if err != nil {
		return nil, err
	}

	on, err := requiredExpr("$switch", object, "on")
	if err != nil {
		return nil, err
	}

	rawCases, ok := object["cases"].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: $switch requires a cases array", ErrDecode)
	}

	cases := make([]SwitchCase, 0, len(rawCases))
	for index, rawCase := range rawCases {
		caseObject, ok := rawCase.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: $switch case %d must be an object", ErrDecode, index)
		}
		when, present := caseObject["when"]
		if !present {
			return nil, fmt.Errorf("%w: $switch case %d missing when", ErrDecode, index)
		}
		then, err := requiredExpr("$switch", caseObject, "then")
		if err != nil {
			return nil, fmt.Errorf("%w: $switch case %d: %v", ErrDecode, index, err)
		}
		cases = append(cases, SwitchCase{When: when, Then: then})
	}

	defaultBranch, err := optionalExpr(object, "default")
	if err != nil {
		return nil, err
	}

	return Switch{On: on, Cases: cases, Default: defaultBranch}, nil
}

func decodeMap(payload any) (Expr, error) {
	object, err := objectPayload("$map", payload, "items", "as", "body")
	if err != nil {
		return nil, err
	}

	items, err := requiredExpr("$map", object, "items")
	if err != nil {
		return nil, err
	}
	body, err := requiredExpr("$map", object, "body")
	if err != nil {
		return nil, err
	}
	as, err := bindingName(object, "as", DefaultItemName)
	if err != nil {
		return nil, err
	}

	return Map{Items: items, As: as, Body: body}, nil
}

func decodeFilter(payload any) (Expr, error) {
	object, err := objectPayload("$filter", payload, "items", "as", "predicate")
	if err != nil {
		return nil, err
	}

	items, err := requiredExpr("$filter", object, "items")
	if err != nil {
		return nil, err
	}
	predicate, err := requiredExpr("$filter", object, "predicate")
	if err != nil {
		return nil, err
	}
	as, err := bindingName(object, "as", DefaultItemName)
	if err != nil {
		return nil, err
	}

	return Filter{Items: items, As: as, Predicate: predicate}, nil
}

func decodeReduce(payload any) (Expr, error) {
	object, err := objectPayload("$reduce", payload, "items", "as", "acc", "initial", "body")
	if err != nil {
		return nil, err
	}

	items, err := requiredExpr("$reduce", object, "items")
	if err != nil {
		return nil, err
	}
	body, err := requiredExpr("$reduce", object, "body")
	if err != nil {
		return nil, err
	}
	initial, err := requiredExpr("$reduce", object, "initial")
	if err != nil {
		return nil, err
	}
	as, err := bindingName(object, "as", DefaultItemName)
	if err != nil {
		return nil, err
	}
	acc, err := bindingName(object, "acc", DefaultAccName)
	if err != nil {
		return nil, err
	}

	return Reduce{Items: items, As: as, Acc: acc, Initial: initial, Body: body}, nil
}

func decodeRenderString(payload any) (Expr, error) {
	if template, ok := payload.(string); ok {
		return RenderString{Template: Literal{Value: template}}, nil
	}

	object, err := objectPayload("$renderString", payload, "template", "vars")
	if err != nil {
		return nil, err
	}

	template, err := requiredExpr("$renderString", object, "template")
	if err != nil {
		return nil, err
	}
	vars, err := optionalExpr(object, "vars")
	if err != nil {
		return nil, err
	}

	return RenderString{Template: template, Vars: vars}, nil
}

func decodeValidate(payload any) (Expr, error) {
	object, err := objectPayload("$validate", payload, "value", "data", "schema")
	if err != nil {
		return nil, err
	}

	checked, err := requiredExpr("$validate", object, "value", "data")
	if err != nil {
		return nil, err
	}
	schema, present := object["schema"]
	if !present {
		return nil, fmt.Errorf("%w: $validate requires a schema", ErrDecode)
	}

	return Validate{Value: checked, Schema: schema}, nil
}

func decodeDBQuery(payload any) (Expr, error) {
	object, err := objectPayload("$dbQuery", payload, "collection", "filter", "select", "limit", "skip", "sort")
	if err != nil {
		return nil, err
	}

	collection, err := collectionName("$dbQuery", object)
	if err != nil {
		return nil, err
	}
	filter, err := optionalExprMap("$dbQuery", object, "filter")
	if err != nil {
		return nil, err
	}
	selected, err := optionalStringList("$dbQuery", object, "select")
	if err != nil {
		return nil, err
	}
	limit, err := optionalCount("$dbQuery", object, "limit")
	if err != nil {
		return nil, err
	}
	skip, err := optionalCount("$dbQuery", object, "skip")
	if err != nil {
		return nil, err
	}
	sortFields, err := decodeSort(object["sort"])
	if err != nil {
		return nil, err
	}

	return DBQuery{
		Collection: collection,
		Filter:     filter,
		Select:     selected,
		Limit:      limit,
		Skip:       skip,
		Sort:       sortFields,
	}, nil
}

func decodeDBInsert(payload any) (Expr, error) {
	object, err := objectPayload("$dbInsert", payload, "collection", "document")
	if err != nil {
		return nil, err
	}

	collection, err := collectionName("$dbInsert", object)
	if err != nil {
		return nil, err
	}
	document, err := requiredExprMap("$dbInsert", object, "document")
	if err != nil {
		return nil, err
	}

	return DBInsert{Collection: collection, Document: document}, nil
}

func decodeDBUpdate(payload any) (Expr, error) {
	object, err := objectPayload("$dbUpdate", payload, "collection", "filter", "update")
	if err != nil {
		return nil, err
	}

	collection, err := collectionName("$dbUpdate", object)
	if err != nil {
		return nil, err
	}
	filter, err := requiredExprMap("$dbUpdate", object, "filter")
	if err != nil {
		return nil, err
	}
	update, err := requiredExprMap("$dbUpdate", object, "update")
	if err != nil {
		return nil, err
	}

	return DBUpdate{Collection: collection, Filter: filter, Update: update}, nil
}

func decodeDBDelete(payload any) (Expr, error) {
	object, err := objectPayload("$dbDelete", payload, "collection", "filter")
	if err != nil {
		return nil, err
	}

	collection, err := collectionName("$dbDelete", object)
	if err != nil {
		return nil, err
	}
	filter, err := requiredExprMap("$dbDelete", object, "filter")
	if err != nil {
		return nil, err
	}

	return DBDelete{Collection: collection, Filter: filter}, nil
}

func decodeSort(raw any) ([]SortField, error) {
	switch current := raw.(type) {
	case nil:
		return nil, nil
	case []any:
		fields := make([]SortField, 0, len(current))
		for index, entry := range current {
			object, ok := entry.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: sort entry %d must be an object", ErrDecode, index)
			}
			field, ok := object["field"].(string)
			if !ok || field == "" {
				return nil, fmt.Errorf("%w: sort entry %d missing field", ErrDecode, index)
			}
			order, err := sortOrder(object["order"])
			if err != nil {
				return nil, err
			}
			fields = append(fields, SortField{Field: field, Desc: order})
		}
		return fields, nil
	case map[string]any:
		// Object form loses declaration order in decoded maps, so sort
		// keys for a stable result.
		names := make([]string, 0, len(current))
		for name := range current {
			names = append(names, name)
		}
		sort.Strings(names)

		fields := make([]SortField, 0, len(names))
		for _, name := range names {
			order, err := sortOrder(current[name])
			if err != nil {
				return nil, err
			}
			fields = append(fields, SortField{Field: name, Desc: order})
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("%w: sort must be an object or array", ErrDecode)
	}
}

func sortOrder(raw any) (bool, error) {
	switch order := raw.(type) {
	case nil:
		return false, nil
	case string:
		switch order {
		case "asc":
			return false, nil
		case "desc":
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: sort order must be \"asc\" or \"desc\"", ErrDecode)
}

func stringPayload(op string, payload any) (string, error) {
	str, ok := payload.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("%w: %s requires a non-empty string path", ErrDecode, op)
	}
	return str, nil
}

func objectPayload(op string, payload any, allowed ...string) (map[string]any, error) {
	object, ok := payload.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires an object payload", ErrDecode, op)
	}

	for key := range object {
		known := false
		for _, name := range allowed {
			if key == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %s has unknown field %q", ErrDecode, op, key)
		}
	}

	return object, nil
}

// requiredExpr decodes the first present key of names, failing when
// none is set.
func requiredExpr(op string, object map[string]any, names ...string) (Expr, error) {
	for _, name := range names {
		if raw, present := object[name]; present {
			return Decode(raw)
		}
	}
	return nil, fmt.Errorf("%w: %s requires %q", ErrDecode, op, names[0])
}

func optionalExpr(object map[string]any, name string) (Expr, error) {
	raw, present := object[name]
	if !present {
		return nil, nil
	}
	return Decode(raw)
}

func requiredExprMap(op string, object map[string]any, name string) (map[string]Expr, error) {
	decoded, err := optionalExprMap(op, object, name)
	if err != nil {
		return nil, err
	}
	if decoded == nil {
		return nil, fmt.Errorf("%w: %s requires %q", ErrDecode, op, name)
	}
	return decoded, nil
}

func optionalExprMap(op string, object map[string]any, name string) (map[string]Expr, error) {
	raw, present := object[name]
	if !present {
		return nil, nil
	}

	rawObject, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s must be an object", ErrDecode, op, name)
	}

	decoded := make(map[string]Expr, len(rawObject))
	for key, val := range rawObject {
		expr, err := Decode(val)
		if err != nil {
			return nil, err
		}
		decoded[key] = expr
	}
	return decoded, nil
}

func optionalStringList(op string, object map[string]any, name string) ([]string, error) {
	raw, present := object[name]
	if !present {
		return nil, nil
	}

	rawList, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s %s must be an array of strings", ErrDecode, op, name)
	}

	out := make([]string, 0, len(rawList))
	for _, entry := range rawList {
		str, ok := entry.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %s %s must be an array of strings", ErrDecode, op, name)
		}
		out = append(out, str)
	}
	return out, nil
}

func optionalCount(op string, object map[string]any, name string) (int, error) {
	raw, present := object[name]
	if !present {
		return 0, nil
	}

	n, ok := value.ToFloat64(raw)
	if !ok || n < 0 || n != math.Trunc(n) {
		return 0, fmt.Errorf("%w: %s %s must be a non-negative integer", ErrDecode, op, name)
	}
	return int(n), nil
}

func bindingName(object map[string]any, name, fallback string) (string, error) {
	raw, present := object[name]
	if !present {
		return fallback, nil
	}

	str, ok := raw.(string)
	if !ok || str == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", ErrDecode, name)
	}
	return str, nil
}

func collectionName(op string, object map[string]any) (string, error) {
	name, ok := object["collection"].(string)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %s requires a collection name", ErrDecode, op)
	}
	return name, nil
}

// logicPayload accepts $and/$or operands as a bare array or wrapped in
// a {"conditions": [...]} object.
func logicPayload(op string, payload any) ([]Expr, error) {
	if object, ok := payload.(map[string]any); ok {
		conditions, ok := object["conditions"]
		if !ok || len(object) != 1 {
			return nil, fmt.Errorf("%w: %s requires an array of operands or a conditions object", ErrDecode, op)
		}
		payload = conditions
	}
	return exprListPayload(op, payload, 0)
}

// exprListPayload decodes an array payload into operand expressions,
// enforcing a minimum arity.
func exprListPayload(op string, payload any, minimum int) ([]Expr, error) {
	rawList, ok := payload.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s requires an array of operands", ErrDecode, op)
	}
	if len(rawList) < minimum {
		return nil, fmt.Errorf("%w: %s requires at least %d operands, got %d", ErrDecode, op, minimum, len(rawList))
	}

	operands := make([]Expr, 0, len(rawList))
	for _, entry := range rawList {
		expr, err := Decode(entry)
		if err != nil {
			return nil, err
		}
		operands = append(operands, expr)
	}
	return operands, nil
}

// decodePair decodes a two-operand payload in either the array form
// [left, right] or the object form {left, right}.
func decodePair(op string, payload any) (Expr, Expr, error) {
	switch current := payload.(type) {
	case []any:
		if len(current) != 2 {
			return nil, nil, fmt.Errorf("%w: %s requires exactly 2 operands, got %d", ErrDecode, op, len(current))
		}
		left, err := Decode(current[0])
		if err != nil {
			return nil, nil, err
		}
		right, err := Decode(current[1])
		if err != nil {
			return nil, nil, err
		}
		return left, right, nil
	case map[string]any:
		object, err := objectPayload(op, current, "left", "right")
		if err != nil {
			return nil, nil, err
		}
		left, err := requiredExpr(op, object, "left")
		if err != nil {
			return nil, nil, err
		}
		right, err := requiredExpr(op, object, "right")
		if err != nil {
			return nil, nil, err
		}
		return left, right, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s requires [left, right] operands", ErrDecode, op)
	}
}
