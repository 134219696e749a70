package logistics

import (
	"fmt"
	"regexp"
	"strings"
)

// sqlWordRe splits a query into identifier-like tokens. Matching
// dangerous keywords on complete tokens keeps table names like "order"
// or columns like "created_at" from tripping DROP/CREATE checks.
var sqlWordRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// ValidateQuerySecurity checks that a candidate query is a read-only
// SELECT touching no dangerous statements or system tables. It returns
// ok plus a user-facing Korean reason on failure.
func ValidateQuerySecurity(query string) (bool, string) {
	if strings.TrimSpace(query) == "" {
		return false, MsgEmptyQuery
	}

	upper := strings.ToUpper(strings.TrimSpace(query))

	tokens := sqlWordRe.FindAllString(upper, -1)
	for _, tok := range tokens {
		for _, kw := range DangerousSQLKeywords {
			if tok == kw {
				return false, fmt.Sprintf("보안상의 이유로 %s 문은 실행할 수 없습니다. 읽기 전용 쿼리만 허용됩니다.", kw)
			}
		}
	}

	if !strings.HasPrefix(upper, "SELECT") {
		return false, MsgSelectOnly
	}

	for _, sys := range SystemTableNames {
		if strings.Contains(upper, sys) {
			return false, MsgSystemTableAccess
		}
	}

	return true, ""
}

// RepairStatusLiterals rewrites known incorrect localized status
// literals to their canonical stored values. Runs before security and
// schema validation so the repaired query is what gets validated.
func RepairStatusLiterals(query string) string {
	for _, r := range StatusLiteralRepairs {
		query = strings.ReplaceAll(query, r.From, r.To)
	}
	return query
}

// tableRefRe captures table names following FROM and JOIN.
var tableRefRe = regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)`)

// columnRefRe captures qualified table.column references.
var columnRefRe = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\.([A-Za-z_][A-Za-z0-9_]*)`)

// Schema is the parsed live catalog used for validation: table name to
// column set. Built from the schema fetcher's description once per turn.
type Schema map[string]map[string]bool

// HasTable reports whether the schema contains the exact table name.
// Names are never fuzzy-matched: "customer" does not match "customers".
func (s Schema) HasTable(name string) bool {
	_, ok := s[strings.ToLower(name)]
	return ok
}

// HasColumn reports whether table.column exists exactly.
func (s Schema) HasColumn(table, column string) bool {
	cols, ok := s[strings.ToLower(table)]
	if !ok {
		return false
	}
	return cols[strings.ToLower(column)]
}

// Tables returns the table names in the schema.
func (s Schema) Tables() []string {
	names := make([]string, 0, len(s))
	for t := range s {
		names = append(names, t)
	}
	return names
}

// ValidateQuerySchema checks that every referenced table and qualified
// table.column pair exists in the live schema. The offending identifier
// is reported verbatim, never auto-corrected.
func ValidateQuerySchema(query string, schema Schema) (bool, string) {
	aliases := map[string]string{}

	for _, m := range tableRefRe.FindAllStringSubmatch(query, -1) {
		table := m[1]
		if !schema.HasTable(table) {
			return false, fmt.Sprintf("'%s' 테이블은 존재하지 않습니다. 테이블 이름을 확인하고 질문을 다시 작성해주세요.", table)
		}
		aliases[strings.ToLower(table)] = strings.ToLower(table)
	}

	// Collect alias definitions: FROM orders o / FROM orders AS o
	for _, m := range regexp.MustCompile(`(?i)\b(?:FROM|JOIN)\s+([A-Za-z_][A-Za-z0-9_]*)\s+(?:AS\s+)?([A-Za-z_][A-Za-z0-9_]*)`).FindAllStringSubmatch(query, -1) {
		alias := strings.ToLower(m[2])
		switch alias {
		case "on", "where", "group", "order", "limit", "inner", "left", "right", "join", "cross", "using":
			continue
		}
		aliases[alias] = strings.ToLower(m[1])
	}

	for _, m := range columnRefRe.FindAllStringSubmatch(query, -1) {
		ref, column := m[1], m[2]
		table, ok := aliases[strings.ToLower(ref)]
		if !ok {
			// Qualifier is neither a referenced table nor an alias;
			// could be a string literal fragment, skip.
			continue
		}
		if !schema.HasColumn(table, column) {
			return false, fmt.Sprintf("'%s.%s' 컬럼은 존재하지 않습니다. 스키마를 확인하고 질문을 다시 작성해주세요.", ref, column)
		}
	}

	return true, ""
}

// schemaLineRe parses lines like "orders: order_id, customer_id, order_status"
// out of the schema fetcher's text description.
var schemaLineRe = regexp.MustCompile(`(?m)^\s*([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.+)$`)

// ParseSchemaText builds a Schema from the fetcher's formatted
// description. Column entries may carry a type suffix ("order_id INTEGER").
func ParseSchemaText(text string) Schema {
	schema := Schema{}
	for _, m := range schemaLineRe.FindAllStringSubmatch(text, -1) {
		table := strings.ToLower(m[1])
		cols := map[string]bool{}
		for _, part := range strings.Split(m[2], ",") {
			fields := strings.Fields(strings.TrimSpace(part))
			if len(fields) == 0 {
				continue
			}
			cols[strings.ToLower(fields[0])] = true
		}
		schema[table] = cols
	}
	return schema
}

// ExplicitTableNames extracts table names the user named verbatim in
// their question, checked against the known catalog vocabulary. Only
// words immediately followed by a table marker ("테이블", "table") are
// treated as explicit naming; exact-name fidelity is required, so a
// misspelled name is returned as written.
var explicitTableRe = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_]*)\s*(?:테이블|table)`)

func ExplicitTableNames(question string) []string {
	var names []string
	for _, m := range explicitTableRe.FindAllStringSubmatch(strings.ToLower(question), -1) {
		names = append(names, m[1])
	}
	return names
}
