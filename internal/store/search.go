package store

import (
	"strings"
	"unicode/utf8"
)

const snippetRadius = 32

// SearchMessages finds messages whose body contains query, case-insensitively.
// An empty peerUUID searches every conversation.
func (db *DB) SearchMessages(query string, peerUUID string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}

	q := `
		SELECT ` + messageColumns + `
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`

	args := []any{"%" + escapeLike(query) + "%"}
	if peerUUID != "" {
		q += " AND peer_uuid = ?"
		args = append(args, peerUUID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{Message: m, Snippet: snippet(m.Body, query)})
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first case-insensitive match with << >> and trims long
// bodies to snippetRadius runes either side of it. Offsets are in runes of
// body itself, since case folding can change a string's byte length.
func snippet(body, query string) string {
	if query == "" {
		return body
	}
	runes := []rune(body)
	width := utf8.RuneCountInString(query)
	idx := -1
	for i := 0; i+width <= len(runes); i++ {
		if strings.EqualFold(string(runes[i:i+width]), query) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return body
	}
	end := idx + width
	start := max(0, idx-snippetRadius)
	stop := min(len(runes), end+snippetRadius)

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(string(runes[start:idx]))
	b.WriteString("<<")
	b.WriteString(string(runes[idx:end]))
	b.WriteString(">>")
	b.WriteString(string(runes[end:stop]))
	if stop < len(runes) {
		b.WriteString("...")
	}
	return b.String()
}
