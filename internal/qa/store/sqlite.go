package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/medkb-io/medqa/internal/pkg/textutil"
)

// SQLiteStore 实现基于 SQLite FTS5 的关键词索引。
// documents 表同时是文档版本的权威注册表。
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore 打开或创建 SQLite 数据库。路径为 ":memory:" 时使用内存库。
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id          TEXT NOT NULL,
		version     INTEGER NOT NULL,
		source      TEXT,
		topic       TEXT,
		language    TEXT,
		superseded  INTEGER NOT NULL DEFAULT 0,
		ingested_at INTEGER NOT NULL,
		PRIMARY KEY (id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_documents_active ON documents(id, superseded);

	CREATE TABLE IF NOT EXISTS chunks (
		chunk_id    TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		version     INTEGER NOT NULL,
		seq         INTEGER NOT NULL,
		content     TEXT NOT NULL,
		source      TEXT,
		topic       TEXT,
		language    TEXT,
		updated_at  INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id, version);

	CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
		content,
		content=chunks,
		content_rowid=rowid
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// FTS5 triggers for automatic sync
	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content) VALUES('delete', old.rowid, old.content);
			INSERT INTO chunks_fts(rowid, content) VALUES (new.rowid, new.content);
		END`,
	}
	for _, ddl := range triggers {
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create fts trigger: %w", err)
		}
	}

	return nil
}

// NextVersion 返回文档的下一个版本号。
func (s *SQLiteStore) NextVersion(ctx context.Context, documentID string) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM documents WHERE id = ?`, documentID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("query next version: %w", err)
	}
	return next, nil
}

// InsertDocument 在单个事务中写入文档注册行与全部文档块。
func (s *SQLiteStore) InsertDocument(ctx context.Context, rec *DocumentRecord, chunks []*Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO documents (id, version, source, topic, language, superseded, ingested_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?)`,
		rec.ID, rec.Version, rec.Source, rec.Topic, rec.Language, rec.IngestedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	for _, c := range chunks {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, document_id, version, seq, content, source, topic, language, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.DocumentID, c.Version, c.Seq, c.Content, c.Source, c.Topic, c.Language, c.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	return tx.Commit()
}

// SupersedePrior 将文档中早于 keepVersion 的版本标记为已取代。
func (s *SQLiteStore) SupersedePrior(ctx context.Context, documentID string, keepVersion int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE documents SET superseded = 1 WHERE id = ? AND version < ?`,
		documentID, keepVersion)
	if err != nil {
		return fmt.Errorf("supersede prior versions: %w", err)
	}
	return nil
}

// ActiveVersions 返回所有文档的当前生效版本。
func (s *SQLiteStore) ActiveVersions(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, MAX(version) FROM documents WHERE superseded = 0 GROUP BY id`)
	if err != nil {
		return nil, fmt.Errorf("query active versions: %w", err)
	}
	defer rows.Close()

	versions := make(map[string]int64)
	for rows.Next() {
		var id string
		var version int64
		if err := rows.Scan(&id, &version); err != nil {
			return nil, err
		}
		versions[id] = version
	}
	return versions, rows.Err()
}

// Search 全文检索。bm25 越小越相关，转为 -bm25 使分数越大越相关。
func (s *SQLiteStore) Search(ctx context.Context, query string, topK int, language string) ([]*SearchResult, error) {
	match := buildMatchQuery(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.chunk_id, c.document_id, c.version, c.content, c.source, c.topic, c.updated_at,
		       bm25(chunks_fts) AS rank
		FROM chunks_fts f
		JOIN chunks c ON c.rowid = f.rowid
		JOIN documents d ON d.id = c.document_id AND d.version = c.version AND d.superseded = 0
		WHERE chunks_fts MATCH ?
		  AND (? = '' OR c.language = ?)
		ORDER BY rank
		LIMIT ?`, match, language, language, topK)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var results []*SearchResult
	for rows.Next() {
		var r SearchResult
		var rank float64
		if err := rows.Scan(&r.ChunkID, &r.DocumentID, &r.Version, &r.Content, &r.Source, &r.Topic, &r.UpdatedAt, &rank); err != nil {
			return nil, err
		}
		r.Score = -rank
		results = append(results, &r)
	}
	return results, rows.Err()
}

// buildMatchQuery 将自由文本转换为 FTS5 MATCH 查询：
// 各词条加引号防止被解释为 FTS 语法，词条之间 OR 连接。
func buildMatchQuery(query string) string {
	normalized := textutil.NormalizeText(query)
	if normalized == "" {
		return ""
	}

	fields := strings.Fields(normalized)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, `""`)
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Stats 返回生效文档数与块数。
func (s *SQLiteStore) Stats(ctx context.Context) (int64, int64, error) {
	var docs, chunks int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT id) FROM documents WHERE superseded = 0`).Scan(&docs); err != nil {
		return 0, 0, err
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c
		JOIN documents d ON d.id = c.document_id AND d.version = c.version
		WHERE d.superseded = 0`).Scan(&chunks)
	if err != nil {
		return 0, 0, err
	}
	return docs, chunks, nil
}

// Close 关闭数据库。
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// 确保 SQLiteStore 实现了 KeywordStore 接口。
var _ KeywordStore = (*SQLiteStore)(nil)
