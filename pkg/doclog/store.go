// Package doclog implements the filesystem-backed document log: a
// write lands as a new timestamped JSON file under
// root/<ctx>/<YYYY>/<MM>/<doc-id>/ and repoints that directory's
// latest.json symlink at it, so reads never need to know a document's
// full version history. A document is never physically deleted; a
// logical delete writes one more version carrying a tombstone flag.
//
// A bbolt index (kv.BucketDocumentIndex) mirrors the id/ctx of every
// version written so listing can answer a ctx-prefix query with a
// bucket scan instead of walking the year/month directory tree on
// every call.
package doclog

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/warehouse/pkg/kv"
	"github.com/cuemby/warehouse/pkg/metrics"
	"github.com/cuemby/warehouse/pkg/types"
	"github.com/cuemby/warehouse/pkg/wherr"
)

// timestampLayout names version files YYYY-MM-DDTHH:MM:SSZ. The
// trailing "Z" isn't one of Go's recognized zone-offset patterns, so
// it's emitted and parsed as a literal — correct since every timestamp
// here is first converted to UTC.
const timestampLayout = "2006-01-02T15:04:05Z"

// Store is the document log root plus the index bucket mirroring it.
type Store struct {
	root string
	db   *kv.DB
}

// Open prepares root as the document log's filesystem root.
func Open(root string, db *kv.DB) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, wherr.IO("create document root", err)
	}
	return &Store{root: root, db: db}, nil
}

type indexEntry struct {
	Ctx       []string  `json:"ctx"`
	Date      time.Time `json:"date"`
	Tombstone bool      `json:"tombstone,omitempty"`
}

// mintID builds the doc-id assigned on first write: the ctx path
// joined with "/", then the first-write timestamp.
func mintID(ctx []string, now time.Time) string {
	parts := append(append([]string{}, ctx...), now.UTC().Format(timestampLayout))
	return path.Join(parts...)
}

// splitID recovers the ctx path and first-write timestamp a doc-id was
// minted from — the timestamp doubles as the directory's year/month,
// so every later version of the same id resolves to the same directory.
func splitID(id string) (ctx []string, firstWriteTS string, err error) {
	idx := strings.LastIndex(id, "/")
	if idx < 0 {
		return nil, "", wherr.Invalid("document id %q: missing timestamp component", id)
	}
	ctxPart, ts := id[:idx], id[idx+1:]
	if _, err := time.Parse(timestampLayout, ts); err != nil {
		return nil, "", wherr.Invalid("document id %q: bad timestamp: %v", id, err)
	}
	return strings.Split(ctxPart, "/"), ts, nil
}

func (s *Store) dir(ctx []string, firstWriteTS string) (string, error) {
	t, err := time.Parse(timestampLayout, firstWriteTS)
	if err != nil {
		return "", wherr.Invalid("document timestamp %q: %v", firstWriteTS, err)
	}
	parts := append([]string{s.root}, ctx...)
	parts = append(parts, fmt.Sprintf("%04d", t.Year()), fmt.Sprintf("%02d", int(t.Month())), firstWriteTS)
	return filepath.Join(parts...), nil
}

// Put writes a new version of the document at id, minting a fresh id
// when id is empty, repoints latest.json at the new version, and
// returns both the version just written and whatever was latest before
// it (nil for a brand-new document) so the caller can project a diff.
//
// date is the operation date recorded on the Document and projected
// onto the OpMutations it generates — callers may backdate it. writtenAt
// is the real wall-clock time of this write: it names the version file
// and (on a brand-new document) mints the doc-id, so two edits that
// backdate to the same historical date still produce distinct versions
// in the order they actually happened.
func (s *Store) Put(ctx []string, id string, date, writtenAt time.Time, body json.RawMessage) (newDoc, prevDoc *types.Document, err error) {
	if len(ctx) == 0 {
		return nil, nil, wherr.Invalid("document ctx must not be empty")
	}
	if id == "" {
		id = mintID(ctx, writtenAt)
	}
	docCtx, firstWriteTS, err := splitID(id)
	if err != nil {
		return nil, nil, err
	}
	dir, err := s.dir(docCtx, firstWriteTS)
	if err != nil {
		return nil, nil, err
	}

	prevDoc, err = s.readLatest(dir, id)
	if err != nil {
		return nil, nil, err
	}

	doc := types.Document{ID: id, Ctx: docCtx, Date: date.UTC(), Body: body}
	if err := s.writeVersion(dir, writtenAt, doc); err != nil {
		return nil, nil, err
	}
	if err := s.index(id, docCtx, writtenAt, false); err != nil {
		return nil, nil, err
	}
	metrics.DocumentsWrittenTotal.Inc()
	return &doc, prevDoc, nil
}

// Delete logically tombstones the document at id: one more version is
// written, carrying the last live body and Tombstone=true, so history
// stays intact and a re-Put later starts a fresh lifecycle at the same
// id.
func (s *Store) Delete(id string, date time.Time) (tombstone, prevDoc *types.Document, err error) {
	docCtx, firstWriteTS, err := splitID(id)
	if err != nil {
		return nil, nil, err
	}
	dir, err := s.dir(docCtx, firstWriteTS)
	if err != nil {
		return nil, nil, err
	}
	prevDoc, err = s.readLatest(dir, id)
	if err != nil {
		return nil, nil, err
	}
	if prevDoc == nil {
		return nil, nil, wherr.NotFound("document %s", id)
	}

	doc := types.Document{ID: id, Ctx: docCtx, Date: date.UTC(), Body: prevDoc.Body, Tombstone: true}
	if err := s.writeVersion(dir, date, doc); err != nil {
		return nil, nil, err
	}
	if err := s.index(id, docCtx, date, true); err != nil {
		return nil, nil, err
	}
	return &doc, prevDoc, nil
}

func (s *Store) writeVersion(dir string, now time.Time, doc types.Document) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return wherr.IO("create document dir", err)
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return wherr.IO("encode document", err)
	}

	versionName := now.UTC().Format(timestampLayout) + ".json"
	versionPath := filepath.Join(dir, versionName)
	if err := os.WriteFile(versionPath, encoded, 0o644); err != nil {
		return wherr.IO("write document version", err)
	}

	latestPath := filepath.Join(dir, "latest.json")
	_ = os.Remove(latestPath)
	if err := os.Symlink(versionName, latestPath); err != nil {
		return wherr.IO("repoint latest symlink", err)
	}
	return nil
}

func (s *Store) readLatest(dir, id string) (*types.Document, error) {
	raw, err := os.ReadFile(filepath.Join(dir, "latest.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, wherr.IO("read latest document", err)
	}
	var doc types.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, wherr.Corrupt("decode document %s: %v", id, err)
	}
	return &doc, nil
}

func (s *Store) index(id string, ctx []string, date time.Time, tombstone bool) error {
	encoded, err := json.Marshal(indexEntry{Ctx: ctx, Date: date.UTC(), Tombstone: tombstone})
	if err != nil {
		return wherr.IO("encode document index entry", err)
	}
	if err := s.db.Put(kv.BucketDocumentIndex, []byte(id), encoded); err != nil {
		return wherr.IO("put document index entry", err)
	}
	return nil
}

// Get resolves the latest version of the document at id.
func (s *Store) Get(id string) (*types.Document, error) {
	docCtx, firstWriteTS, err := splitID(id)
	if err != nil {
		return nil, err
	}
	dir, err := s.dir(docCtx, firstWriteTS)
	if err != nil {
		return nil, err
	}
	doc, err := s.readLatest(dir, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, wherr.NotFound("document %s", id)
	}
	return doc, nil
}

// List returns the latest version of every document whose id falls
// under ctx (ctx == nil lists every document), ascending by id.
func (s *Store) List(ctx []string) ([]types.Document, error) {
	prefix := strings.Join(ctx, "/")
	if prefix != "" {
		prefix += "/"
	}
	from := []byte(prefix)
	till := append(append([]byte(nil), from...), 0xFF)

	rows, err := s.db.Range(kv.BucketDocumentIndex, from, till)
	if err != nil {
		return nil, wherr.IO("range document index", err)
	}

	docs := make([]types.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := s.Get(string(row.Key))
		if err != nil {
			if wherr.Is(err, wherr.ErrNotFound) {
				continue
			}
			return nil, err
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}
