package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// fakeLedger is an in-memory Ledger for orchestrator tests.
type fakeLedger struct {
	mu      sync.Mutex
	records map[string]*URLRecord
	tags    map[string][]string
	nextID  int

	registerErr error
	statusErr   error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		records: make(map[string]*URLRecord),
		tags:    make(map[string][]string),
	}
}

func (l *fakeLedger) Exists(_ context.Context, url string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.records[url]
	return ok, nil
}

func (l *fakeLedger) Register(_ context.Context, url string, metadata map[string]any) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.registerErr != nil {
		return "", l.registerErr
	}
	if _, ok := l.records[url]; ok {
		return "", ErrDuplicateURL
	}
	l.nextID++
	id := fmt.Sprintf("url-%d", l.nextID)
	l.records[url] = &URLRecord{ID: id, URL: url, Status: StatusPending, Metadata: metadata}
	return id, nil
}

func (l *fakeLedger) RegisterWithTags(ctx context.Context, url string, metadata map[string]any, tags []string, _ bool) (string, error) {
	id, err := l.Register(ctx, url, metadata)
	if err != nil {
		return "", err
	}
	l.mu.Lock()
	l.tags[id] = append(l.tags[id], tags...)
	l.mu.Unlock()
	return id, nil
}

func (l *fakeLedger) UpdateStatus(_ context.Context, id string, status URLStatus, errText string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.statusErr != nil {
		return false, l.statusErr
	}
	for _, record := range l.records {
		if record.ID == id {
			record.Status = status
			if errText != "" {
				if record.Metadata == nil {
					record.Metadata = map[string]any{}
				}
				record.Metadata["last_error"] = errText
			}
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) UpdateHash(_ context.Context, id string, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		if record.ID == id {
			record.ContentHash = hash
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) HashExists(_ context.Context, hash string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		if record.ContentHash == hash {
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) GetURLInfo(_ context.Context, url string) (*URLRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	record, ok := l.records[url]
	if !ok {
		return nil, nil
	}
	cp := *record
	return &cp, nil
}

func (l *fakeLedger) GetByHash(_ context.Context, hash string) (*URLRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, record := range l.records {
		if record.ContentHash == hash {
			cp := *record
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *fakeLedger) List(_ context.Context, filter URLFilter) ([]URLRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []URLRecord
	for _, record := range l.records {
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if len(filter.Tags) > 0 && !l.hasAnyTagLocked(record.ID, filter.Tags) {
			continue
		}
		out = append(out, *record)
	}
	return out, nil
}

func (l *fakeLedger) hasAnyTagLocked(id string, names []string) bool {
	for _, attached := range l.tags[id] {
		for _, name := range names {
			if attached == name {
				return true
			}
		}
	}
	return false
}

func (l *fakeLedger) Remove(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for url, record := range l.records {
		if record.ID == id {
			delete(l.records, url)
			delete(l.tags, id)
			return true, nil
		}
	}
	return false, nil
}

func (l *fakeLedger) attach(id string, names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tags[id] = append(l.tags[id], names...)
}

// fakeTagStore backs ProcessURLsByTags tests with a fixed forest.
type fakeTagStore struct {
	mu       sync.Mutex
	ledger   *fakeLedger
	byName   map[string]*Tag
	children map[int64][]Tag
	nextID   int64
}

func newFakeTagStore(ledger *fakeLedger) *fakeTagStore {
	return &fakeTagStore{
		ledger:   ledger,
		byName:   make(map[string]*Tag),
		children: make(map[int64][]Tag),
	}
}

func (t *fakeTagStore) addTag(name string, parent *Tag) *Tag {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	tag := &Tag{ID: t.nextID, Name: name}
	if parent != nil {
		pid := parent.ID
		tag.ParentID = &pid
		t.children[pid] = append(t.children[pid], *tag)
	}
	t.byName[name] = tag
	return tag
}

func (t *fakeTagStore) CreateTag(_ context.Context, input TagInput) (*Tag, error) {
	if _, ok := t.byName[input.Name]; ok {
		return nil, ErrDuplicateTagName
	}
	return t.addTag(input.Name, nil), nil
}

func (t *fakeTagStore) GetTagByName(_ context.Context, name string) (*Tag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tag, ok := t.byName[name]
	if !ok {
		return nil, nil
	}
	cp := *tag
	return &cp, nil
}

func (t *fakeTagStore) GetChildTags(_ context.Context, tagID int64, recursive bool) ([]Tag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	direct := t.children[tagID]
	if !recursive {
		return direct, nil
	}
	var all []Tag
	queue := append([]Tag(nil), direct...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		all = append(all, next)
		queue = append(queue, t.children[next.ID]...)
	}
	return all, nil
}

func (t *fakeTagStore) GetTagPath(context.Context, int64) ([]Tag, error) {
	return nil, nil
}

func (t *fakeTagStore) DeleteTag(context.Context, int64, bool) (bool, error) {
	return false, nil
}

func (t *fakeTagStore) ListTags(_ context.Context) ([]Tag, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Tag
	for _, tag := range t.byName {
		out = append(out, *tag)
	}
	return out, nil
}

func (t *fakeTagStore) AttachTags(_ context.Context, urlID string, names []string, autoCreate bool) ([]string, error) {
	for _, name := range names {
		if _, ok := t.byName[name]; !ok {
			if !autoCreate {
				return nil, ErrTagNotFound
			}
			t.addTag(name, nil)
		}
	}
	t.ledger.attach(urlID, names...)
	return names, nil
}

func (t *fakeTagStore) TagsForURL(_ context.Context, urlID string) ([]Tag, error) {
	t.ledger.mu.Lock()
	names := append([]string(nil), t.ledger.tags[urlID]...)
	t.ledger.mu.Unlock()
	var out []Tag
	for _, name := range names {
		if tag, ok := t.byName[name]; ok {
			out = append(out, *tag)
		} else {
			out = append(out, Tag{Name: name})
		}
	}
	return out, nil
}

type fakeOriginalStore struct {
	mu      sync.Mutex
	records map[string]OriginalFileRecord
	nextID  int
}

func newFakeOriginalStore() *fakeOriginalStore {
	return &fakeOriginalStore{records: make(map[string]OriginalFileRecord)}
}

func (s *fakeOriginalStore) Put(_ context.Context, record OriginalFileRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.URLID]; ok {
		record.ID = existing.ID
	} else {
		s.nextID++
		record.ID = fmt.Sprintf("orig-%d", s.nextID)
	}
	s.records[record.URLID] = record
	return record.ID, nil
}

func (s *fakeOriginalStore) GetByURLID(_ context.Context, urlID string) (*OriginalFileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[urlID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (s *fakeOriginalStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for urlID, record := range s.records {
		if record.ID == id {
			delete(s.records, urlID)
			return true, nil
		}
	}
	return false, nil
}

type fakeProcessedStore struct {
	mu      sync.Mutex
	records []ProcessedFileRecord
	nextID  int
}

func newFakeProcessedStore() *fakeProcessedStore {
	return &fakeProcessedStore{}
}

func (s *fakeProcessedStore) Insert(_ context.Context, record ProcessedFileRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	record.ID = fmt.Sprintf("proc-%d", s.nextID)
	s.records = append(s.records, record)
	return record.ID, nil
}

func (s *fakeProcessedStore) ListByURL(_ context.Context, url string) ([]ProcessedFileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ProcessedFileRecord
	for _, record := range s.records {
		if record.URL == url {
			out = append(out, record)
		}
	}
	return out, nil
}

func (s *fakeProcessedStore) MarkDeleted(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, record := range s.records {
		if record.ID == id {
			s.records[i].Status = ProcessedDeleted
			return true, nil
		}
	}
	return false, nil
}

type fakeDetector struct {
	contentType ContentType
}

func (d *fakeDetector) Detect(context.Context, string) (ContentType, error) {
	if d.contentType == "" {
		return ContentHTML, nil
	}
	return d.contentType, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(url string, call int) (FetchResult, error)
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (FetchResult, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		return fn(url, call)
	}
	return FetchResult{Body: []byte("<p>hello from " + url + "</p>"), MimeType: "text/html"}, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *fakeProcessor) Process(_ context.Context, body []byte, _ ContentType, cleaners []string) (ProcessOutput, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	if p.err != nil {
		return ProcessOutput{}, p.err
	}
	used := cleaners
	if len(used) == 0 {
		used = []string{"whitespace"}
	}
	return ProcessOutput{Text: string(body), CleanersUsed: used}, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeStorage struct {
	mu    sync.Mutex
	blobs map[string][]byte
	err   error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{blobs: make(map[string][]byte)}
}

func (s *fakeStorage) Store(_ context.Context, name string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.blobs[name] = append([]byte(nil), data...)
	return name, nil
}

func (s *fakeStorage) Retrieve(_ context.Context, path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, fmt.Errorf("blob %s not found", path)
	}
	return data, nil
}

func (s *fakeStorage) Delete(_ context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[path]; !ok {
		return false, nil
	}
	delete(s.blobs, path)
	return true, nil
}

func (s *fakeStorage) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name := range s.blobs {
		if len(prefix) == 0 || (len(name) >= len(prefix) && name[:len(prefix)] == prefix) {
			out = append(out, name)
		}
	}
	return out, nil
}

type testHasher struct{}

func (testHasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type testIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *testIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	results []ProcessingResult
}

func (n *recordingNotifier) URLProcessed(result ProcessingResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.results = append(n.results, result)
}

func (n *recordingNotifier) all() []ProcessingResult {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]ProcessingResult(nil), n.results...)
}
