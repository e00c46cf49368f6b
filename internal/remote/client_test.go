package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/todosync/todosync/internal/item"
)

var (
	created  = time.Date(2023, 6, 1, 9, 30, 0, 0, time.UTC)
	deadline = time.Date(2023, 6, 10, 18, 0, 0, 0, time.UTC)
	changed  = time.Date(2023, 6, 2, 12, 0, 0, 0, time.UTC)
)

func newTestClient(t *testing.T, url string, opts ...func(*Options)) *Client {
	t.Helper()
	o := Options{BaseURL: url, Timeout: 2 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	c, err := New(o)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		wantErr bool
	}{
		{"empty", "", true},
		{"no scheme", "example.com/api", true},
		{"ftp", "ftp://example.com", true},
		{"https", "https://example.com/todobackend/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(Options{BaseURL: tt.baseURL})
			if (err != nil) != tt.wantErr {
				t.Errorf("New(%q) error = %v, wantErr %v", tt.baseURL, err, tt.wantErr)
			}
		})
	}
}

func TestClient_FetchAll_RequestShape(t *testing.T) {
	var gotAuth, gotPath, gotMethod, gotRevision string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		gotRevision = r.Header.Get(RevisionHeader)
		_, _ = io.WriteString(w, `{"status":"ok","revision":7,"list":[
			{"id":"A","text":"Buy milk","importance":"low","done":false,"created_at":1685611800,"changed_at":1685611800,"last_updated_by":"phone"},
			{"id":"B","text":"Report","importance":"important","deadline":1686420000,"done":true,"color":"#FF0000","created_at":1685611800,"changed_at":1685707200,"last_updated_by":"phone"},
			{"id":"C","text":"Plants","importance":"whatever","done":false,"created_at":1685611800,"changed_at":1685611800,"last_updated_by":"phone"}
		]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/todobackend", func(o *Options) { o.Token = "secret" })
	items, rev, err := c.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}

	if gotMethod != http.MethodGet || gotPath != "/todobackend/list" {
		t.Errorf("request = %s %s, want GET /todobackend/list", gotMethod, gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotRevision != "" {
		t.Errorf("GET should not carry %s, got %q", RevisionHeader, gotRevision)
	}
	if rev != 7 || c.Revision() != 7 {
		t.Errorf("revision = %d / %d, want 7", rev, c.Revision())
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	if items[0].Importance != item.Unimportant || items[0].ModificationDate != nil {
		t.Errorf("item A = %+v", items[0])
	}
	if !items[0].CreationDate.Equal(created) {
		t.Errorf("created = %v, want %v", items[0].CreationDate, created)
	}
	b := items[1]
	if b.Importance != item.Important || !b.IsDone {
		t.Errorf("item B = %+v", b)
	}
	if b.Deadline == nil || !b.Deadline.Equal(deadline) {
		t.Errorf("deadline = %v, want %v", b.Deadline, deadline)
	}
	if b.ModificationDate == nil || !b.ModificationDate.Equal(changed) {
		t.Errorf("modified = %v, want %v", b.ModificationDate, changed)
	}
	if items[2].Importance != item.Normal {
		t.Errorf("unknown wire importance should map to normal, got %q", items[2].Importance)
	}
}

func TestClient_NoTokenNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header sent without a token")
		}
		_, _ = io.WriteString(w, `{"status":"ok","list":[],"revision":1}`)
	}))
	defer srv.Close()

	if _, _, err := newTestClient(t, srv.URL).FetchAll(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func TestClient_PushAll_SendsRevisionAndElements(t *testing.T) {
	var body ListRequest
	var revisions []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			_, _ = io.WriteString(w, `{"status":"ok","list":[],"revision":3}`)
		case http.MethodPatch:
			revisions = append(revisions, r.Header.Get(RevisionHeader))
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				t.Errorf("bad body: %v", err)
			}
			_ = json.NewEncoder(w).Encode(ListResponse{Status: "ok", List: body.List, Revision: 4})
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, func(o *Options) { o.ClientID = "laptop" })
	ctx := context.Background()

	items := []item.Item{
		item.New("plain", item.WithID("A"), item.WithCreationDate(created)),
		item.New("full",
			item.WithID("B"),
			item.WithImportance(item.Unimportant),
			item.WithDeadline(deadline),
			item.WithCreationDate(created),
			item.WithModificationDate(changed),
		),
	}

	// Before any fetch the client sends revision 0.
	if _, _, err := c.PushAll(ctx, items); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.FetchAll(ctx); err != nil {
		t.Fatal(err)
	}
	got, rev, err := c.PushAll(ctx, items)
	if err != nil {
		t.Fatal(err)
	}

	if len(revisions) != 2 || revisions[0] != "0" || revisions[1] != "3" {
		t.Errorf("revision headers = %v, want [0 3]", revisions)
	}
	if rev != 4 || len(got) != 2 {
		t.Errorf("PushAll returned rev %d, %d items", rev, len(got))
	}

	a, b := body.List[0], body.List[1]
	if a.Importance != "basic" || a.Deadline != nil || a.ChangedAt != a.CreatedAt {
		t.Errorf("element A = %+v", a)
	}
	if a.LastUpdatedBy != "laptop" {
		t.Errorf("last_updated_by = %q, want laptop", a.LastUpdatedBy)
	}
	if b.Importance != "low" || b.Deadline == nil || *b.Deadline != deadline.Unix() || b.ChangedAt != changed.Unix() {
		t.Errorf("element B = %+v", b)
	}
}

func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantNotFound bool
		wantConflict bool
	}{
		{"not found", http.StatusNotFound, `{"status":"error","message":"element not found"}`, true, false},
		{"stale revision", http.StatusBadRequest, `{"status":"error","message":"unsynchronized data"}`, false, true},
		{"stale revision plain text", http.StatusBadRequest, "unsynchronized data", false, true},
		{"bad request", http.StatusBadRequest, `{"status":"error","message":"malformed request"}`, false, false},
		{"server error", http.StatusInternalServerError, "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, _, err := newTestClient(t, srv.URL).DeleteItem(context.Background(), "X")
			if !errors.Is(err, ErrRemote) {
				t.Fatalf("error %v does not match ErrRemote", err)
			}
			if errors.Is(err, ErrNotFound) != tt.wantNotFound {
				t.Errorf("errors.Is(err, ErrNotFound) = %v, want %v", !tt.wantNotFound, tt.wantNotFound)
			}
			if errors.Is(err, ErrConflict) != tt.wantConflict {
				t.Errorf("errors.Is(err, ErrConflict) = %v, want %v", !tt.wantConflict, tt.wantConflict)
			}
			var re *Error
			if !errors.As(err, &re) || re.StatusCode != tt.status || re.Op != "delete" {
				t.Errorf("unexpected error detail: %#v", err)
			}
		})
	}
}

func TestClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"ok","list":`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, _, err := c.FetchAll(context.Background())
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if c.Revision() != 0 {
		t.Error("revision must not change on failure")
	}
}

func TestClient_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, _, err := newTestClient(t, url).FetchAll(context.Background())
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("transport failures should be retryable")
	}
}

func TestClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	start := time.Now()
	_, _, err := c.FetchAll(context.Background())
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("request was not bounded by the client timeout")
	}
}

func TestWireMapping_ChangedAtFallback(t *testing.T) {
	it := item.New("x", item.WithCreationDate(created))
	el := ToElement(it, "c")
	if el.ChangedAt != created.Unix() {
		t.Errorf("changed_at = %d, want created_at %d", el.ChangedAt, created.Unix())
	}
	if back := FromElement(el); back.ModificationDate != nil {
		t.Errorf("unchanged element should decode without modification date")
	}
}
