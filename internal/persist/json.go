package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/todosync/todosync/internal/item"
)

// DateLayout is the calendar format used by the file encodings:
// ISO-8601 in UTC with millisecond precision.
const DateLayout = "2006-01-02T15:04:05.000Z"

// jsonRecord is the structured on-disk form of an item. Optional fields are
// omitted rather than written as null; importance is omitted when normal.
type jsonRecord struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	IsDone           bool   `json:"isDone"`
	CreationDate     string `json:"creationDate"`
	Importance       string `json:"importance,omitempty"`
	Deadline         string `json:"deadline,omitempty"`
	ModificationDate string `json:"modificationDate,omitempty"`
}

// JSONFile persists items as a JSON array.
type JSONFile struct {
	path   string
	logger *log.Logger
}

// NewJSONFile creates a JSON persister at path.
func NewJSONFile(path string, logger *log.Logger) *JSONFile {
	return &JSONFile{path: path, logger: defaultLogger(logger)}
}

// Path implements Persister.Path.
func (f *JSONFile) Path() string { return f.path }

// Close implements Persister.Close.
func (f *JSONFile) Close() error { return nil }

// Save implements Persister.Save.
func (f *JSONFile) Save(ctx context.Context, items []item.Item) error {
	data, err := EncodeJSON(items)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data, 0644)
}

// Load implements Persister.Load.
func (f *JSONFile) Load(ctx context.Context) ([]item.Item, error) {
	data, err := readFile(f.path)
	if err != nil {
		return nil, err
	}
	items, skipped, err := DecodeJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	if skipped > 0 {
		f.logger.Printf("WARNING: skipped %d incomplete records in %s", skipped, f.path)
	}
	return items, nil
}

// EncodeJSON renders items in the structured encoding.
func EncodeJSON(items []item.Item) ([]byte, error) {
	records := make([]jsonRecord, 0, len(items))
	for _, it := range items {
		records = append(records, toJSONRecord(it))
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return data, nil
}

// DecodeJSON parses the structured encoding. Records without an id, text or
// creation date are skipped and counted; any other malformation fails the
// whole decode.
func DecodeJSON(data []byte) (items []item.Item, skipped int, err error) {
	var records []jsonRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrDecoding, err)
	}

	items = make([]item.Item, 0, len(records))
	for i, rec := range records {
		if rec.ID == "" || rec.Text == "" || rec.CreationDate == "" {
			skipped++
			continue
		}
		it, err := fromJSONRecord(rec)
		if err != nil {
			return nil, skipped, fmt.Errorf("%w: record %d (%s): %v", ErrDecoding, i, rec.ID, err)
		}
		items = append(items, it)
	}
	return items, skipped, nil
}

func toJSONRecord(it item.Item) jsonRecord {
	rec := jsonRecord{
		ID:           it.ID,
		Text:         it.Text,
		IsDone:       it.IsDone,
		CreationDate: FormatDate(it.CreationDate),
	}
	if it.Importance != item.Normal && it.Importance != "" {
		rec.Importance = string(it.Importance)
	}
	if it.Deadline != nil {
		rec.Deadline = FormatDate(*it.Deadline)
	}
	if it.ModificationDate != nil {
		rec.ModificationDate = FormatDate(*it.ModificationDate)
	}
	return rec
}

func fromJSONRecord(rec jsonRecord) (item.Item, error) {
	created, err := ParseDate(rec.CreationDate)
	if err != nil {
		return item.Item{}, fmt.Errorf("creationDate: %w", err)
	}
	it := item.Item{
		ID:           rec.ID,
		Text:         rec.Text,
		Importance:   decodeImportance(rec.Importance),
		IsDone:       rec.IsDone,
		CreationDate: created,
	}
	if it.Deadline, err = parseOptionalDate(rec.Deadline); err != nil {
		return item.Item{}, fmt.Errorf("deadline: %w", err)
	}
	if it.ModificationDate, err = parseOptionalDate(rec.ModificationDate); err != nil {
		return item.Item{}, fmt.Errorf("modificationDate: %w", err)
	}
	return it, nil
}

// FormatDate renders t with DateLayout in UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses DateLayout, falling back to RFC 3339.
func ParseDate(s string) (time.Time, error) {
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseOptionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// decodeImportance maps stored values to an Importance; anything unknown
// (including absence) decodes as normal.
func decodeImportance(s string) item.Importance {
	imp, err := item.ParseImportance(s)
	if err != nil {
		return item.Normal
	}
	return imp
}
