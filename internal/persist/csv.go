package persist

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/todosync/todosync/internal/item"
)

// CSVHeader is the first row of every tabular snapshot.
const CSVHeader = "id,text,isDone,creationDate,importance,deadline,modificationDate"

// csvMinFields is the number of fields a row needs to be accepted; the
// trailing modificationDate column may be missing in older files.
const csvMinFields = 6

// CSVFile persists items as headered comma separated lines.
//
// Fields are never quoted, so the codec is a plain split on ','. Text that
// contains a comma or a line break cannot be represented and fails Save with
// ErrEncoding.
type CSVFile struct {
	path   string
	logger *log.Logger
}

// NewCSVFile creates a CSV persister at path.
func NewCSVFile(path string, logger *log.Logger) *CSVFile {
	return &CSVFile{path: path, logger: defaultLogger(logger)}
}

// Path implements Persister.Path.
func (f *CSVFile) Path() string { return f.path }

// Close implements Persister.Close.
func (f *CSVFile) Close() error { return nil }

// Save implements Persister.Save.
func (f *CSVFile) Save(ctx context.Context, items []item.Item) error {
	data, err := EncodeCSV(items)
	if err != nil {
		return err
	}
	return writeFileAtomic(f.path, data, 0644)
}

// Load implements Persister.Load.
func (f *CSVFile) Load(ctx context.Context) ([]item.Item, error) {
	data, err := readFile(f.path)
	if err != nil {
		return nil, err
	}
	items, skipped, err := DecodeCSV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}
	if skipped > 0 {
		f.logger.Printf("WARNING: skipped %d short rows in %s", skipped, f.path)
	}
	return items, nil
}

// EncodeCSV renders items in the tabular encoding.
func EncodeCSV(items []item.Item) ([]byte, error) {
	var b strings.Builder
	b.WriteString(CSVHeader)
	b.WriteByte('\n')

	for _, it := range items {
		for _, field := range []string{it.ID, it.Text} {
			if strings.ContainsAny(field, ",\r\n") {
				return nil, fmt.Errorf("%w: item %s contains a delimiter", ErrEncoding, it.ID)
			}
		}

		imp := ""
		if it.Importance != item.Normal {
			imp = string(it.Importance)
		}
		deadline := ""
		if it.Deadline != nil {
			deadline = FormatDate(*it.Deadline)
		}
		modified := ""
		if it.ModificationDate != nil {
			modified = FormatDate(*it.ModificationDate)
		}

		b.WriteString(strings.Join([]string{
			it.ID,
			it.Text,
			strconv.FormatBool(it.IsDone),
			FormatDate(it.CreationDate),
			imp,
			deadline,
			modified,
		}, ","))
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

// DecodeCSV parses the tabular encoding. The first row is always treated as
// the header and skipped. Blank rows and rows with fewer than six fields are
// skipped and counted.
func DecodeCSV(data []byte) (items []item.Item, skipped int, err error) {
	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}

	for n, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < csvMinFields {
			skipped++
			continue
		}
		it, err := fromCSVFields(fields)
		if err != nil {
			// +2: one for the header, one for 1-based line numbers.
			return nil, skipped, fmt.Errorf("%w: line %d: %v", ErrDecoding, n+2, err)
		}
		items = append(items, it)
	}
	return items, skipped, nil
}

func fromCSVFields(fields []string) (item.Item, error) {
	created, err := ParseDate(fields[3])
	if err != nil {
		return item.Item{}, fmt.Errorf("creationDate: %w", err)
	}
	done, err := strconv.ParseBool(fields[2])
	if err != nil {
		done = false
	}

	it := item.Item{
		ID:           fields[0],
		Text:         fields[1],
		IsDone:       done,
		CreationDate: created,
		Importance:   decodeImportance(fields[4]),
	}
	if it.Deadline, err = parseOptionalDate(fields[5]); err != nil {
		return item.Item{}, fmt.Errorf("deadline: %w", err)
	}
	if len(fields) > csvMinFields {
		if it.ModificationDate, err = parseOptionalDate(fields[6]); err != nil {
			return item.Item{}, fmt.Errorf("modificationDate: %w", err)
		}
	}
	return it, nil
}
