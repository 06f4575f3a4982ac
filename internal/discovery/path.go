package discovery

import (
	"fmt"
	"strings"
	"time"
)

// Format is the encoding of a bronze file.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatCSVGzip
	FormatParquet
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatCSVGzip:
		return "csv.gz"
	case FormatParquet:
		return "parquet"
	default:
		return "unknown"
	}
}

// FormatOf returns the format implied by name's extension.
func FormatOf(name string) Format {
	switch {
	case strings.HasSuffix(name, ".csv.gz"):
		return FormatCSVGzip
	case strings.HasSuffix(name, ".csv"):
		return FormatCSV
	case strings.HasSuffix(name, ".parquet"):
		return FormatParquet
	default:
		return FormatUnknown
	}
}

// Partitions holds the Hive partition values of a bronze path.
type Partitions struct {
	Vendor   string
	DataType string
	Exchange string
	Symbol   string
	Date     time.Time
}

var partitionKeys = []string{"vendor", "data_type", "exchange", "symbol", "date"}

// ParsePath extracts partitions from a slash-separated path relative to the
// bronze root. Partition segments may appear at any depth but each key
// must appear exactly once.
func ParsePath(rel string) (Partitions, error) {
	segs := strings.Split(rel, "/")
	if len(segs) < 2 {
		return Partitions{}, fmt.Errorf("path %q: no partitions", rel)
	}

	values := make(map[string]string, len(partitionKeys))
	for _, seg := range segs[:len(segs)-1] {
		k, v, ok := strings.Cut(seg, "=")
		if !ok {
			continue
		}
		if _, dup := values[k]; dup {
			return Partitions{}, fmt.Errorf("path %q: partition %s repeated", rel, k)
		}
		values[k] = v
	}
	for _, k := range partitionKeys {
		if values[k] == "" {
			return Partitions{}, fmt.Errorf("path %q: missing partition %s", rel, k)
		}
	}

	date, err := time.Parse(time.DateOnly, values["date"])
	if err != nil {
		return Partitions{}, fmt.Errorf("path %q: parse date: %w", rel, err)
	}
	return Partitions{
		Vendor:   values["vendor"],
		DataType: values["data_type"],
		Exchange: values["exchange"],
		Symbol:   values["symbol"],
		Date:     date,
	}, nil
}
