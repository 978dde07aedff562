package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// transformValue converts a SQL Server row value to its PostgreSQL
// equivalent before insertion.
func transformValue(val any, col Column) (any, error) {
	if val == nil {
		return nil, nil
	}

	switch col.DataType {
	case "uniqueidentifier":
		return transformUniqueIdentifier(val)

	case "bit":
		switch v := val.(type) {
		case bool:
			return v, nil
		case int64:
			return v != 0, nil
		case []byte:
			return len(v) > 0 && v[0] != 0, nil
		}
		return nil, fmt.Errorf("cannot coerce bit value of type %T to boolean", val)

	case "money", "smallmoney":
		// go-mssqldb scans money as []byte decimal text
		if b, ok := val.([]byte); ok {
			return string(b), nil
		}
		return val, nil

	case "xml", "text", "ntext":
		if b, ok := val.([]byte); ok {
			return string(b), nil
		}
		return val, nil

	case "nvarchar", "varchar", "nchar", "char":
		// PostgreSQL rejects NUL bytes in text
		if s, ok := val.(string); ok && strings.ContainsRune(s, 0) {
			return strings.ReplaceAll(s, "\x00", ""), nil
		}
		return val, nil

	default:
		// Byte slices from the driver are only valid until the next scan;
		// batched rows outlive that, so copy.
		if b, ok := val.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
		return val, nil
	}
}

// transformUniqueIdentifier converts a uniqueidentifier payload to its
// canonical textual UUID. SQL Server stores the first three groups
// little-endian, so the raw 16 bytes must be swapped before formatting.
func transformUniqueIdentifier(val any) (any, error) {
	switch v := val.(type) {
	case string:
		// Driver already produced text form
		if _, err := uuid.Parse(v); err != nil {
			return nil, fmt.Errorf("invalid uniqueidentifier %q: %w", v, err)
		}
		return v, nil
	case []byte:
		if len(v) != 16 {
			return nil, fmt.Errorf("expected 16-byte uniqueidentifier payload, got %d bytes", len(v))
		}
		var swapped [16]byte
		copy(swapped[:], v)
		swapped[0], swapped[1], swapped[2], swapped[3] = v[3], v[2], v[1], v[0]
		swapped[4], swapped[5] = v[5], v[4]
		swapped[6], swapped[7] = v[7], v[6]
		u, err := uuid.FromBytes(swapped[:])
		if err != nil {
			return nil, fmt.Errorf("uniqueidentifier: %w", err)
		}
		return u.String(), nil
	default:
		return nil, fmt.Errorf("cannot coerce uniqueidentifier value of type %T", val)
	}
}
