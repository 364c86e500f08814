package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var exportNamePattern = regexp.MustCompile(`^queries-[0-9]{13,20}\.parquet$`)

// BuildExportPath returns chats/<chat>/queries-<unix milliseconds>.parquet.
func BuildExportPath(chatID int64, at time.Time) (string, error) {
	if chatID <= 0 {
		return "", fmt.Errorf("chat id must be > 0")
	}
	return path.Join(ExportPrefix(chatID), fmt.Sprintf("queries-%d.parquet", at.UTC().UnixMilli())), nil
}

// ExportPrefix is the key prefix shared by every export of chatID, with a
// trailing slash so chat 1 never matches chat 10.
func ExportPrefix(chatID int64) string {
	return "chats/" + strconv.FormatInt(chatID, 10) + "/"
}

// ExportObjectPath resolves an export file name previously returned by
// BuildExportPath for the same chat.
func ExportObjectPath(chatID int64, name string) (string, error) {
	if chatID <= 0 {
		return "", fmt.Errorf("chat id must be > 0")
	}
	if !exportNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid export name: %q", name)
	}
	return ExportPrefix(chatID) + name, nil
}

// ExportName returns the file name of an export key under chatID, or false
// when key is not an export of that chat.
func ExportName(chatID int64, key string) (string, bool) {
	name, ok := strings.CutPrefix(key, ExportPrefix(chatID))
	if !ok || !exportNamePattern.MatchString(name) {
		return "", false
	}
	return name, true
}

// ExportTime recovers the creation time encoded in an export file name.
func ExportTime(name string) (time.Time, bool) {
	if !exportNamePattern.MatchString(name) {
		return time.Time{}, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, "queries-"), ".parquet")
	ms, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(ms).UTC(), true
}
