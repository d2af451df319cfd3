package util

import (
	"errors"
	"regexp"
	"strings"
)

var (
	ErrBadFileName = errors.New("invalid file name")
	ErrBadOwner    = errors.New("invalid owner id")

	ownerKeyPattern = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)
	separators      = strings.NewReplacer("/", "_", "\\", "_")
)

// SanitizeFileName keeps a backend file name as sent, flattening path
// separators so it always lands inside the owner's folder. Dots inside a
// name are kept; only "." and ".." on their own are rejected.
func SanitizeFileName(name string) (string, error) {
	name = separators.Replace(strings.TrimSpace(name))
	switch name {
	case "", ".", "..":
		return "", ErrBadFileName
	}
	return name, nil
}

// OwnerKey checks that a RUC (or other owner id) is safe as a folder name.
func OwnerKey(ownerID string) (string, error) {
	key := strings.TrimSpace(ownerID)
	if !ownerKeyPattern.MatchString(key) {
		return "", ErrBadOwner
	}
	return key, nil
}
