package models

import "strings"

// ActiveFileStatus is a set of flags describing an active file.
type ActiveFileStatus uint32

const (
	StatusNone ActiveFileStatus = 0

	// NotDecrypted means no plaintext copy is known to exist.
	NotDecrypted ActiveFileStatus = 1 << (iota - 1)
	// AssumedOpenAndDecrypted means a plaintext copy exists and may be in use.
	AssumedOpenAndDecrypted
	// DecryptedIsPendingDelete means the plaintext copy is due to be wiped.
	DecryptedIsPendingDelete
	// NotShareable means an exclusive open failed; retried next pass.
	NotShareable
	// IgnoreChange suppresses the next re-encryption.
	IgnoreChange
	// Error marks a file whose last operation failed.
	Error
	// NoLongerActive marks a file removed from the session.
	NoLongerActive
)

var statusNames = []struct {
	flag ActiveFileStatus
	name string
}{
	{NotDecrypted, "NotDecrypted"},
	{AssumedOpenAndDecrypted, "AssumedOpenAndDecrypted"},
	{DecryptedIsPendingDelete, "DecryptedIsPendingDelete"},
	{NotShareable, "NotShareable"},
	{IgnoreChange, "IgnoreChange"},
	{Error, "Error"},
	{NoLongerActive, "NoLongerActive"},
}

// Has reports whether every bit of flag is set.
func (s ActiveFileStatus) Has(flag ActiveFileStatus) bool {
	return flag != 0 && s&flag == flag
}

// With returns s with flag set.
func (s ActiveFileStatus) With(flag ActiveFileStatus) ActiveFileStatus {
	return s | flag
}

// Without returns s with flag cleared.
func (s ActiveFileStatus) Without(flag ActiveFileStatus) ActiveFileStatus {
	return s &^ flag
}

func (s ActiveFileStatus) String() string {
	if s == StatusNone {
		return "None"
	}
	var parts []string
	for _, n := range statusNames {
		if s.Has(n.flag) {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
