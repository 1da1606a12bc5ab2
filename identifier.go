package main

import (
	"fmt"
	"strconv"
	"strings"
)

// IdentifierKind classifies a catalog identifier. Kinds are bit flags so that an
// allow-list can be expressed as KindApp|KindSub.
type IdentifierKind uint8

const (
	KindError IdentifierKind = 0
	KindApp   IdentifierKind = 1 << iota
	KindSub
	KindBundle
)

const KindAny = KindApp | KindSub | KindBundle

func (k IdentifierKind) Has(other IdentifierKind) bool {
	return k&other == other
}

func (k IdentifierKind) String() string {
	switch k {
	case KindApp:
		return "App"
	case KindSub:
		return "Sub"
	case KindBundle:
		return "Bundle"
	case KindError:
		return "Error"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// CatalogIdentifier is one parsed token of a user supplied identifier list.
type CatalogIdentifier struct {
	Raw  string
	Kind IdentifierKind
	ID   uint32
}

func (c CatalogIdentifier) Valid() bool {
	return c.Kind != KindError && c.ID != 0
}

func (c CatalogIdentifier) String() string {
	if !c.Valid() {
		return c.Raw
	}
	return fmt.Sprintf("%s/%d", c.Kind, c.ID)
}

var kindAliases = map[string]IdentifierKind{
	"A":      KindApp,
	"APP":    KindApp,
	"S":      KindSub,
	"SUB":    KindSub,
	"B":      KindBundle,
	"BUNDLE": KindBundle,
}

// ParseIdentifiers splits query on commas and classifies every token. Invalid
// tokens are kept as KindError entries so callers can report them positionally.
func ParseIdentifiers(query string, valid, def IdentifierKind) []CatalogIdentifier {
	var result []CatalogIdentifier

	for _, entry := range strings.Split(query, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		result = append(result, parseIdentifier(entry, valid, def))
	}

	return result
}

func parseIdentifier(entry string, valid, def IdentifierKind) CatalogIdentifier {
	failed := CatalogIdentifier{Raw: entry, Kind: KindError}

	kind := def
	number := entry

	if index := strings.IndexByte(entry, '/'); index >= 0 {
		if index == 0 || index == len(entry)-1 {
			return failed
		}

		var ok bool
		kind, ok = kindAliases[strings.ToUpper(entry[:index])]
		if !ok {
			return failed
		}
		number = entry[index+1:]
	}

	id, err := strconv.ParseUint(number, 10, 32)
	if err != nil || id == 0 {
		return failed
	}

	if kind == KindError || !valid.Has(kind) {
		return failed
	}

	return CatalogIdentifier{Raw: entry, Kind: kind, ID: uint32(id)}
}

const (
	steamID32Max   uint64 = 0xFFFFFFFF
	steamID64Delta uint64 = 0x0110000100000000
)

// IsSteamID32 reports whether id fits the short account id form.
func IsSteamID32(id uint64) bool {
	return id <= steamID32Max
}

// IsAccountID reports whether id is a non-zero account id in either form.
// Values between the two ranges do not convert and are rejected.
func IsAccountID(id uint64) bool {
	if id == 0 {
		return false
	}
	return IsSteamID32(id) || (id >= steamID64Delta && id-steamID64Delta <= steamID32Max)
}

// ToSteamID32 converts a 64-bit account id to its 32-bit form. Ids that are
// already 32-bit are returned unchanged.
func ToSteamID32(id uint64) uint64 {
	if IsSteamID32(id) {
		return id
	}
	return id - steamID64Delta
}

// ToSteamID64 is the inverse of ToSteamID32.
func ToSteamID64(id uint64) uint64 {
	if IsSteamID32(id) {
		return id + steamID64Delta
	}
	return id
}

// GifteeLabel renders an account id for operator output, preferring a known
// account name over the bare 32-bit id.
func GifteeLabel(accountID uint64, known map[uint64]string) string {
	id32 := ToSteamID32(accountID)
	id64 := ToSteamID64(accountID)

	if name, ok := known[id64]; ok && name != "" {
		return fmt.Sprintf("%s (%d)", name, id64)
	}
	return fmt.Sprintf("%d (%d)", id32, id64)
}
